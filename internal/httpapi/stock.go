package httpapi

import (
	"context"
	"net/http"

	"banhang/backend/internal/domain"
	"banhang/backend/internal/pagination"
	"banhang/backend/internal/service"
)

func (a *API) handleStockReceive(w http.ResponseWriter, r *http.Request) {
	var req domain.MovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.EmployeeID = actorEmployee(r, req.EmployeeID)

	entry, err := a.ledger.Receive(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleStockIssue(w http.ResponseWriter, r *http.Request) {
	var req domain.MovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.EmployeeID = actorEmployee(r, req.EmployeeID)

	entry, err := a.ledger.Issue(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleStockAdjust(w http.ResponseWriter, r *http.Request) {
	var req domain.AdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.EmployeeID = actorEmployee(r, req.EmployeeID)

	entry, err := a.ledger.Adjust(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleStockBatchReceive(w http.ResponseWriter, r *http.Request) {
	a.handleStockBatch(w, r, a.ledger.BatchReceive)
}

func (a *API) handleStockBatchIssue(w http.ResponseWriter, r *http.Request) {
	a.handleStockBatch(w, r, a.ledger.BatchIssue)
}

func (a *API) handleStockBatch(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, req domain.BatchRequest) ([]domain.StockTransaction, error)) {
	var req domain.BatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.EmployeeID = actorEmployee(r, req.EmployeeID)

	entries, err := run(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": entries})
}

func (a *API) handleStockReverse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	result, err := a.ledger.Reverse(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleStockHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var filter domain.StockFilter
	ingredientID, err := queryInt64(r, "ingredient_id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if ingredientID > 0 {
		filter.IngredientID = &ingredientID
	}
	filter.Kind = domain.StockKind(query.Get("kind"))

	page := pagination.Params{
		Page:    parsePositiveLimit(query.Get("page"), 1, 0),
		PerPage: parsePositiveLimit(query.Get("per_page"), pagination.DefaultPerPage, pagination.MaxPerPage),
	}
	result, err := a.ledger.History(r.Context(), filter, page)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func actorEmployee(r *http.Request, employeeID int64) int64 {
	if employeeID != 0 {
		return employeeID
	}
	actor, _ := service.ActorFromContext(r.Context())
	return actor.EmployeeID
}
