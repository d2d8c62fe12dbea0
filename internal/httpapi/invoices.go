package httpapi

import (
	"net/http"
	"strings"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/domain"
	"banhang/backend/internal/service"
)

type promotionPreviewRequest struct {
	Code     string            `json:"code"`
	BranchID int64             `json:"branch_id"`
	Items    []domain.CartItem `json:"items"`
}

type paymentRequest struct {
	ReturnURL string `json:"return_url"`
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	req.EmployeeID, req.BranchID = withActorDefaults(actor, req.EmployeeID, req.BranchID)

	invoice, err := a.invoices.Checkout(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (a *API) handleHold(w http.ResponseWriter, r *http.Request) {
	var req domain.HoldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	req.EmployeeID, req.BranchID = withActorDefaults(actor, req.EmployeeID, req.BranchID)

	invoice, err := a.invoices.HoldBill(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (a *API) handleInvoiceGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	invoice, err := a.invoices.GetInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// handleInvoiceList serves ?date=, ?from=&to= or ?customer_id=, in that order.
func (a *API) handleInvoiceList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var (
		invoices []domain.Invoice
		err      error
	)
	switch {
	case strings.TrimSpace(query.Get("date")) != "":
		day, parseErr := queryDate(r, "date")
		if parseErr != nil {
			writeServiceError(w, parseErr)
			return
		}
		invoices, err = a.invoices.GetInvoicesByDate(r.Context(), day)
	case query.Has("from") || query.Has("to"):
		from, parseErr := queryDate(r, "from")
		if parseErr != nil {
			writeServiceError(w, parseErr)
			return
		}
		to, parseErr := queryDate(r, "to")
		if parseErr != nil {
			writeServiceError(w, parseErr)
			return
		}
		invoices, err = a.invoices.GetInvoicesByDateRange(r.Context(), from, to)
	case strings.TrimSpace(query.Get("customer_id")) != "":
		customerID, parseErr := queryInt64(r, "customer_id")
		if parseErr != nil {
			writeServiceError(w, parseErr)
			return
		}
		invoices, err = a.invoices.GetInvoicesByCustomer(r.Context(), customerID)
	default:
		writeServiceError(w, apperror.Validation("", "one of date, from/to or customer_id is required"))
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": invoices})
}

func (a *API) handleCustomerInvoices(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	invoices, err := a.invoices.GetInvoicesByCustomer(r.Context(), customerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": invoices})
}

func (a *API) handlePendingList(w http.ResponseWriter, r *http.Request) {
	branchID, err := queryInt64(r, "branch_id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	invoices, err := a.invoices.GetPendingInvoices(r.Context(), branchID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": invoices})
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	invoice, err := a.invoices.ResumePendingInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (a *API) handleUpdatePending(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req domain.UpdatePendingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	invoice, err := a.invoices.UpdatePendingInvoice(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (a *API) handleCompletePending(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req domain.CompletePendingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	invoice, err := a.invoices.CompletePendingInvoice(r.Context(), id, req.PaymentMethod)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (a *API) handleCancelPending(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	invoice, err := a.invoices.CancelPendingInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (a *API) handleCancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	invoice, err := a.invoices.CancelInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (a *API) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.invoices.InitiatePayment(r.Context(), id, service.PaymentRequest{
		ReturnURL: strings.TrimSpace(req.ReturnURL),
		ClientIP:  clientIP(r),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handlePromotionPreview(w http.ResponseWriter, r *http.Request) {
	var req promotionPreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	_, req.BranchID = withActorDefaults(actor, 0, req.BranchID)

	applied, err := a.invoices.PreviewPromotion(r.Context(), req.Code, req.BranchID, req.Items)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applicable": applied != nil,
		"promotion":  applied,
	})
}

func withActorDefaults(actor domain.Actor, employeeID int64, branchID int64) (int64, int64) {
	if employeeID == 0 {
		employeeID = actor.EmployeeID
	}
	if branchID == 0 {
		branchID = actor.BranchID
	}
	return employeeID, branchID
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
