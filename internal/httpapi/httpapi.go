package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/ledger"
	"banhang/backend/internal/payment"
	"banhang/backend/internal/service"
)

type API struct {
	invoices      *service.Service
	ledger        *ledger.Service
	auth          *AuthManager
	vnpay         *payment.VNPayGateway
	allowedOrigin string
	log           *zap.Logger
}

func New(invoices *service.Service, stock *ledger.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		invoices:      invoices,
		ledger:        stock,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		log:           zap.L().Named("http"),
	}
}

// WithVNPay enables the VNPay return endpoint.
func (a *API) WithVNPay(gw *payment.VNPayGateway) *API {
	a.vnpay = gw
	return a
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.withMiddleware)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", a.requireAuth(a.handleCheckout, roleCashier, roleManager, roleAdmin))
		r.Post("/promotions/apply", a.requireAuth(a.handlePromotionPreview, roleCashier, roleManager, roleAdmin))

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", a.requireAuth(a.handleInvoiceList, roleCashier, roleManager, roleAdmin))
			r.Post("/hold", a.requireAuth(a.handleHold, roleCashier, roleManager, roleAdmin))
			r.Get("/pending", a.requireAuth(a.handlePendingList, roleCashier, roleManager, roleAdmin))
			r.Get("/{id}", a.requireAuth(a.handleInvoiceGet, roleCashier, roleManager, roleAdmin))
			r.Get("/{id}/resume", a.requireAuth(a.handleResume, roleCashier, roleManager, roleAdmin))
			r.Put("/{id}/lines", a.requireAuth(a.handleUpdatePending, roleCashier, roleManager, roleAdmin))
			r.Post("/{id}/complete", a.requireAuth(a.handleCompletePending, roleCashier, roleManager, roleAdmin))
			r.Post("/{id}/cancel-pending", a.requireAuth(a.handleCancelPending, roleCashier, roleManager, roleAdmin))
			r.Post("/{id}/cancel", a.requireAuth(a.handleCancelInvoice, roleManager, roleAdmin))
			r.Post("/{id}/payments", a.requireAuth(a.handleInitiatePayment, roleCashier, roleManager, roleAdmin))
		})
		r.Get("/customers/{id}/invoices", a.requireAuth(a.handleCustomerInvoices, roleCashier, roleManager, roleAdmin))

		r.Route("/stock", func(r chi.Router) {
			r.Get("/transactions", a.requireAuth(a.handleStockHistory, roleManager, roleAdmin))
			r.Delete("/transactions/{id}", a.requireAuth(a.handleStockReverse, roleManager, roleAdmin))
			r.Post("/receive", a.requireAuth(a.handleStockReceive, roleManager, roleAdmin))
			r.Post("/issue", a.requireAuth(a.handleStockIssue, roleManager, roleAdmin))
			r.Post("/adjust", a.requireAuth(a.handleStockAdjust, roleManager, roleAdmin))
			r.Post("/batch-receive", a.requireAuth(a.handleStockBatchReceive, roleManager, roleAdmin))
			r.Post("/batch-issue", a.requireAuth(a.handleStockBatchIssue, roleManager, roleAdmin))
		})

		r.Get("/payments/vnpay/return", a.handleVNPayReturn)
	})

	return r
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleVNPayReturn(w http.ResponseWriter, r *http.Request) {
	if a.vnpay == nil {
		writeError(w, http.StatusNotFound, errors.New("vnpay is not enabled"))
		return
	}
	query := r.URL.Query()
	if !a.vnpay.VerifyReturn(query) {
		writeError(w, http.StatusBadRequest, errors.New("invalid vnpay signature"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"txn_ref":       query.Get("vnp_TxnRef"),
		"response_code": query.Get("vnp_ResponseCode"),
		"success":       query.Get("vnp_ResponseCode") == "00",
	})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(startedAt)))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := cast.ToInt64E(chi.URLParam(r, name))
	if err != nil || id < 1 {
		return 0, apperror.Validation("", "%s must be a positive integer", name)
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	val, err := cast.ToInt64E(raw)
	if err != nil || val < 0 {
		return 0, apperror.Validation("", "%s must be a non-negative integer", name)
	}
	return val, nil
}

func queryDate(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	at, err := cast.ToTimeInDefaultLocationE(raw, time.UTC)
	if err != nil {
		return time.Time{}, apperror.Validation(apperror.CodeInvalidDateRange, "%s is not a date", name)
	}
	return at, nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := cast.ToIntE(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeServiceError maps domain errors to their status and code. Anything that
// is not a domain error is treated as an internal failure.
func writeServiceError(w http.ResponseWriter, err error) {
	if appErr, ok := apperror.As(err); ok {
		writeJSON(w, appErr.Status(), map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	code := strings.ReplaceAll(strings.ToUpper(http.StatusText(status)), " ", "_")
	if status >= 500 {
		zap.L().Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
		code = "INTERNAL"
	}
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
