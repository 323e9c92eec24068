package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strings"
	"time"

	"viabill-be/internal/logger"
	"viabill-be/internal/order"
	"viabill-be/internal/payment"
	"viabill-be/internal/utils"
	"viabill-be/internal/viabill"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Accounts is the merchant account surface of *viabill.Client.
type Accounts interface {
	Login(ctx context.Context, in viabill.LoginRequest) (*viabill.Account, error)
	Register(ctx context.Context, in viabill.RegisterRequest) (*viabill.Account, error)
	MyViaBill(ctx context.Context) (string, error)
	Notifications(ctx context.Context, in viabill.NotificationsRequest) ([]string, error)
}

type Handler struct {
	payments payment.Service
	accounts Accounts
	urls     payment.CheckoutURLs
	platform viabill.NotificationsRequest
}

// NewHandler derives the checkout return and callback URLs from the
// service's public base URL. moduleVersion is reported to the gateway
// alongside the running Go version when fetching notifications.
func NewHandler(payments payment.Service, accounts Accounts, publicBaseURL, moduleVersion string) *Handler {
	base := strings.TrimRight(publicBaseURL, "/")
	return &Handler{
		payments: payments,
		accounts: accounts,
		urls: payment.CheckoutURLs{
			Success:  base + "/checkout/success",
			Cancel:   base + "/checkout/cancel",
			Callback: base + "/viabill/callback",
		},
		platform: viabill.NotificationsRequest{
			Platform:        "golang",
			PlatformVersion: strings.TrimPrefix(runtime.Version(), "go"),
			ModuleVersion:   moduleVersion,
		},
	}
}

// Register mounts the admin routes on mux, each wrapped by guard.
func (h *Handler) Register(mux *http.ServeMux, guard func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"POST /admin/orders/{id}/checkout":  h.Checkout,
		"POST /admin/payments/{id}/capture": h.Capture,
		"POST /admin/payments/{id}/void":    h.Void,
		"POST /admin/payments/{id}/refund":  h.Refund,
		"POST /admin/payments/{id}/renew":   h.Renew,
		"GET /admin/payments/{id}/status":   h.Status,
		"POST /admin/viabill/login":         h.Login,
		"POST /admin/viabill/register":      h.RegisterAccount,
		"GET /admin/viabill/myviabill":      h.MyViaBill,
		"GET /admin/viabill/notifications":  h.Notifications,
	}
	for pattern, fn := range routes {
		mux.Handle(pattern, guard(fn))
	}
}

// ----------------- Payments -----------------

type checkoutInput struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var in checkoutInput
	if !decodeOptional(w, r, &in) {
		return
	}

	urls := h.urls
	if in.SuccessURL != "" {
		urls.Success = in.SuccessURL
	}
	if in.CancelURL != "" {
		urls.Cancel = in.CancelURL
	}

	res, err := h.payments.StartCheckout(r.Context(), id, urls)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	utils.WriteJSON(w, map[string]string{"redirect_url": res.RedirectURL}, http.StatusOK)
}

type amountInput struct {
	Amount *decimal.Decimal `json:"amount"`
}

func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	h.withAmount(w, r, h.payments.Capture)
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	h.withAmount(w, r, h.payments.Refund)
}

func (h *Handler) withAmount(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, id uint, amount *decimal.Decimal) (*payment.Payment, error),
) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var in amountInput
	if !decodeOptional(w, r, &in) {
		return
	}

	p, err := action(r.Context(), id, in.Amount)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	utils.WriteJSON(w, toPaymentView(p), http.StatusOK)
}

func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	p, err := h.payments.Void(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	utils.WriteJSON(w, toPaymentView(p), http.StatusOK)
}

func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	res, err := h.payments.Renew(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	utils.WriteJSON(w, map[string]any{"status_code": res.StatusCode, "message": res.Message}, http.StatusOK)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	status, err := h.payments.Status(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	utils.WriteJSON(w, status, http.StatusOK)
}

type paymentView struct {
	ID             uint       `json:"id"`
	OrderID        uint       `json:"order_id"`
	Transaction    string     `json:"transaction"`
	State          string     `json:"state"`
	Amount         string     `json:"amount"`
	CapturedAmount string     `json:"captured_amount"`
	RefundedAmount string     `json:"refunded_amount"`
	Currency       string     `json:"currency"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func toPaymentView(p *payment.Payment) paymentView {
	return paymentView{
		ID:             p.ID,
		OrderID:        p.OrderID,
		Transaction:    p.RemoteID,
		State:          string(p.State),
		Amount:         viabill.FormatAmount(p.Amount),
		CapturedAmount: viabill.FormatAmount(p.CapturedAmount),
		RefundedAmount: viabill.FormatAmount(p.RefundedAmount),
		Currency:       p.Currency,
		CompletedAt:    p.CompletedAt,
	}
}

// ----------------- Account -----------------

type loginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in loginInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.WriteJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	acc, err := h.accounts.Login(r.Context(), viabill.LoginRequest{Email: in.Email, Password: in.Password})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	utils.WriteJSON(w, toAccountView(acc), http.StatusOK)
}

type registerInput struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	Country        string `json:"country"`
	TaxID          string `json:"tax_id"`
	AdditionalInfo string `json:"additional_info"`
}

func (h *Handler) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	var in registerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.WriteJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	if in.Country != "" && !viabill.ValidCountry(in.Country) {
		utils.WriteJSONError(w, "country must be an ISO 3166-1 alpha-2 code", http.StatusBadRequest)
		return
	}

	acc, err := h.accounts.Register(r.Context(), viabill.RegisterRequest{
		Email:          in.Email,
		Name:           in.Name,
		URL:            in.URL,
		Country:        in.Country,
		TaxID:          in.TaxID,
		AdditionalInfo: in.AdditionalInfo,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	utils.WriteJSON(w, toAccountView(acc), http.StatusCreated)
}

type accountView struct {
	Key            string `json:"key"`
	Secret         string `json:"secret"`
	PricetagScript string `json:"pricetag_script,omitempty"`
}

func toAccountView(acc *viabill.Account) accountView {
	return accountView{Key: acc.Key, Secret: acc.Secret, PricetagScript: acc.PricetagScript}
}

func (h *Handler) MyViaBill(w http.ResponseWriter, r *http.Request) {
	url, err := h.accounts.MyViaBill(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	utils.WriteJSON(w, map[string]string{"url": url}, http.StatusOK)
}

func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	messages, err := h.accounts.Notifications(r.Context(), h.platform)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if messages == nil {
		messages = []string{}
	}
	utils.WriteJSON(w, map[string][]string{"messages": messages}, http.StatusOK)
}

// ----------------- Helpers -----------------

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := utils.ToUint(r.PathValue("id"))
	if err != nil || id == 0 {
		utils.WriteJSONError(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.WriteJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return false
	}
	return true
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code, msg := statusFor(err)
	log := logger.FromCtx(ctx)
	if code >= http.StatusInternalServerError {
		log.Error("Admin request failed", zap.Error(err))
	} else {
		log.Warn("Admin request rejected", zap.Error(err))
	}
	utils.WriteJSONError(w, msg, code)
}

func statusFor(err error) (int, string) {
	var (
		gwErr  *viabill.GatewayError
		apiErr *viabill.APIError
	)

	switch {
	case errors.Is(err, payment.ErrOrderNotFound), errors.Is(err, payment.ErrPaymentNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, viabill.ErrMissingRequiredField),
		errors.Is(err, viabill.ErrMissingSignatureField):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, payment.ErrInvalidPaymentState),
		errors.Is(err, payment.ErrOrderNotPayable),
		errors.Is(err, payment.ErrStaleState),
		errors.Is(err, order.ErrStaleState):
		return http.StatusConflict, err.Error()
	case errors.As(err, &apiErr):
		return http.StatusUnprocessableEntity, apiErr.Message
	case errors.As(err, &gwErr),
		errors.Is(err, viabill.ErrRequestFailed),
		errors.Is(err, viabill.ErrRedirectMissing):
		return http.StatusBadGateway, "gateway request failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
