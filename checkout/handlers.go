package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"checkout-gate/checkout/application"
	"checkout-gate/checkout/domain"
)

// Mensagens devolvidas ao cliente. Nunca repassam o erro bruto do processador
// e nunca dizem qual regra do gate negou.
const (
	msgRateLimited     = "Too many payment attempts. Please try again later."
	msgCardDeclined    = "Your card was declined. Please try a different card."
	msgUnreachable     = "We could not reach the payment processor. Please try again."
	msgRejected        = "The payment could not be processed. Please check your details."
	msgAuthentication  = "Card authentication failed. Please try again or use a different card."
	msgCanceled        = "The payment was canceled."
	msgUnknownStatus   = "The payment could not be completed."
	msgInvalidJSON     = "Invalid request body"
	msgInvalidRequest  = "Invalid payment details"
	maxRequestBodySize = 64 << 10
)

// PaymentService é o que os handlers precisam do orquestrador.
type PaymentService interface {
	Submit(ctx context.Context, req application.SubmitRequest) (domain.Outcome, error)
	ConfirmAfterChallenge(ctx context.Context, intentID string) (domain.Outcome, error)
}

type Handlers struct {
	Payments PaymentService
	KeyFn    KeyFunc
	// Ready confere as dependências (banco, redis). nil significa sempre pronto.
	Ready  func(ctx context.Context) error
	Logger *log.Logger
}

func (h *Handlers) logf(format string, args ...any) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

type billingAddressRequest struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type submitRequest struct {
	PaymentMethodToken string                 `json:"paymentMethodToken"`
	AmountCents        int64                  `json:"amountCents"`
	Currency           string                 `json:"currency"`
	Email              string                 `json:"email"`
	Name               string                 `json:"name"`
	BillingAddress     *billingAddressRequest `json:"billingAddress,omitempty"`
	TrackingParams     map[string]string      `json:"trackingParams,omitempty"`
}

type confirmRequest struct {
	ChargeID string `json:"chargeId"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(dst)
}

func (h *Handlers) clientIP(r *http.Request) string {
	if h.KeyFn != nil {
		return h.KeyFn(r)
	}
	return ClientIPFunc("", false)(r)
}

// HandleSubmit atende POST /api/payments.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	req := application.SubmitRequest{
		PaymentMethodToken: body.PaymentMethodToken,
		AmountCents:        body.AmountCents,
		Currency:           body.Currency,
		Email:              body.Email,
		Name:               body.Name,
		TrackingParams:     body.TrackingParams,
		IP:                 h.clientIP(r),
	}
	if b := body.BillingAddress; b != nil {
		req.Billing = &domain.BillingAddress{
			Line1:      b.Line1,
			City:       b.City,
			State:      b.State,
			PostalCode: b.PostalCode,
			Country:    b.Country,
		}
	}

	out, err := h.Payments.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeOutcome(w, out)
}

// HandleConfirm atende POST /api/payments/confirm, depois do desafio 3DS.
func (h *Handlers) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var body confirmRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	out, err := h.Payments.ConfirmAfterChallenge(r.Context(), strings.TrimSpace(body.ChargeID))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeOutcome(w, out)
}

// HandleReady atende GET /api/ready.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			h.logf("[http] not ready: %v", err)
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	if !domain.IsValidationError(err) {
		h.logf("[http] unexpected error: %v", err)
		respondError(w, http.StatusInternalServerError, msgUnknownStatus)
		return
	}

	fields := []string{err.Error()}
	var many *domain.ValidationErrors
	if errors.As(err, &many) {
		fields = many.Messages()
	}
	respondJSON(w, http.StatusBadRequest, map[string]any{
		"error":  msgInvalidRequest,
		"fields": fields,
	})
}

func (h *Handlers) writeOutcome(w http.ResponseWriter, out domain.Outcome) {
	switch out.Status {
	case domain.OutcomeSucceeded:
		respondJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"chargeId": out.IntentID,
		})
	case domain.OutcomeRequiresAction:
		respondJSON(w, http.StatusOK, map[string]any{
			"requiresAction": true,
			"chargeId":       out.IntentID,
			"clientSecret":   out.ClientSecret,
		})
	case domain.OutcomePending:
		respondJSON(w, http.StatusAccepted, map[string]any{
			"pending":  true,
			"chargeId": out.IntentID,
		})
	case domain.OutcomeRateLimited:
		w.Header().Set("Retry-After", formatInt(retryAfterSeconds(out.RetryAfter)))
		respondJSON(w, http.StatusTooManyRequests, map[string]any{
			"rateLimited": true,
			"error":       msgRateLimited,
		})
	default:
		respondJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":     failureMessage(out.Reason),
			"retryable": out.Retryable(),
		})
	}
}

func failureMessage(reason domain.FailureReason) string {
	switch reason {
	case domain.FailCardDeclined:
		return msgCardDeclined
	case domain.FailUpstreamUnreachable:
		return msgUnreachable
	case domain.FailUpstreamRejected:
		return msgRejected
	case domain.FailAuthentication:
		return msgAuthentication
	case domain.FailCanceled:
		return msgCanceled
	default:
		return msgUnknownStatus
	}
}
