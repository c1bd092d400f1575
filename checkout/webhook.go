package checkout

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"checkout-gate/checkout/domain"
	"checkout-gate/checkout/infra"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const maxWebhookBodySize = 512 << 10

// SucceededIntentHandler recebe intents confirmados pelo processador.
type SucceededIntentHandler interface {
	HandleSucceededIntent(ctx context.Context, intent domain.Intent)
}

// StripeWebhook verifica a assinatura dos eventos e repassa
// payment_intent.succeeded ao registro de vendas. Os demais eventos
// relevantes só vão para o log.
type StripeWebhook struct {
	Secret  string
	Intents SucceededIntentHandler
	Logger  *log.Logger
}

func (s *StripeWebhook) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (s *StripeWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid body")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), s.Secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logf("[webhook] invalid signature: %v", err)
		respondError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			s.logf("[webhook] decode payment_intent event=%s: %v", event.ID, err)
			respondError(w, http.StatusBadRequest, "Invalid event payload")
			return
		}
		s.logf("[webhook] payment_intent.succeeded intent=%s", pi.ID)
		if s.Intents != nil {
			s.Intents.HandleSucceededIntent(r.Context(), infra.IntentFromStripe(&pi))
		}
	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err == nil {
			reason := ""
			if pi.LastPaymentError != nil {
				reason = string(pi.LastPaymentError.Code)
			}
			s.logf("[webhook] payment_intent.payment_failed intent=%s code=%s", pi.ID, reason)
		}
	case "charge.refunded", "charge.dispute.created", "charge.dispute.closed":
		s.logf("[webhook] %s event=%s", event.Type, event.ID)
	default:
		s.logf("[webhook] ignored event type=%s", event.Type)
	}

	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
