package infra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"checkout-gate/checkout/domain"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeProcessor implementa domain.Processor sobre a API de PaymentIntents.
//
// Os retries automáticos do SDK ficam desligados: cada chamada é limitada
// pelo ctx do orquestrador e a idempotency key é por tentativa.
type StripeProcessor struct {
	api *client.API
}

type StripeConfig struct {
	SecretKey string
	// BaseURL sobrescreve o endpoint da API (testes).
	BaseURL string
	Timeout time.Duration
}

func NewStripeProcessor(cfg StripeConfig) *StripeProcessor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		bc.URL = stripe.String(cfg.BaseURL)
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, bc),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, bc),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, bc),
	})
	return &StripeProcessor{api: api}
}

func (p *StripeProcessor) CardFingerprint(ctx context.Context, paymentMethodToken string) (string, error) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx

	pm, err := p.api.PaymentMethods.Get(paymentMethodToken, params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	if pm.Card == nil || pm.Card.Last4 == "" {
		return "", fmt.Errorf("%w: payment method %s is not a card", domain.ErrUpstreamRejected, pm.ID)
	}
	return pm.Card.Last4, nil
}

func (p *StripeProcessor) CreateAndConfirm(ctx context.Context, req domain.ChargeRequest) (domain.Intent, error) {
	if req.Billing != nil {
		if err := p.attachBilling(ctx, req); err != nil {
			return domain.Intent{}, err
		}
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethodToken),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.Customer.Email != "" {
		params.ReceiptEmail = stripe.String(req.Customer.Email)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return domain.Intent{}, classifyStripeError(err)
	}
	return IntentFromStripe(pi), nil
}

// attachBilling grava o endereço de cobrança no payment method antes da
// confirmação, para entrar na verificação AVS do emissor.
func (p *StripeProcessor) attachBilling(ctx context.Context, req domain.ChargeRequest) error {
	b := req.Billing
	details := &stripe.PaymentMethodBillingDetailsParams{
		Address: &stripe.AddressParams{
			Line1:      stripe.String(b.Line1),
			City:       stripe.String(b.City),
			State:      stripe.String(b.State),
			PostalCode: stripe.String(b.PostalCode),
			Country:    stripe.String(strings.ToUpper(b.Country)),
		},
	}
	if req.Customer.Name != "" {
		details.Name = stripe.String(req.Customer.Name)
	}
	if req.Customer.Email != "" {
		details.Email = stripe.String(req.Customer.Email)
	}

	params := &stripe.PaymentMethodParams{BillingDetails: details}
	params.Context = ctx
	if _, err := p.api.PaymentMethods.Update(req.PaymentMethodToken, params); err != nil {
		return classifyStripeError(err)
	}
	return nil
}

func (p *StripeProcessor) Retrieve(ctx context.Context, intentID string) (domain.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return domain.Intent{}, classifyStripeError(err)
	}
	return IntentFromStripe(pi), nil
}

// IntentFromStripe converte o objeto do SDK (resposta da API ou payload de
// webhook) para o tipo de domínio.
func IntentFromStripe(pi *stripe.PaymentIntent) domain.Intent {
	if pi == nil {
		return domain.Intent{}
	}
	md := make(map[string]string, len(pi.Metadata))
	for k, v := range pi.Metadata {
		md[k] = v
	}
	return domain.Intent{
		ID:           pi.ID,
		Status:       domain.IntentStatus(pi.Status),
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     md,
	}
}

// classifyStripeError traduz o erro do SDK para os sentinels do domínio,
// mantendo a mensagem original no wrap para o log.
func classifyStripeError(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		switch {
		case serr.Type == stripe.ErrorTypeCard:
			return fmt.Errorf("%w: %s", domain.ErrCardDeclined, serr.Code)
		case serr.HTTPStatusCode == http.StatusTooManyRequests || serr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: status %d", domain.ErrUpstreamUnreachable, serr.HTTPStatusCode)
		default:
			return fmt.Errorf("%w: %s %s", domain.ErrUpstreamRejected, serr.Type, serr.Code)
		}
	}
	// timeout, ctx cancelado, falha de rede
	return fmt.Errorf("%w: %v", domain.ErrUpstreamUnreachable, err)
}
