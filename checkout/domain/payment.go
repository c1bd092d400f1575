package domain

import (
	"context"
	"errors"
	"time"
)

// Erros que o Processor devolve já classificados. O orquestrador converte
// cada um num Outcome; o cliente nunca vê o erro bruto do processador.
var (
	ErrCardDeclined        = errors.New("card declined")
	ErrUpstreamUnreachable = errors.New("upstream processor unreachable")
	ErrUpstreamRejected    = errors.New("upstream processor rejected the request")
)

// FailureReason é o motivo estável devolvido em Failed.
type FailureReason string

const (
	FailCardDeclined          FailureReason = "card_declined"
	FailUpstreamUnreachable   FailureReason = "upstream_unreachable"
	FailUpstreamUnknownStatus FailureReason = "upstream_unknown_status"
	FailUpstreamRejected      FailureReason = "upstream_rejected"
	FailAuthentication        FailureReason = "authentication_failed"
	FailCanceled              FailureReason = "canceled"
)

type OutcomeStatus string

const (
	OutcomeSucceeded      OutcomeStatus = "succeeded"
	OutcomeRequiresAction OutcomeStatus = "requires_action"
	OutcomePending        OutcomeStatus = "pending"
	OutcomeFailed         OutcomeStatus = "failed"
	OutcomeRateLimited    OutcomeStatus = "rate_limited"
)

// Outcome é a união devolvida pelo orquestrador. Só vive durante a
// requisição; o que persiste é o AttemptRecord.
type Outcome struct {
	Status       OutcomeStatus
	IntentID     string
	ClientSecret string
	Reason       FailureReason
	RetryAfter   time.Duration
}

func Succeeded(intentID string) Outcome {
	return Outcome{Status: OutcomeSucceeded, IntentID: intentID}
}

func RequiresAction(intentID, clientSecret string) Outcome {
	return Outcome{Status: OutcomeRequiresAction, IntentID: intentID, ClientSecret: clientSecret}
}

func Pending(intentID string) Outcome {
	return Outcome{Status: OutcomePending, IntentID: intentID}
}

func Failed(reason FailureReason) Outcome {
	return Outcome{Status: OutcomeFailed, Reason: reason}
}

func RateLimited(retryAfter time.Duration) Outcome {
	return Outcome{Status: OutcomeRateLimited, RetryAfter: retryAfter}
}

// Retryable indica falhas transitórias em que repetir é seguro.
func (o Outcome) Retryable() bool {
	return o.Status == OutcomeFailed && o.Reason == FailUpstreamUnreachable
}

// IntentStatus espelha os status do payment intent no processador.
type IntentStatus string

const (
	IntentSucceeded             IntentStatus = "succeeded"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentRequiresSourceAction  IntentStatus = "requires_source_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentCanceled              IntentStatus = "canceled"
)

type Intent struct {
	ID           string
	Status       IntentStatus
	ClientSecret string
	AmountCents  int64
	Currency     string
	Metadata     map[string]string
}

type Customer struct {
	Name  string
	Email string
}

// BillingAddress vai para o processador apenas como sinal de AVS.
type BillingAddress struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type ChargeRequest struct {
	PaymentMethodToken string
	AmountCents        int64
	Currency           string
	Customer           Customer
	Billing            *BillingAddress
	Metadata           map[string]string
	IdempotencyKey     string
}

// Processor é o processador de cartões (upstream).
type Processor interface {
	// CardFingerprint resolve a impressão fraca do cartão (últimos 4 dígitos).
	CardFingerprint(ctx context.Context, paymentMethodToken string) (string, error)
	// CreateAndConfirm cria e confirma o intent numa única chamada.
	CreateAndConfirm(ctx context.Context, req ChargeRequest) (Intent, error)
	// Retrieve relê o intent; usado para retomar depois do desafio 3DS.
	Retrieve(ctx context.Context, intentID string) (Intent, error)
}

// Sale é o que o sistema de atribuição recebe por cobrança bem-sucedida.
type Sale struct {
	IntentID       string
	Customer       Customer
	AmountCents    int64
	Currency       string
	ProductName    string
	TrackingParams map[string]string
	ApprovedAt     time.Time
}

// SaleNotifier dispara o registro da venda. Não devolve erro: falhas são
// registradas em log e nunca chegam ao resultado do pagamento.
type SaleNotifier interface {
	RegisterSale(ctx context.Context, sale Sale)
}

// SeenSet deduplica registros de venda por intent.
//
// Claim devolve true apenas para o primeiro chamador de um id.
// Release desfaz o claim quando o envio falha, permitindo nova tentativa.
type SeenSet interface {
	Claim(ctx context.Context, intentID string) (bool, error)
	Release(ctx context.Context, intentID string) error
}

// AttributionClient envia a venda ao sistema externo de atribuição.
type AttributionClient interface {
	SendSale(ctx context.Context, sale Sale) error
}

// TrackingKeys são os parâmetros de rastreamento aceitos e repassados.
var TrackingKeys = []string{"src", "sck", "utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term"}
