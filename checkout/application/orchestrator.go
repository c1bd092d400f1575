package application

import (
	"context"
	"errors"
	"log"
	"time"

	"checkout-gate/checkout/domain"

	"github.com/google/uuid"
)

// PaymentOrchestrator conduz uma tentativa do gate até um Outcome terminal
// (ou até o desafio 3DS, que é retomado por ConfirmAfterChallenge).
//
// Não guarda estado entre chamadas: a continuação do 3DS é só o id do intent.
type PaymentOrchestrator struct {
	Limiter   RateLimiter
	Processor domain.Processor
	Registrar domain.SaleNotifier
	Slots     UpstreamSlots
	Catalog   domain.Catalog

	// ProcessorTimeout limita cada chamada ao processador. Estourar conta
	// como upstream_unreachable.
	ProcessorTimeout time.Duration

	Logger *log.Logger
	Now    func() time.Time
}

func (o *PaymentOrchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *PaymentOrchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (o *PaymentOrchestrator) catalog() domain.Catalog {
	if len(o.Catalog) == 0 {
		return domain.DefaultCatalog()
	}
	return o.Catalog
}

// Submit executa uma tentativa de cobrança.
//
// O erro só é devolvido para entrada inválida (*domain.ValidationError /
// *domain.ValidationErrors); nesse caso nenhuma tentativa é gravada.
// Todo o resto vira Outcome.
func (o *PaymentOrchestrator) Submit(ctx context.Context, req SubmitRequest) (domain.Outcome, error) {
	pkg, err := ValidateSubmit(req, o.catalog())
	if err != nil {
		return domain.Outcome{}, err
	}

	var fingerprint string
	err = o.upstream(ctx, func(ctx context.Context) error {
		var ferr error
		fingerprint, ferr = o.Processor.CardFingerprint(ctx, req.PaymentMethodToken)
		return ferr
	})
	if err != nil {
		reason := failureFor(err)
		o.logf("[payments] fingerprint failed reason=%s ip=%s: %v", reason, req.IP, err)
		// token recusado conta contra IP/email; queda do processador não
		if reason != domain.FailUpstreamUnreachable {
			partial := domain.Identity{IP: req.IP, Email: req.Email}.Normalize()
			if rerr := o.Limiter.RecordAttempt(ctx, partial, domain.AttemptBlocked); rerr != nil {
				o.logf("[payments] record rejected token ip=%s: %v", partial.IP, rerr)
			}
		}
		return domain.Failed(reason), nil
	}

	id := domain.Identity{IP: req.IP, Email: req.Email, CardFingerprint: fingerprint}.Normalize()
	dec := o.Limiter.Admit(ctx, id)
	if !dec.Allowed {
		return domain.RateLimited(dec.RetryAfter), nil
	}

	charge := domain.ChargeRequest{
		PaymentMethodToken: req.PaymentMethodToken,
		AmountCents:        pkg.AmountCents,
		Currency:           supportedCurrency,
		Customer:           domain.Customer{Name: req.Name, Email: id.Email},
		Billing:            req.Billing,
		Metadata:           intentMetadata(req, pkg),
		IdempotencyKey:     uuid.NewString(),
	}

	var intent domain.Intent
	err = o.upstream(ctx, func(ctx context.Context) error {
		var cerr error
		intent, cerr = o.Processor.CreateAndConfirm(ctx, charge)
		return cerr
	})
	if err != nil {
		reason := failureFor(err)
		o.logf("[payments] charge failed reason=%s ip=%s card=%s: %v", reason, id.IP, id.CardFingerprint, err)
		return domain.Failed(reason), nil
	}

	if intent.Metadata == nil {
		intent.Metadata = charge.Metadata
	}
	if intent.AmountCents == 0 {
		intent.AmountCents = pkg.AmountCents
	}

	o.logf("[payments] intent=%s status=%s", intent.ID, intent.Status)

	switch intent.Status {
	case domain.IntentSucceeded:
		o.register(ctx, intent)
		return domain.Succeeded(intent.ID), nil
	case domain.IntentRequiresAction, domain.IntentRequiresSourceAction:
		return domain.RequiresAction(intent.ID, intent.ClientSecret), nil
	case domain.IntentProcessing:
		return domain.Pending(intent.ID), nil
	case domain.IntentRequiresPaymentMethod:
		return domain.Failed(domain.FailCardDeclined), nil
	case domain.IntentCanceled:
		return domain.Failed(domain.FailCanceled), nil
	default:
		o.logf("[payments] unknown status intent=%s status=%q", intent.ID, intent.Status)
		return domain.Failed(domain.FailUpstreamUnknownStatus), nil
	}
}

// ConfirmAfterChallenge retoma o fluxo depois do desafio 3DS, só com o id do
// intent. O intent é relido no processador; nada do cliente é confiado.
func (o *PaymentOrchestrator) ConfirmAfterChallenge(ctx context.Context, intentID string) (domain.Outcome, error) {
	if intentID == "" {
		return domain.Outcome{}, domain.NewValidationError("chargeId", "is required")
	}

	var intent domain.Intent
	err := o.upstream(ctx, func(ctx context.Context) error {
		var rerr error
		intent, rerr = o.Processor.Retrieve(ctx, intentID)
		return rerr
	})
	if err != nil {
		reason := failureFor(err)
		o.logf("[payments] confirm failed intent=%s reason=%s: %v", intentID, reason, err)
		return domain.Failed(reason), nil
	}

	switch intent.Status {
	case domain.IntentSucceeded:
		o.register(ctx, intent)
		return domain.Succeeded(intent.ID), nil
	case domain.IntentProcessing:
		return domain.Pending(intent.ID), nil
	case domain.IntentRequiresPaymentMethod, domain.IntentRequiresAction, domain.IntentRequiresSourceAction:
		return domain.Failed(domain.FailAuthentication), nil
	case domain.IntentCanceled:
		return domain.Failed(domain.FailCanceled), nil
	default:
		o.logf("[payments] unknown status on confirm intent=%s status=%q", intent.ID, intent.Status)
		return domain.Failed(domain.FailUpstreamUnknownStatus), nil
	}
}

// HandleSucceededIntent é o caminho do webhook do processador. O seen-set do
// registrar torna a chamada inócua quando outro caminho já registrou.
func (o *PaymentOrchestrator) HandleSucceededIntent(ctx context.Context, intent domain.Intent) {
	if intent.Status != "" && intent.Status != domain.IntentSucceeded {
		return
	}
	o.register(ctx, intent)
}

// register só notifica intents criados por este checkout: sem price_key do
// catálogo na metadata, o intent é de outra origem na mesma conta.
func (o *PaymentOrchestrator) register(ctx context.Context, intent domain.Intent) {
	if o.Registrar == nil {
		return
	}
	if _, ok := o.catalog().ByKey(intent.Metadata[MetaPriceKey]); !ok {
		o.logf("[payments] skip registration intent=%s: not a checkout intent (price_key=%q)", intent.ID, intent.Metadata[MetaPriceKey])
		return
	}
	o.Registrar.RegisterSale(ctx, SaleFromIntent(intent, o.catalog(), o.now()))
}

// upstream executa fn com vaga reservada e timeout do processador.
func (o *PaymentOrchestrator) upstream(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := o.Slots.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if o.ProcessorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.ProcessorTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func failureFor(err error) domain.FailureReason {
	switch {
	case errors.Is(err, domain.ErrCardDeclined):
		return domain.FailCardDeclined
	case errors.Is(err, domain.ErrUpstreamRejected):
		return domain.FailUpstreamRejected
	default:
		// timeout, rede, falta de vaga e erros não classificados
		return domain.FailUpstreamUnreachable
	}
}
