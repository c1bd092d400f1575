package application

import (
	"strings"

	"checkout-gate/checkout/domain"

	"github.com/badoux/checkmail"
)

const supportedCurrency = "USD"

// SubmitRequest é a entrada do orquestrador, já desacoplada do JSON.
// IP vem do extrator de chave do transporte, nunca do corpo.
type SubmitRequest struct {
	PaymentMethodToken string
	AmountCents        int64
	Currency           string
	Email              string
	Name               string
	Billing            *domain.BillingAddress
	TrackingParams     map[string]string
	IP                 string
}

// ValidateSubmit confere o formato da requisição e resolve o pacote do
// catálogo pelo valor. Nenhuma tentativa é gravada quando falha.
func ValidateSubmit(req SubmitRequest, catalog domain.Catalog) (domain.Package, error) {
	var errs domain.ValidationErrors

	if strings.TrimSpace(req.PaymentMethodToken) == "" {
		errs.Add(domain.NewValidationError("paymentMethodToken", "is required"))
	}
	if !strings.EqualFold(strings.TrimSpace(req.Currency), supportedCurrency) {
		errs.Add(domain.NewValidationError("currency", "must be USD"))
	}

	email := domain.NormalizeEmail(req.Email)
	switch {
	case email == "":
		errs.Add(domain.NewValidationError("email", "is required"))
	case checkmail.ValidateFormat(email) != nil:
		errs.Add(domain.NewValidationError("email", "invalid format"))
	}

	if len(strings.TrimSpace(req.Name)) > 200 {
		errs.Add(domain.NewValidationError("name", "too long"))
	}

	if req.Billing != nil {
		if c := strings.TrimSpace(req.Billing.Country); c != "" && len(c) != 2 {
			errs.Add(domain.NewValidationError("billingAddress.country", "must be a 2-letter code"))
		}
	}

	pkg, ok := catalog.ByAmount(req.AmountCents)
	if req.AmountCents <= 0 {
		errs.Add(domain.NewValidationError("amountCents", "must be positive"))
	} else if !ok {
		errs.Add(domain.NewValidationError("amountCents", "does not match any package"))
	}

	if err := errs.Err(); err != nil {
		return domain.Package{}, err
	}
	return pkg, nil
}

// trackingParams mantém só as chaves conhecidas e não vazias.
func trackingParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(domain.TrackingKeys))
	for _, k := range domain.TrackingKeys {
		if v := strings.TrimSpace(in[k]); v != "" {
			out[k] = v
		}
	}
	return out
}
