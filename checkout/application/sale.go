package application

import (
	"strconv"
	"strings"
	"time"

	"checkout-gate/checkout/domain"
)

// Chaves de metadata gravadas no intent. São o que permite reconstruir a
// venda a partir apenas do id do intent (retorno do 3DS e webhook).
const (
	MetaCustomerName  = "customer_name"
	MetaCustomerEmail = "customer_email"
	MetaPriceKey      = "price_key"
	MetaDiamonds      = "diamonds"
)

func intentMetadata(req SubmitRequest, pkg domain.Package) map[string]string {
	md := map[string]string{
		MetaCustomerName:  req.Name,
		MetaCustomerEmail: domain.NormalizeEmail(req.Email),
		MetaPriceKey:      pkg.PriceKey,
		MetaDiamonds:      strconv.Itoa(pkg.Diamonds),
	}
	for k, v := range trackingParams(req.TrackingParams) {
		md[k] = v
	}
	return md
}

// SaleFromIntent reconstrói a venda a partir do intent relido no processador.
func SaleFromIntent(in domain.Intent, catalog domain.Catalog, approvedAt time.Time) domain.Sale {
	md := in.Metadata
	if md == nil {
		md = map[string]string{}
	}

	product := "Diamantes Free Fire"
	if pkg, ok := catalog.ByKey(md[MetaPriceKey]); ok {
		product = pkg.ProductName()
	} else if d, err := strconv.Atoi(md[MetaDiamonds]); err == nil && d > 0 {
		product = domain.Package{Diamonds: d}.ProductName()
	}

	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = supportedCurrency
	}

	return domain.Sale{
		IntentID:       in.ID,
		Customer:       domain.Customer{Name: md[MetaCustomerName], Email: md[MetaCustomerEmail]},
		AmountCents:    in.AmountCents,
		Currency:       currency,
		ProductName:    product,
		TrackingParams: trackingParams(md),
		ApprovedAt:     approvedAt.UTC(),
	}
}
