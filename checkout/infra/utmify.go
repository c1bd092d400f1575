package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"checkout-gate/checkout/domain"
)

const (
	DefaultUtmifyURL = "https://api.utmify.com.br/api-credentials/orders"
	utmifyDateLayout = "2006-01-02 15:04:05"
)

// UtmifyClient envia vendas aprovadas para a API de pedidos da UTMify.
type UtmifyClient struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *log.Logger
}

func NewUtmifyClient(url, token string, timeout time.Duration, logger *log.Logger) *UtmifyClient {
	if url == "" {
		url = DefaultUtmifyURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &UtmifyClient{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type utmifyCustomer struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone"`
	Document *string `json:"document"`
	Country  string  `json:"country"`
}

type utmifyProduct struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	PlanID       *string `json:"planId"`
	PlanName     *string `json:"planName"`
	Quantity     int     `json:"quantity"`
	PriceInCents int64   `json:"priceInCents"`
}

type utmifyCommission struct {
	TotalPriceInCents     int64  `json:"totalPriceInCents"`
	GatewayFeeInCents     int64  `json:"gatewayFeeInCents"`
	UserCommissionInCents int64  `json:"userCommissionInCents"`
	Currency              string `json:"currency"`
}

type utmifyOrder struct {
	OrderID            string             `json:"orderId"`
	Platform           string             `json:"platform"`
	PaymentMethod      string             `json:"paymentMethod"`
	Status             string             `json:"status"`
	CreatedAt          string             `json:"createdAt"`
	ApprovedDate       string             `json:"approvedDate"`
	RefundedAt         *string            `json:"refundedAt"`
	Customer           utmifyCustomer     `json:"customer"`
	Products           []utmifyProduct    `json:"products"`
	TrackingParameters map[string]*string `json:"trackingParameters"`
	Commission         utmifyCommission   `json:"commission"`
	IsTest             bool               `json:"isTest"`
}

func buildUtmifyOrder(sale domain.Sale) utmifyOrder {
	at := sale.ApprovedAt
	if at.IsZero() {
		at = time.Now()
	}
	date := at.UTC().Format(utmifyDateLayout)

	name := sale.Customer.Name
	if name == "" {
		name = "Cliente"
	}
	product := sale.ProductName
	if product == "" {
		product = "Diamantes Free Fire"
	}
	currency := sale.Currency
	if currency == "" {
		currency = "USD"
	}

	tracking := make(map[string]*string, len(domain.TrackingKeys))
	for _, k := range domain.TrackingKeys {
		if v, ok := sale.TrackingParams[k]; ok && v != "" {
			v := v
			tracking[k] = &v
		} else {
			tracking[k] = nil
		}
	}

	return utmifyOrder{
		OrderID:       sale.IntentID,
		Platform:      "Stripe",
		PaymentMethod: "credit_card",
		Status:        "paid",
		CreatedAt:     date,
		ApprovedDate:  date,
		Customer: utmifyCustomer{
			Name:    name,
			Email:   sale.Customer.Email,
			Country: "US",
		},
		Products: []utmifyProduct{{
			ID:           sale.IntentID,
			Name:         product,
			Quantity:     1,
			PriceInCents: sale.AmountCents,
		}},
		TrackingParameters: tracking,
		Commission: utmifyCommission{
			TotalPriceInCents:     sale.AmountCents,
			UserCommissionInCents: sale.AmountCents,
			Currency:              currency,
		},
	}
}

// SendSale implementa domain.AttributionClient. Sem token configurado o envio
// é pulado (nil), como em ambientes de desenvolvimento.
func (c *UtmifyClient) SendSale(ctx context.Context, sale domain.Sale) error {
	if c.token == "" {
		c.logger.Printf("[registrar] no UTMify token configured, skipping intent=%s", sale.IntentID)
		return nil
	}

	body, err := json.Marshal(buildUtmifyOrder(sale))
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("utmify request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("utmify status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return nil
}
