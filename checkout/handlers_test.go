package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"checkout-gate/checkout/application"
	"checkout-gate/checkout/domain"
	"checkout-gate/checkout/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

type fakePayments struct {
	outcome   domain.Outcome
	err       error
	lastReq   application.SubmitRequest
	confirmID string
}

func (f *fakePayments) Submit(_ context.Context, req application.SubmitRequest) (domain.Outcome, error) {
	f.lastReq = req
	return f.outcome, f.err
}

func (f *fakePayments) ConfirmAfterChallenge(_ context.Context, intentID string) (domain.Outcome, error) {
	f.confirmID = intentID
	if intentID == "" {
		return domain.Outcome{}, domain.NewValidationError("chargeId", "is required")
	}
	return f.outcome, f.err
}

func newTestRouter(p PaymentService) http.Handler {
	return NewRouter(RouterOptions{
		Handlers: &Handlers{Payments: p, KeyFn: ClientIPFunc("", true), Logger: quietLogger()},
		Logger:   quietLogger(),
	})
}

const submitBody = `{
	"paymentMethodToken": "pm_card_visa",
	"amountCents": 900,
	"currency": "USD",
	"email": "Buyer@Example.com",
	"name": "Buyer",
	"billingAddress": {"line1": "1 Main St", "city": "Austin", "state": "TX", "postalCode": "73301", "country": "US"},
	"trackingParams": {"utm_source": "fb"}
}`

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := httptest.NewRequest(method, "http://example"+path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Forwarded-For", "198.51.100.4")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var got map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	}
	return w, got
}

func TestHandleSubmit_SucceededPassesRequestThrough(t *testing.T) {
	p := &fakePayments{outcome: domain.Succeeded("pi_1")}
	w, body := doJSON(t, newTestRouter(p), http.MethodPost, "/api/payments", submitBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pi_1", body["chargeId"])

	assert.Equal(t, "198.51.100.4", p.lastReq.IP)
	assert.Equal(t, "pm_card_visa", p.lastReq.PaymentMethodToken)
	assert.EqualValues(t, 900, p.lastReq.AmountCents)
	require.NotNil(t, p.lastReq.Billing)
	assert.Equal(t, "US", p.lastReq.Billing.Country)
	assert.Equal(t, "fb", p.lastReq.TrackingParams["utm_source"])
}

func TestHandleSubmit_OutcomeMapping(t *testing.T) {
	cases := []struct {
		name    string
		outcome domain.Outcome
		code    int
		check   func(t *testing.T, w *httptest.ResponseRecorder, body map[string]any)
	}{
		{
			name:    "requires action",
			outcome: domain.RequiresAction("pi_2", "secret_2"),
			code:    http.StatusOK,
			check: func(t *testing.T, _ *httptest.ResponseRecorder, body map[string]any) {
				assert.Equal(t, true, body["requiresAction"])
				assert.Equal(t, "pi_2", body["chargeId"])
				assert.Equal(t, "secret_2", body["clientSecret"])
			},
		},
		{
			name:    "pending",
			outcome: domain.Pending("pi_3"),
			code:    http.StatusAccepted,
			check: func(t *testing.T, _ *httptest.ResponseRecorder, body map[string]any) {
				assert.Equal(t, true, body["pending"])
				assert.Equal(t, "pi_3", body["chargeId"])
			},
		},
		{
			name:    "rate limited",
			outcome: domain.RateLimited(90 * time.Second),
			code:    http.StatusTooManyRequests,
			check: func(t *testing.T, w *httptest.ResponseRecorder, body map[string]any) {
				assert.Equal(t, true, body["rateLimited"])
				assert.Equal(t, msgRateLimited, body["error"])
				assert.Equal(t, "90", w.Header().Get("Retry-After"))
			},
		},
		{
			name:    "declined",
			outcome: domain.Failed(domain.FailCardDeclined),
			code:    http.StatusPaymentRequired,
			check: func(t *testing.T, _ *httptest.ResponseRecorder, body map[string]any) {
				assert.Equal(t, msgCardDeclined, body["error"])
				assert.Equal(t, false, body["retryable"])
			},
		},
		{
			name:    "unreachable is retryable",
			outcome: domain.Failed(domain.FailUpstreamUnreachable),
			code:    http.StatusPaymentRequired,
			check: func(t *testing.T, _ *httptest.ResponseRecorder, body map[string]any) {
				assert.Equal(t, msgUnreachable, body["error"])
				assert.Equal(t, true, body["retryable"])
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &fakePayments{outcome: tc.outcome}
			w, body := doJSON(t, newTestRouter(p), http.MethodPost, "/api/payments", submitBody)
			assert.Equal(t, tc.code, w.Code)
			tc.check(t, w, body)
		})
	}
}

func TestHandleSubmit_ValidationErrorIs400WithFields(t *testing.T) {
	var errs domain.ValidationErrors
	errs.Add(domain.NewValidationError("email", "invalid format"))
	errs.Add(domain.NewValidationError("amountCents", "must be positive"))
	p := &fakePayments{err: errs.Err()}

	w, body := doJSON(t, newTestRouter(p), http.MethodPost, "/api/payments", submitBody)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, msgInvalidRequest, body["error"])
	assert.Len(t, body["fields"], 2)
}

func TestHandleSubmit_MalformedJSONIs400(t *testing.T) {
	p := &fakePayments{outcome: domain.Succeeded("pi_x")}
	w, body := doJSON(t, newTestRouter(p), http.MethodPost, "/api/payments", `{"amountCents":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, msgInvalidJSON, body["error"])
	assert.Empty(t, p.lastReq.PaymentMethodToken)
}

func TestHandleSubmit_UnexpectedErrorDoesNotLeak(t *testing.T) {
	p := &fakePayments{err: errors.New("stripe: secret sk_live_xxx rejected")}
	w, body := doJSON(t, newTestRouter(p), http.MethodPost, "/api/payments", submitBody)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, body["error"], "sk_live")
}

func TestHandleConfirm(t *testing.T) {
	p := &fakePayments{outcome: domain.Succeeded("pi_9")}
	w, body := doJSON(t, newTestRouter(p), http.MethodPost, "/api/payments/confirm", `{"chargeId":" pi_9 "}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pi_9", p.confirmID)

	w, _ = doJSON(t, newTestRouter(p), http.MethodPost, "/api/payments/confirm", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	p.outcome = domain.Failed(domain.FailAuthentication)
	w, body = doJSON(t, newTestRouter(p), http.MethodPost, "/api/payments/confirm", `{"chargeId":"pi_9"}`)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, msgAuthentication, body["error"])
}

func TestHandleReady(t *testing.T) {
	h := &Handlers{Payments: &fakePayments{}, Logger: quietLogger()}
	r := NewRouter(RouterOptions{Handlers: h, Logger: quietLogger()})

	w, body := doJSON(t, r, http.MethodGet, "/api/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])

	h.Ready = func(context.Context) error { return errors.New("db down") }
	w, _ = doJSON(t, r, http.MethodGet, "/api/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_UnknownPathIsJSON404(t *testing.T) {
	w, body := doJSON(t, newTestRouter(&fakePayments{}), http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Path not found", body["error"])
}

func TestRouter_ThrottleOnlyOnPaymentRoutes(t *testing.T) {
	p := &fakePayments{outcome: domain.Succeeded("pi_1")}
	r := NewRouter(RouterOptions{
		Handlers: &Handlers{Payments: p, KeyFn: ClientIPFunc("", true), Logger: quietLogger()},
		Throttle: ThrottleMiddleware(ThrottleOptions{
			Buckets: infra.NewBucketStore(0.01, 1),
			KeyFn:   ClientIPFunc("", true),
		}),
		Logger: quietLogger(),
	})

	w, _ := doJSON(t, r, http.MethodPost, "/api/payments", submitBody)
	assert.Equal(t, http.StatusOK, w.Code)
	w, body := doJSON(t, r, http.MethodPost, "/api/payments", submitBody)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, true, body["rateLimited"])

	for i := 0; i < 3; i++ {
		w, _ = doJSON(t, r, http.MethodGet, "/api/ready", "")
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
