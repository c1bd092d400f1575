package checkout

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

type RouterOptions struct {
	Handlers *Handlers
	Webhook  http.Handler
	// Throttle é aplicado só nas rotas de pagamento.
	Throttle func(http.Handler) http.Handler
	Logger   *log.Logger
}

// NewRouter monta as rotas da API.
func NewRouter(opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(opts.Logger))
	r.NotFoundHandler = http.HandlerFunc(notFoundHandler)

	throttle := opts.Throttle
	if throttle == nil {
		throttle = func(next http.Handler) http.Handler { return next }
	}

	api := r.PathPrefix("/api").Subrouter()
	if h := opts.Handlers; h != nil {
		api.Handle("/payments", throttle(http.HandlerFunc(h.HandleSubmit))).Methods("POST")
		api.Handle("/payments/confirm", throttle(http.HandlerFunc(h.HandleConfirm))).Methods("POST")
		api.HandleFunc("/ready", h.HandleReady).Methods("GET")
	}
	if opts.Webhook != nil {
		api.Handle("/webhooks/stripe", opts.Webhook).Methods("POST")
	}

	return r
}
