package main

// Receptor falso da API de pedidos da UTMify, para validar o registro de
// vendas localmente:
//
//	go run ./teste-validacao/servidor-utmify
//	UTMIFY_API_URL=http://localhost:8081/api-credentials/orders UTMIFY_API_TOKEN=dev checkout-gate serve

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
)

func main() {
	token := os.Getenv("UTMIFY_API_TOKEN")
	if token == "" {
		token = "dev"
	}

	r := mux.NewRouter()
	r.HandleFunc("/api-credentials/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-token") != token {
			http.Error(w, `{"message":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		var order map[string]any
		if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
			http.Error(w, `{"message":"invalid body"}`, http.StatusBadRequest)
			return
		}
		log.Printf("Log: pedido recebido orderId=%v status=%v createdAt=%v", order["orderId"], order["status"], order["createdAt"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"OK":true}`))
	}).Methods("POST")

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	log.Printf("Servidor UTMify falso rodando em http://localhost%s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Erro ao subir o servidor: %v", err)
	}
}
