package checkout

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc extrai a identidade de rede do chamador.
type KeyFunc func(r *http.Request) string

// ClientIPFunc devolve o extrator de IP usado pelo gate e pelo throttle.
//
// Ordem: header configurado (ex: CF-Connecting-IP da borda), primeiro IP do
// X-Forwarded-For quando confiável, host do RemoteAddr e, por fim, "unknown".
func ClientIPFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}
