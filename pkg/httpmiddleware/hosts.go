package httpmiddleware

import (
	"net"
	"net/http"
	"strings"
)

// AllowedHosts rejects requests whose Host header is not listed with
// 400 Bad Request. Matching ignores case and port. An entry starting with
// "." also matches any subdomain, and "*" or an empty list allows all.
func AllowedHosts(hosts []string) Middleware {
	allowAll := len(hosts) == 0
	exact := make(map[string]struct{}, len(hosts))
	var suffixes []string
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "*":
			allowAll = true
		case strings.HasPrefix(h, "."):
			suffixes = append(suffixes, h)
		case h != "":
			exact[h] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		if allowAll {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := strings.ToLower(r.Host)
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			if !hostAllowed(host, exact, suffixes) {
				http.Error(w, "Bad Request (invalid host)", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hostAllowed(host string, exact map[string]struct{}, suffixes []string) bool {
	if _, ok := exact[host]; ok {
		return true
	}
	for _, s := range suffixes {
		if host == s[1:] || strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}
