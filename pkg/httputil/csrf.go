package httputil

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/opsboard/opsboard-backend/pkg/errors"
)

// CSRF rejects unsafe cross-site requests. The Origin header (or Referer as a
// fallback) must name the same host the request was sent to. Requests carrying
// neither pass only with the X-Requested-With: fetch marker, which a
// cross-site form submission cannot set.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		if err := checkOrigin(r); err != nil {
			Error(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func checkOrigin(r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}

	if origin == "" {
		if r.Header.Get("X-Requested-With") == "fetch" {
			return nil
		}
		return errors.Forbidden("cross-site request rejected")
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return errors.Forbidden("cross-site request rejected")
	}

	if !hostsMatch(parsed.Host, r.Host) {
		return errors.Forbidden("cross-site request rejected")
	}

	return nil
}

// hostsMatch compares hosts ignoring a default-port suffix mismatch.
func hostsMatch(origin, request string) bool {
	if origin == request {
		return true
	}
	return stripDefaultPort(origin) == stripDefaultPort(request)
}

func stripDefaultPort(host string) string {
	host = strings.TrimSuffix(host, ":443")
	host = strings.TrimSuffix(host, ":80")
	return host
}
