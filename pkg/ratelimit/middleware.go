package ratelimit

import (
	"fmt"
	"net/http"

	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/httputil"
)

// PrincipalFunc resolves the identity a request is counted against.
// Unauthenticated requests fall back to the remote address.
type PrincipalFunc func(r *http.Request) string

// Middleware enforces the read/write budgets for every request passing
// through it. GET/HEAD/OPTIONS count against the read budget, everything else
// against the write budget.
func Middleware(l *Limiter, principal PrincipalFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := ClassWrite
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				class = ClassRead
			}

			who := principal(r)
			if who == "" {
				who = r.RemoteAddr
			}

			res := l.Allow(class, who)
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", res.ResetAt))

			if !res.Allowed {
				httputil.Error(w, errors.RateLimited(res.ResetAt))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
