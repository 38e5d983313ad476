package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// Readiness runs named checks for the readiness probe.
type Readiness struct {
	checks  map[string]Check
	timeout time.Duration
}

// NewReadiness creates a Readiness over checks. Each check gets at most
// two seconds.
func NewReadiness(checks map[string]Check) *Readiness {
	return &Readiness{checks: checks, timeout: 2 * time.Second}
}

// Failures runs every check and returns the failing ones by name.
func (rd *Readiness) Failures(ctx context.Context) map[string]string {
	failed := make(map[string]string)
	for name, check := range rd.checks {
		cctx, cancel := context.WithTimeout(ctx, rd.timeout)
		err := check(cctx)
		cancel()
		if err != nil {
			failed[name] = err.Error()
		}
	}
	return failed
}

// Readyz returns 200 "ready\n" when every check passes, otherwise 503 with
// the failing checks as JSON.
func (rd *Readiness) Readyz(w http.ResponseWriter, r *http.Request) {
	failed := rd.Failures(r.Context())
	if len(failed) == 0 {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready\n"))
		return
	}

	names := make([]string, 0, len(failed))
	for n := range failed {
		names = append(names, n)
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]any{
		"error":  "not ready",
		"failed": names,
		"detail": failed,
	})
}
