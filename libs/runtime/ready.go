package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ReadyCheck is one named dependency probe reported under /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

const checkTimeout = 2 * time.Second

// NewBaseMuxWithReady returns a mux pre-wired with liveness and readiness
// endpoints. /healthz answers as long as the process runs; /readyz runs every
// check and reports each result, answering 503 if any fails.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		type checkResult struct {
			Name  string `json:"name"`
			Error string `json:"error,omitempty"`
		}
		status := http.StatusOK
		results := make([]checkResult, 0, len(checks))
		for _, c := range checks {
			if c.Check == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.Check(ctx)
			cancel()
			res := checkResult{Name: c.Name}
			if err != nil {
				res.Error = err.Error()
				status = http.StatusServiceUnavailable
			}
			results = append(results, res)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ready":  status == http.StatusOK,
			"checks": results,
		})
	})
	return mux
}
