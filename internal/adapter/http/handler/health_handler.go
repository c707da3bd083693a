package handler

import (
	"net/http"
	"sync"

	"bizsuite-orchestrator/internal/circuitbreaker"
	"bizsuite-orchestrator/internal/core/ports"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthCheck handles GET /health. Storage dependencies are probed in
// parallel and decide the status code. Open circuits to tenant endpoints are
// reported but never degrade the orchestrator itself.
func HealthCheck(breakers *circuitbreaker.Registry, checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			mu   sync.Mutex
			deps = make(map[string]dependencyStatus, len(checkers))
		)
		g, ctx := errgroup.WithContext(c.Request.Context())
		for _, checker := range checkers {
			checker := checker
			g.Go(func() error {
				st := dependencyStatus{Status: "healthy"}
				if err := checker.Ping(ctx); err != nil {
					st = dependencyStatus{Status: "unhealthy", Error: err.Error()}
				}
				mu.Lock()
				deps[checker.Name()] = st
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		status, code := "healthy", http.StatusOK
		for _, st := range deps {
			if st.Status != "healthy" {
				status, code = "degraded", http.StatusServiceUnavailable
				break
			}
		}

		body := gin.H{"status": status, "dependencies": deps}
		if breakers != nil {
			open := []string{}
			for _, s := range breakers.Snapshot() {
				if s.State != circuitbreaker.StateClosed {
					open = append(open, s.Name)
				}
			}
			body["circuits_not_closed"] = open
		}
		c.JSON(code, body)
	}
}
