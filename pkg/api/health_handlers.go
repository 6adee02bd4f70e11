package api

import (
	"net/http"
	"time"

	"github.com/unclesp1d3r/cipherswarm/pkg/health"
)

type healthResponse struct {
	Status      string    `json:"status"`
	Application string    `json:"application"`
	Version     string    `json:"version,omitempty"`
	*health.Report
}

// healthSnapshot serves the dependency health report. Degraded
// dependencies yield 503 so load balancers can act on it.
func (s *Server) healthSnapshot(w http.ResponseWriter, r *http.Request) int {
	report := s.health.Check(time.Now())

	status := "healthy"
	code := http.StatusOK
	if !report.Healthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return s.writeJSON(w, code, healthResponse{
		Status:      status,
		Application: "cipherswarm",
		Version:     s.Version,
		Report:      report,
	})
}
