package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"geotrail/syncd/internal/models/dtos/responses"
)

// HealthCheckHandler handles GET /healthCheck
//
// The database must answer for the daemon to be healthy. Remote configuration and
// connectivity are reported but never fail the check.
func HealthCheckHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		services := make(map[string]responses.ServiceStatus)

		dbStatus := "ok"
		dbDetails := "Database Connected"
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.DB.PingContext(ctx); err != nil {
			dbStatus = "down"
			dbDetails = err.Error()
		}
		services["database"] = responses.ServiceStatus{
			Status:  dbStatus,
			Details: dbDetails,
		}

		remote := responses.ServiceStatus{Status: "ok", Details: "Remote configured"}
		if deps.Controls.Remote != nil && !deps.Controls.Remote.Configured() {
			remote = responses.ServiceStatus{Status: "unconfigured", Details: "Remote base URL or API key missing"}
		}
		services["remote"] = remote

		conn := responses.ServiceStatus{Status: "ok", Details: "Online"}
		if !deps.Controls.Connectivity.Online() {
			conn = responses.ServiceStatus{Status: "offline", Details: "Waiting for connectivity"}
		}
		services["connectivity"] = conn

		overallStatus := "ok"
		statusCode := http.StatusOK
		if dbStatus != "ok" {
			overallStatus = "down"
			statusCode = http.StatusServiceUnavailable
		}

		now := time.Now()
		uptime := now.Sub(deps.UpSince).Round(time.Second).String()

		resp := responses.HealthCheckResponse{
			Services: services,
			Status:   overallStatus,
			UpSince:  deps.UpSince,
			Uptime:   uptime,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
