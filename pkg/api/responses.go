package api

// DeleteResponse acknowledges a successful delete.
type DeleteResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// CancelResponse acknowledges an abort request.
type CancelResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck is one named probe inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
