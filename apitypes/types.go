// Package apitypes provides API response types for the downsort HTTP API.
package apitypes

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Stats represents sorter statistics.
type Stats struct {
	Moved          int64 `json:"moved"`
	Skipped        int64 `json:"skipped"`
	Failed         int64 `json:"failed"`
	LiveMarkers    int   `json:"live_markers"`
	JournaledMoves int64 `json:"journaled_moves,omitempty"`
}
