package control

import "time"

// Request is one line of JSON sent over the control socket.
type Request struct {
	Op    string `json:"op"`
	JobID string `json:"job_id,omitempty"`
}

type Status struct {
	Running   bool             `json:"running"`
	UptimeSec float64          `json:"uptime_sec"`
	InFlight  string           `json:"in_flight,omitempty"`
	Since     time.Time        `json:"since,omitempty"`
	Counters  map[string]int64 `json:"counters"`
	Recent    []Completion     `json:"recent"`
}

type SimpleResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ProcessResponse mirrors the HTTP process endpoint.
type ProcessResponse struct {
	Success    bool   `json:"success"`
	AnalysisID string `json:"analysis_id,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Completion is one finished Process call kept for status output.
type Completion struct {
	JobID     string    `json:"job_id"`
	Result    string    `json:"result"` // "completed" or the failure kind
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
