package model

// WebSocket message types
const (
	WSMessageTypeLog      = "log"
	WSMessageTypeStatus   = "status"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSLogMessage carries one appended progress-log line
type WSLogMessage struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	Line      string `json:"line"`
}

// WSStatusMessage carries a per-record status change (asset or scene)
type WSStatusMessage struct {
	Type       string     `json:"type"`
	ProjectID  string     `json:"projectId"`
	TargetKind TargetKind `json:"targetKind"`
	TargetID   string     `json:"targetId"`
	Status     string     `json:"status"`
	URL        string     `json:"url,omitempty"`
}

// WSCompleteMessage signals the end of a pipeline run
type WSCompleteMessage struct {
	Type      string   `json:"type"`
	ProjectID string   `json:"projectId"`
	RunID     string   `json:"runId"`
	State     RunState `json:"state"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type      string  `json:"type"`
	ProjectID string  `json:"projectId"`
	Error     WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
