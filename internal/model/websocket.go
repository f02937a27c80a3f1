package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeTask     = "task"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

type WSMessage struct {
	Type string `json:"type"`
}

type WSProgressMessage struct {
	Type        string      `json:"type"`
	JobID       string      `json:"jobId"`
	Progress    int         `json:"progress"`
	Status      StoryStatus `json:"status"`
	CurrentStep string      `json:"currentStep,omitempty"`
}

// WSTaskMessage reports a single pipeline task finishing.
type WSTaskMessage struct {
	Type     string   `json:"type"`
	JobID    string   `json:"jobId"`
	Kind     TaskKind `json:"kind"`
	Index    int      `json:"index"`
	Success  bool     `json:"success"`
	Finished int      `json:"finished"`
	Total    int      `json:"total"`
}

type WSCompleteMessage struct {
	Type   string      `json:"type"`
	JobID  string      `json:"jobId"`
	Result interface{} `json:"result"`
}

type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
