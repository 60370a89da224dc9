package model

// WebSocket message types
const (
	WSMessageTypeFile     = "file"
	WSMessageTypeComplete = "complete"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage is the minimal envelope used for client pings.
type WSMessage struct {
	Type string `json:"type"`
}

// WSFileMessage announces one file reaching a terminal state.
type WSFileMessage struct {
	Type          string     `json:"type"`
	JobID         string     `json:"jobId"`
	FileID        string     `json:"fileId"`
	Status        FileStatus `json:"status"`
	ConvertedSize int64      `json:"convertedSize,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// WSCompleteMessage announces the whole job finishing.
type WSCompleteMessage struct {
	Type           string `json:"type"`
	JobID          string `json:"jobId"`
	CompletedFiles int    `json:"completedFiles"`
	FailedFiles    int    `json:"failedFiles"`
}
