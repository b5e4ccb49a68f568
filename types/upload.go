package types

import "time"

type SessionState string

const (
	SessionOpen       SessionState = "open"
	SessionReceiving  SessionState = "receiving"
	SessionFinalizing SessionState = "finalizing"
	SessionFinalized  SessionState = "finalized"
	SessionAbandoned  SessionState = "abandoned"
)

type FinalizeUploadRequest struct {
	UploadID    string `json:"uploadId"`
	FileName    string `json:"fileName"`
	CurrentPath string `json:"currentPath"`
	TotalChunks int    `json:"totalChunks,omitempty"` // optional; when zero the received indices must be contiguous from 0
	Overwrite   bool   `json:"overwrite,omitempty"`
}

type FinalizeUploadResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

type UploadChunkResponse struct {
	Success bool `json:"success"`
}

// UploadStatusResponse reports the server side view of an upload session.
type UploadStatusResponse struct {
	UploadID       string       `json:"uploadId"`
	State          SessionState `json:"state"`
	ChunksReceived int          `json:"chunksReceived"`
	BytesReceived  int64        `json:"bytesReceived"`
	MissingChunks  []int        `json:"missingChunks,omitempty"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadCompleted UploadStatus = "completed"
	UploadError     UploadStatus = "error"
)

// UploadItem is the client side record of one file being uploaded.
type UploadItem struct {
	ID        string       `json:"id"`
	UploadID  string       `json:"uploadId"`
	FileName  string       `json:"fileName"`
	Size      int64        `json:"size"`
	Progress  int          `json:"progress"`
	Status    UploadStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	StoredAt  string       `json:"storedAt,omitempty"`
	StartedAt time.Time    `json:"startedAt"`
}
