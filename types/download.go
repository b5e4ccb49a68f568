package types

type PrepareDownloadRequest struct {
	FilePath string `json:"filePath"`
	Password string `json:"password,omitempty"`
}

type PrepareDownloadResponse struct {
	DownloadURL  string `json:"downloadUrl,omitempty"`
	RequiresAuth bool   `json:"requiresAuth,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type MediaTokenRequest struct {
	FilePath string `json:"filePath"`
}

type MediaTokenResponse struct {
	Token string `json:"token"`
}

type DownloadStatus string

const (
	DownloadPending     DownloadStatus = "pending"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadError       DownloadStatus = "error"
)

// ChunkInfo is one byte range of a parallel download. Start and End are inclusive.
type ChunkInfo struct {
	ID       int            `json:"id"`
	Start    int64          `json:"start"`
	End      int64          `json:"end"`
	Progress int            `json:"progress"`
	Status   DownloadStatus `json:"status"`
	Bytes    int64          `json:"bytes"`
	Speed    float64        `json:"speed"` // bytes per second
}

// Len returns the number of bytes covered by the range.
func (c ChunkInfo) Len() int64 {
	return c.End - c.Start + 1
}

// DownloadItem is the client side record of one parallel download.
type DownloadItem struct {
	ID        string         `json:"id"`
	FilePath  string         `json:"filePath"`
	Name      string         `json:"name"`
	Size      int64          `json:"size"`
	Progress  int            `json:"progress"`
	Status    DownloadStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
	Chunks    []ChunkInfo    `json:"chunks"`
	StartTime int64          `json:"startTime"`         // ms since epoch
	EndTime   int64          `json:"endTime,omitempty"` // ms since epoch
	Speed     float64        `json:"speed"`             // bytes per second
	ETA       float64        `json:"eta"`               // seconds
	SavedTo   string         `json:"savedTo,omitempty"`
}
