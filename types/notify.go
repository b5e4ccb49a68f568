package types

// Notification represents a notification message structure
type Notification struct {
	Type    string         `json:"type,omitempty"`    // Notification type, e.g. "upload_finalized"
	Title   string         `json:"title,omitempty"`   // Notification title
	Message string         `json:"message,omitempty"` // Notification message/content
	Data    map[string]any `json:"data,omitempty"`    // Additional data fields
}

const (
	NotifyTypeUploadFinalized = "upload_finalized"
	NotifyTypeUploadAbandoned = "upload_abandoned"
	NotifyTypeTokenIssued     = "token_issued"
	NotifyTypeItemDeleted     = "item_deleted"
	NotifyTypeItemRenamed     = "item_renamed"
	NotifyTypeFolderCreated   = "folder_created"
)

// NotifyHub broadcasts notifications to connected UI clients.
type NotifyHub interface {
	Broadcast(notification *Notification)
}
