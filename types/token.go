package types

// TokenRecord is a persisted download token entry.
type TokenRecord struct {
	FilePath string `json:"filePath"`
	Expires  int64  `json:"expires"` // ms since epoch
}
