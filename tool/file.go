package tool

import (
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const DefaultContentType = "application/octet-stream"

// DetectContentType returns the MIME type for a stored file: by extension first,
// falling back to sniffing the file header.
func DetectContentType(path string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		DefaultLogger.Debugf("[Mime] Failed to sniff %s: %v", path, err)
		return DefaultContentType
	}
	return mt.String()
}

// ContentDisposition builds a Content-Disposition value with a URL-encoded file name.
// kind is "attachment" or "inline".
func ContentDisposition(kind, fileName string) string {
	return fmt.Sprintf("%s; filename=\"%s\"", kind, url.PathEscape(fileName))
}
