package notify

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
)

// NotifyWriteChunkSize is the chunk size when writing payload to Unix socket (avoid large single write).
const NotifyWriteChunkSize = 32 * 1024 // 32KB

// Configuration for Unix Domain Socket notification
var (
	// DefaultUnixSocketPath is the default Unix socket path for IPC
	DefaultUnixSocketPath = "/tmp/localvault-notify.sock"
	// UnixSocketTimeout is the timeout for Unix socket operations
	UnixSocketTimeout = 3 * time.Second
	UseNotify         = true
)

var (
	hubMu sync.RWMutex
	hub   types.NotifyHub
)

// SetUseNotify sets whether to use the unix socket notifier
func SetUseNotify(use bool) {
	UseNotify = use
}

// SetHub sets the websocket hub every notification is also broadcast to. nil disables it.
func SetHub(h types.NotifyHub) {
	hubMu.Lock()
	defer hubMu.Unlock()
	hub = h
}

func getHub() types.NotifyHub {
	hubMu.RLock()
	defer hubMu.RUnlock()
	return hub
}

// Send broadcasts to the websocket hub and hands the notification to the unix socket in the background.
func Send(notification *types.Notification) {
	if notification == nil {
		return
	}
	if h := getHub(); h != nil {
		h.Broadcast(notification)
	}
	if !UseNotify {
		return
	}
	go func() {
		if err := SendNotification(notification, ""); err != nil {
			tool.DefaultLogger.Debugf("[UnixSocket] %v", err)
		}
	}()
}

// SendNotification sends notification via Unix Domain Socket: a 4 byte little-endian length, then the JSON payload.
func SendNotification(notification *types.Notification, socketPath string) error {
	if socketPath == "" {
		socketPath = DefaultUnixSocketPath
	}

	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return fmt.Errorf("unix socket not found: %s", socketPath)
	}

	payload := []byte("{}")
	if notification != nil {
		var err error
		payload, err = sonic.Marshal(notification)
		if err != nil {
			return fmt.Errorf("failed to serialize notification data: %w", err)
		}
	}
	if len(payload) > NotifyWriteChunkSize {
		return fmt.Errorf("notification payload too large: %d bytes (max %d)", len(payload), NotifyWriteChunkSize)
	}

	conn, err := net.DialTimeout("unix", socketPath, UnixSocketTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to Unix socket %s: %w", socketPath, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			tool.DefaultLogger.Errorf("Failed to close Unix socket connection: %v", err)
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(UnixSocketTimeout)); err != nil {
		tool.DefaultLogger.Errorf("Failed to set deadline: %v", err)
	}

	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write payload to Unix socket: %w", err)
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read response from Unix socket: %w", err)
	}
	if n > 0 {
		var response map[string]any
		if err := sonic.Unmarshal(buf[:n], &response); err != nil {
			tool.DefaultLogger.Debugf("Unix socket response (raw): %s", string(buf[:n]))
		} else if errMsg, ok := response["error"].(string); ok && errMsg != "" {
			return fmt.Errorf("server returned error: %s", errMsg)
		}
	}

	if notification != nil {
		tool.DefaultLogger.Debugf("[UnixSocket] Notification sent: %s - %s", notification.Type, notification.Title)
	}
	return nil
}

// SendUploadFinalized announces a file assembled from an upload session.
func SendUploadFinalized(uploadID string, file types.StoredFile) {
	Send(&types.Notification{
		Type:    types.NotifyTypeUploadFinalized,
		Title:   "Upload complete",
		Message: file.Path,
		Data: map[string]any{
			"uploadId": uploadID,
			"path":     file.Path,
			"name":     file.Name,
			"size":     file.Size,
		},
	})
}

// SendUploadAbandoned announces that the reaper removed an idle session.
func SendUploadAbandoned(uploadID string) {
	Send(&types.Notification{
		Type:  types.NotifyTypeUploadAbandoned,
		Title: "Upload abandoned",
		Data:  map[string]any{"uploadId": uploadID},
	})
}

// SendTokenIssued announces a new download or media token (the token itself is never broadcast).
func SendTokenIssued(filePath string, media bool) {
	Send(&types.Notification{
		Type:    types.NotifyTypeTokenIssued,
		Title:   "Download link created",
		Message: filePath,
		Data:    map[string]any{"path": filePath, "media": media},
	})
}

// SendItemChanged announces a folder creation, rename or delete.
func SendItemChanged(eventType, path string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["path"] = path
	Send(&types.Notification{
		Type:    eventType,
		Message: path,
		Data:    data,
	})
}
