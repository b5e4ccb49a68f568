package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/disk"

	"github.com/moyoez/localvault/notify"
	"github.com/moyoez/localvault/tokens"
	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/vault"
)

type StatusController struct {
	root     *vault.Root
	tokens   *tokens.Store
	notifyWS bool
}

func NewStatusController(root *vault.Root, store *tokens.Store, notifyWS bool) *StatusController {
	return &StatusController{root: root, tokens: store, notifyWS: notifyWS}
}

// HandleStatus reports server state for the local UI.
// GET /api/self/v1/status
func (ctrl *StatusController) HandleStatus(c *gin.Context) {
	resp := gin.H{
		"running":           true,
		"notify_ws_enabled": ctrl.notifyWS,
		"notify_socket":     notify.UseNotify,
		"active_tokens":     ctrl.tokens.Len(),
		"token_ttl_seconds": int64(ctrl.tokens.TTL().Seconds()),
	}
	usage, err := disk.Usage(ctrl.root.Dir())
	if err != nil {
		tool.DefaultLogger.Warnf("[Status] Failed to read disk usage of %s: %v", ctrl.root.Dir(), err)
	} else {
		resp["disk"] = gin.H{
			"total":       usage.Total,
			"free":        usage.Free,
			"used":        usage.Used,
			"usedPercent": usage.UsedPercent,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleConfig returns the effective configuration without secrets.
// GET /api/self/v1/config
func HandleConfig(c *gin.Context) {
	cfg := tool.GetCurrentConfig()
	c.JSON(http.StatusOK, gin.H{
		"port":               cfg.Port,
		"protocol":           cfg.Protocol,
		"storageRoot":        cfg.StorageRoot,
		"tokenBackend":       cfg.TokenBackend,
		"tokenTTL":           cfg.TokenTTL.String(),
		"tokenSweepInterval": cfg.TokenSweepInterval.String(),
		"sessionTTL":         cfg.SessionTTL.String(),
		"reapInterval":       cfg.ReapInterval.String(),
		"maxChunkBytes":      cfg.MaxChunkBytes,
		"passwordConfigured": cfg.Password != "",
		"notifyWS":           cfg.NotifyWS,
	})
}
