package controllers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/localvault/access"
	"github.com/moyoez/localvault/api/middlewares"
	"github.com/moyoez/localvault/archive"
	"github.com/moyoez/localvault/download"
	"github.com/moyoez/localvault/notify"
	"github.com/moyoez/localvault/tokens"
	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
	"github.com/moyoez/localvault/vault"
)

const (
	reasonPasswordRequired = "Password required."
	reasonInvalidPassword  = "Invalid password."
)

type DownloadController struct {
	root      *vault.Root
	tokens    *tokens.Store
	responder *download.Responder
	gate      *access.Gate
	limiter   *middlewares.IPLimiter
}

func NewDownloadController(root *vault.Root, store *tokens.Store, gate *access.Gate, limiter *middlewares.IPLimiter) *DownloadController {
	return &DownloadController{
		root:      root,
		tokens:    store,
		responder: download.NewResponder(store, root),
		gate:      gate,
		limiter:   limiter,
	}
}

// DownloadURL is the relative link handed out for a download token.
func DownloadURL(token string) string {
	return "/api/download?token=" + url.QueryEscape(token)
}

// HandlePrepare issues a download token, asking for the vault password on sensitive files.
// POST /api/download/prepare
func (ctrl *DownloadController) HandlePrepare(c *gin.Context) {
	var req types.PrepareDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FilePath == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing filePath"))
		return
	}
	stored, err := ctrl.root.Stat(req.FilePath)
	if err != nil {
		abortWithError(c, "PrepareDownload", err)
		return
	}
	if stored.IsFolder() {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Folders cannot be downloaded directly"))
		return
	}

	if ctrl.gate.RequiresPassword(stored.Path) {
		if req.Password == "" {
			c.JSON(http.StatusUnauthorized, types.PrepareDownloadResponse{RequiresAuth: true, Reason: reasonPasswordRequired})
			return
		}
		if ctrl.limiter != nil && !ctrl.limiter.Allow(c.ClientIP()) {
			tool.DefaultLogger.Warnf("[PrepareDownload] Too many password attempts from %s", c.ClientIP())
			c.JSON(http.StatusTooManyRequests, tool.FastReturnError("Too many password attempts, try again later."))
			return
		}
		if !ctrl.gate.CheckPassword(req.Password) {
			tool.DefaultLogger.Infof("[PrepareDownload] Wrong password for %s from %s", stored.Path, c.ClientIP())
			c.JSON(http.StatusUnauthorized, types.PrepareDownloadResponse{RequiresAuth: true, Reason: reasonInvalidPassword})
			return
		}
	}

	token, err := ctrl.tokens.Issue(stored.Path)
	if err != nil {
		abortWithError(c, "PrepareDownload", err)
		return
	}
	notify.SendTokenIssued(stored.Path, false)
	c.JSON(http.StatusOK, types.PrepareDownloadResponse{DownloadURL: DownloadURL(token)})
}

// HandleDownload streams the file behind a token, honouring a single Range.
// GET /api/download?token=
func (ctrl *DownloadController) HandleDownload(c *gin.Context) {
	ctrl.responder.Serve(c.Writer, c.Request, download.Attachment)
}

// HandleMedia streams the file inline for previews.
// GET /api/media?token=
func (ctrl *DownloadController) HandleMedia(c *gin.Context) {
	ctrl.responder.Serve(c.Writer, c.Request, download.Inline)
}

// HandleMediaToken issues a preview token. Sensitive files are never previewed.
// POST /api/media/token
func (ctrl *DownloadController) HandleMediaToken(c *gin.Context) {
	var req types.MediaTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FilePath == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing filePath"))
		return
	}
	stored, err := ctrl.root.Stat(req.FilePath)
	if err != nil {
		abortWithError(c, "MediaToken", err)
		return
	}
	if stored.IsFolder() {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Folders cannot be previewed"))
		return
	}
	if ctrl.gate.RequiresPassword(stored.Path) {
		c.JSON(http.StatusUnauthorized, types.PrepareDownloadResponse{RequiresAuth: true, Reason: reasonPasswordRequired})
		return
	}

	token, err := ctrl.tokens.Issue(stored.Path)
	if err != nil {
		abortWithError(c, "MediaToken", err)
		return
	}
	notify.SendTokenIssued(stored.Path, true)
	c.JSON(http.StatusOK, types.MediaTokenResponse{Token: token})
}

// HandleZip bundles up to archive.MaxFiles stored files into one ZIP stream.
// POST /api/download/zip
func (ctrl *DownloadController) HandleZip(c *gin.Context) {
	var req types.ZipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Invalid request body"))
		return
	}
	entries, err := archive.Plan(ctrl.root, req.Files)
	if err != nil {
		abortWithError(c, "Zip", err)
		return
	}
	// checked on the resolved path: "a.pem/." names the same file as "a.pem"
	for _, e := range entries {
		if ctrl.gate.RequiresPassword(e.Path()) {
			c.JSON(http.StatusUnauthorized, types.PrepareDownloadResponse{RequiresAuth: true, Reason: reasonPasswordRequired})
			return
		}
	}

	name := archive.FileName(time.Now().UnixMilli())
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", tool.ContentDisposition("attachment", name))
	c.Status(http.StatusOK)
	if err := archive.Write(c.Request.Context(), c.Writer, entries); err != nil {
		// headers are gone; the client sees a truncated archive
		tool.DefaultLogger.Errorf("[Zip] Failed to write %s: %v", name, err)
		return
	}
	tool.DefaultLogger.Infof("[Zip] Sent %s with %d files", name, len(entries))
}
