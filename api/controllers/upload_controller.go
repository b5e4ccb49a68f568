package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/localvault/notify"
	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
	"github.com/moyoez/localvault/upload"
)

// multipartOverhead is the slack allowed on top of a chunk for the form fields and boundaries.
const multipartOverhead = 1 << 20

type UploadController struct {
	receiver  *upload.Receiver
	finalizer *upload.Finalizer
	sessions  *upload.Sessions
	maxChunk  int64
}

func NewUploadController(receiver *upload.Receiver, finalizer *upload.Finalizer, sessions *upload.Sessions, maxChunk int64) *UploadController {
	return &UploadController{
		receiver:  receiver,
		finalizer: finalizer,
		sessions:  sessions,
		maxChunk:  maxChunk,
	}
}

// HandleChunk stores one chunk of an upload session.
// POST /api/upload/chunk (multipart: chunk, uploadId, chunkIndex)
func (ctrl *UploadController) HandleChunk(c *gin.Context) {
	if ctrl.maxChunk > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, ctrl.maxChunk+multipartOverhead)
	}

	// FormFile parses the whole multipart body, so an oversized request fails here first
	header, err := c.FormFile("chunk")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, tool.FastReturnError(types.ErrChunkTooLarge.Error()))
			return
		}
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing chunk"))
		return
	}
	uploadID := c.PostForm("uploadId")
	if uploadID == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing uploadId"))
		return
	}
	index, err := strconv.Atoi(c.PostForm("chunkIndex"))
	if err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Invalid chunkIndex"))
		return
	}
	src, err := header.Open()
	if err != nil {
		tool.DefaultLogger.Errorf("[Upload] Failed to open chunk %d of %s: %v", index, uploadID, err)
		c.JSON(http.StatusInternalServerError, tool.FastReturnError("Failed to read chunk"))
		return
	}
	defer src.Close()

	if _, err := ctrl.receiver.Receive(c.Request.Context(), uploadID, index, src); err != nil {
		abortWithError(c, "Upload", err)
		return
	}
	c.JSON(http.StatusOK, types.UploadChunkResponse{Success: true})
}

// HandleFinalize assembles an upload session into the storage root.
// POST /api/upload/finalize
func (ctrl *UploadController) HandleFinalize(c *gin.Context) {
	var req types.FinalizeUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Invalid request body"))
		return
	}
	if req.UploadID == "" || req.FileName == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing uploadId or fileName"))
		return
	}

	stored, err := ctrl.finalizer.Finalize(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, "Finalize", fmt.Errorf("finalize %s: %w", req.UploadID, err))
		return
	}
	notify.SendUploadFinalized(req.UploadID, stored)
	c.JSON(http.StatusOK, types.FinalizeUploadResponse{Success: true, Path: stored.Path})
}

// HandleStatus reports what the server has received for an upload session.
// GET /api/upload/status?uploadId=
func (ctrl *UploadController) HandleStatus(c *gin.Context) {
	uploadID := c.Query("uploadId")
	if !upload.ValidUploadID(uploadID) {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Invalid uploadId"))
		return
	}
	status, ok := ctrl.sessions.Status(uploadID)
	if !ok {
		c.JSON(http.StatusNotFound, tool.FastReturnError("Upload session not found"))
		return
	}
	c.JSON(http.StatusOK, status)
}
