package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/localvault/notify"
	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
	"github.com/moyoez/localvault/vault"
)

type FilesController struct {
	root *vault.Root
}

func NewFilesController(root *vault.Root) *FilesController {
	return &FilesController{root: root}
}

// HandleList lists one folder of the vault.
// GET /api/files?path=
func (ctrl *FilesController) HandleList(c *gin.Context) {
	rel := c.Query("path")
	files, err := ctrl.root.List(rel)
	if err != nil {
		abortWithError(c, "Files", err)
		return
	}
	c.JSON(http.StatusOK, types.ListFilesResponse{Path: rel, Files: files})
}

// HandleCreateFolder creates a folder inside currentPath.
// POST /api/files/folder
func (ctrl *FilesController) HandleCreateFolder(c *gin.Context) {
	var req types.CreateFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Invalid request body"))
		return
	}
	folder, err := ctrl.root.CreateFolder(req.CurrentPath, req.FolderName)
	if err != nil {
		abortWithError(c, "Files", err)
		return
	}
	notify.SendItemChanged(types.NotifyTypeFolderCreated, folder.Path, nil)
	c.JSON(http.StatusOK, tool.FastReturnSuccessWithData(map[string]any{"folder": folder}))
}

// HandleRename renames a file or folder in place.
// POST /api/files/rename
func (ctrl *FilesController) HandleRename(c *gin.Context) {
	var req types.RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing path"))
		return
	}
	renamed, err := ctrl.root.Rename(req.Path, req.NewName)
	if err != nil {
		abortWithError(c, "Files", err)
		return
	}
	notify.SendItemChanged(types.NotifyTypeItemRenamed, renamed.Path, map[string]any{"from": req.Path})
	c.JSON(http.StatusOK, tool.FastReturnSuccessWithData(map[string]any{"file": renamed}))
}

// HandleDelete removes a file, or a folder with everything in it.
// DELETE /api/files?path=
func (ctrl *FilesController) HandleDelete(c *gin.Context) {
	rel := c.Query("path")
	if rel == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing path"))
		return
	}
	if err := ctrl.root.Delete(rel); err != nil {
		abortWithError(c, "Files", err)
		return
	}
	notify.SendItemChanged(types.NotifyTypeItemDeleted, rel, nil)
	c.JSON(http.StatusOK, tool.FastReturnSuccess())
}
