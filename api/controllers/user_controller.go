package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/localvault/access"
	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
)

type UserController struct {
	gate *access.Gate
}

func NewUserController(gate *access.Gate) *UserController {
	return &UserController{gate: gate}
}

// HandleLogin checks the static credentials.
// POST /api/auth/login (rate limited per IP by the router)
func (ctrl *UserController) HandleLogin(c *gin.Context) {
	var req types.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Invalid request body"))
		return
	}
	if !ctrl.gate.Authenticate(req.Username, req.Password) {
		tool.DefaultLogger.Infof("[Auth] Failed login for %q from %s", req.Username, c.ClientIP())
		c.JSON(http.StatusUnauthorized, tool.FastReturnError("Invalid credentials"))
		return
	}
	c.JSON(http.StatusOK, tool.FastReturnSuccess())
}
