package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/moyoez/localvault/tool"
)

const (
	defaultQRSize = 200
	maxQRSize     = 512
)

// HandleShareQR returns a PNG QR code of the absolute download link for a token, so a phone
// on the same network can fetch the file.
// GET /api/self/v1/share-qr?token=<token>&size=200x200&host=<lan-host:port>
func HandleShareQR(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing required parameter: token"))
		return
	}
	host := c.Query("host")
	if host == "" {
		host = c.Request.Host
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	link := scheme + "://" + host + DownloadURL(token)

	size := parseSize(c.Query("size"))
	if size == 0 {
		size = defaultQRSize
	}
	size = min(size, maxQRSize)

	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, tool.FastReturnError("Failed to encode QR code: "+err.Error()))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// parseSize reads the pixel width from "200x200" or "200". Zero means invalid.
func parseSize(s string) int {
	width, _, _ := strings.Cut(strings.TrimSpace(s), "x")
	n, err := strconv.Atoi(strings.TrimSpace(width))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
