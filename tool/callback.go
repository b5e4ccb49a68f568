package tool

import (
	"maps"

	"github.com/gin-gonic/gin"
)

func FastReturnError(msg string) gin.H {
	return gin.H{
		"error": msg,
	}
}

func FastReturnSuccess() gin.H {
	return gin.H{
		"success": true,
	}
}

// FastReturnSuccessWithData merges data into a success body, e.g. {"success":true,"path":"a/b.txt"}.
func FastReturnSuccessWithData(data map[string]any) gin.H {
	resp := FastReturnSuccess()
	maps.Copy(resp, data)
	return resp
}

func FastReturnErrorWithData(msg string, data map[string]any) gin.H {
	resp := gin.H{
		"error": msg,
	}
	maps.Copy(resp, data)
	return resp
}
