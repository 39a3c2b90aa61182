package utils

import "github.com/gin-gonic/gin"

// Success writes `{"success": true, ...data}` with HTTP 200. Extra fields in
// data are merged into the top-level object so toggle endpoints can return the
// resulting state and the authoritative counter side by side.
func Success(ctx *gin.Context, data gin.H) {
	out := gin.H{"success": true}
	for k, v := range data {
		out[k] = v
	}
	ctx.JSON(200, out)
}

// Error writes `{"success": false, "message": ...}` with the given status code.
func Error(ctx *gin.Context, status int, message string) {
	ctx.JSON(status, gin.H{"success": false, "message": message})
}
