package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func performJSON(t *testing.T, handler gin.HandlerFunc) (int, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	handler(ctx)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestSuccessMergesData(t *testing.T) {
	code, body := performJSON(t, func(ctx *gin.Context) {
		Success(ctx, gin.H{"liked": true, "like_count": 3})
	})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["liked"])
	assert.Equal(t, float64(3), body["like_count"])
}

func TestSuccessWithNoExtraFields(t *testing.T) {
	code, body := performJSON(t, func(ctx *gin.Context) {
		Success(ctx, nil)
	})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"success": true}, body)
}

func TestErrorEnvelope(t *testing.T) {
	code, body := performJSON(t, func(ctx *gin.Context) {
		Error(ctx, http.StatusForbidden, "you do not own this post")
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "you do not own this post", body["message"])
}
