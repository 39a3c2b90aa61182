package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/thinknote/thinknote/models"
	"github.com/thinknote/thinknote/utils"
)

// Context keys set by the auth middleware.
const (
	CtxUserID   = "userID"
	CtxUsername = "username"
	CtxRole     = "role"
	CtxToken    = "token"
)

// extractToken pulls the JWT from the Authorization header or, failing
// that, the token cookie set at login.
func extractToken(ctx *gin.Context) string {
	header := ctx.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := ctx.Cookie("token"); err == nil {
		return cookie
	}
	return ""
}

func authenticate(ctx *gin.Context) (*utils.Claims, string, bool) {
	token := extractToken(ctx)
	if token == "" {
		return nil, "", false
	}
	if utils.IsTokenBlacklisted(token) {
		return nil, "", false
	}
	claims, err := utils.ParseToken(token)
	if err != nil {
		return nil, "", false
	}
	return claims, token, true
}

// AuthRequired rejects requests without a valid, non-revoked JWT and puts
// the caller's identity on the request context.
func AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims, token, ok := authenticate(ctx)
		if !ok {
			utils.Error(ctx, http.StatusUnauthorized, "authentication required")
			ctx.Abort()
			return
		}
		ctx.Set(CtxUserID, claims.UserID)
		ctx.Set(CtxUsername, claims.Username)
		ctx.Set(CtxRole, claims.Role)
		ctx.Set(CtxToken, token)
		ctx.Next()
	}
}

// OptionalAuth attaches the caller's identity when a valid token is present
// but lets anonymous requests through.
func OptionalAuth() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if claims, token, ok := authenticate(ctx); ok {
			ctx.Set(CtxUserID, claims.UserID)
			ctx.Set(CtxUsername, claims.Username)
			ctx.Set(CtxRole, claims.Role)
			ctx.Set(CtxToken, token)
		}
		ctx.Next()
	}
}

// AdminRequired runs after AuthRequired and rejects non-admin callers.
func AdminRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.GetString(CtxRole) != models.RoleAdmin {
			utils.Error(ctx, http.StatusForbidden, "admin access required")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// CurrentUserID returns the authenticated caller's id, or 0 when anonymous.
func CurrentUserID(ctx *gin.Context) uint {
	if v, ok := ctx.Get(CtxUserID); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}
