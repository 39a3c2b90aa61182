package controllers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/thinknote/thinknote/middleware"
	"github.com/thinknote/thinknote/models"
	"github.com/thinknote/thinknote/services"
	"github.com/thinknote/thinknote/utils"
)

const (
	sessionDuration = 7 * 24 * time.Hour
	verifyTokenTTL  = 24 * time.Hour
	resetTokenTTL   = time.Hour
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_-]{3,30}$`)

// TransactionalMailer sends account lifecycle email. Split from
// services.Mailer because these sends are not engagement notifications.
type TransactionalMailer interface {
	SendVerificationEmail(email, token string) error
	SendPasswordResetEmail(email, token string) error
}

// AuthController handles registration, verification, sessions and account
// settings.
type AuthController struct {
	DB     *gorm.DB
	Mailer TransactionalMailer
}

func NewAuthController(db *gorm.DB, mailer TransactionalMailer) *AuthController {
	return &AuthController{DB: db, Mailer: mailer}
}

type registerRequest struct {
	Username    string `json:"username" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name" binding:"required,max=60"`
}

// Register creates an unverified account and emails a verification link.
func (a *AuthController) Register(ctx *gin.Context) {
	var req registerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "username, email, password and display_name are required")
		return
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !usernamePattern.MatchString(req.Username) {
		utils.Error(ctx, http.StatusBadRequest, "username must be 3-30 chars of a-z, 0-9, _ or -")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not process password")
		return
	}
	exp := time.Now().Add(verifyTokenTTL)
	user := models.User{
		Username:       req.Username,
		Email:          req.Email,
		PasswordHash:   hash,
		DisplayName:    strings.TrimSpace(req.DisplayName),
		Role:           models.RoleUser,
		VerifyToken:    uuid.NewString(),
		VerifyTokenExp: &exp,
	}
	if err := a.DB.WithContext(ctx.Request.Context()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.Error(ctx, http.StatusConflict, "username or email already taken")
			return
		}
		utils.Logger.Error("register failed", zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, "registration failed")
		return
	}

	if a.Mailer != nil {
		go func(email, token string) {
			if err := a.Mailer.SendVerificationEmail(email, token); err != nil {
				utils.Logger.Warn("verification email failed", zap.String("email", email), zap.Error(err))
			}
		}(user.Email, user.VerifyToken)
	}
	utils.Success(ctx, gin.H{"message": "account created, check your email to verify"})
}

// VerifyEmail consumes a verification token.
func (a *AuthController) VerifyEmail(ctx *gin.Context) {
	token := ctx.Param("token")
	var user models.User
	err := a.DB.WithContext(ctx.Request.Context()).
		Where("verify_token = ?", token).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Error(ctx, http.StatusNotFound, "invalid verification link")
		return
	}
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "verification failed")
		return
	}
	if user.VerifyTokenExp == nil || time.Now().After(*user.VerifyTokenExp) {
		utils.Error(ctx, http.StatusUnprocessableEntity, "verification link expired, request a new one")
		return
	}
	err = a.DB.WithContext(ctx.Request.Context()).Model(&user).
		Select("is_verified", "verify_token", "verify_token_exp").
		Updates(map[string]interface{}{
			"is_verified":      true,
			"verify_token":     "",
			"verify_token_exp": nil,
		}).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "verification failed")
		return
	}
	utils.Success(ctx, gin.H{"message": "email verified, you can sign in now"})
}

// ResendVerification issues a fresh verification token for an unverified
// account. The response never reveals whether the email exists.
func (a *AuthController) ResendVerification(ctx *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "email is required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	err := a.DB.WithContext(ctx.Request.Context()).
		Where("email = ? AND is_verified = ?", email, false).First(&user).Error
	if err == nil {
		exp := time.Now().Add(verifyTokenTTL)
		token := uuid.NewString()
		updateErr := a.DB.WithContext(ctx.Request.Context()).Model(&user).
			Updates(map[string]interface{}{
				"verify_token":     token,
				"verify_token_exp": exp,
			}).Error
		if updateErr == nil && a.Mailer != nil {
			go func() {
				if err := a.Mailer.SendVerificationEmail(email, token); err != nil {
					utils.Logger.Warn("verification email failed", zap.String("email", email), zap.Error(err))
				}
			}()
		}
	}
	utils.Success(ctx, gin.H{"message": "if the account exists, a verification email is on its way"})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates by email and password and issues a week-long JWT,
// both in the body and as an http-only cookie.
func (a *AuthController) Login(ctx *gin.Context) {
	var req loginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "email and password are required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	err := a.DB.WithContext(ctx.Request.Context()).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !utils.CheckPassword(user.PasswordHash, req.Password)) {
		utils.Error(ctx, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "login failed")
		return
	}
	if user.IsSuspended {
		utils.Error(ctx, http.StatusForbidden, "account suspended")
		return
	}
	if !user.IsVerified {
		utils.Error(ctx, http.StatusForbidden, "verify your email before signing in")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, sessionDuration)
	if err != nil {
		utils.Logger.Error("token generation failed", zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, "login failed")
		return
	}
	ctx.SetCookie("token", token, int(sessionDuration.Seconds()), "/", "", false, true)
	utils.Success(ctx, gin.H{"token": token, "user": publicUser(&user)})
}

// Logout revokes the current token and clears the session cookie.
func (a *AuthController) Logout(ctx *gin.Context) {
	if token := ctx.GetString(middleware.CtxToken); token != "" {
		if claims, err := utils.ParseToken(token); err == nil && claims.ExpiresAt != nil {
			utils.BlacklistToken(token, claims.ExpiresAt.Time)
		}
	}
	ctx.SetCookie("token", "", -1, "/", "", false, true)
	utils.Success(ctx, gin.H{"message": "signed out"})
}

// ForgotPassword issues a one-hour reset token. The response never reveals
// whether the email exists.
func (a *AuthController) ForgotPassword(ctx *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "email is required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	err := a.DB.WithContext(ctx.Request.Context()).Where("email = ?", email).First(&user).Error
	if err == nil {
		exp := time.Now().Add(resetTokenTTL)
		token := uuid.NewString()
		updateErr := a.DB.WithContext(ctx.Request.Context()).Model(&user).
			Updates(map[string]interface{}{
				"reset_token":     token,
				"reset_token_exp": exp,
			}).Error
		if updateErr == nil && a.Mailer != nil {
			go func() {
				if err := a.Mailer.SendPasswordResetEmail(email, token); err != nil {
					utils.Logger.Warn("reset email failed", zap.String("email", email), zap.Error(err))
				}
			}()
		}
	}
	utils.Success(ctx, gin.H{"message": "if the account exists, a reset email is on its way"})
}

// ResetPassword consumes a reset token and replaces the password.
func (a *AuthController) ResetPassword(ctx *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required,min=8"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	token := ctx.Param("token")

	var user models.User
	err := a.DB.WithContext(ctx.Request.Context()).
		Where("reset_token = ?", token).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Error(ctx, http.StatusNotFound, "invalid reset link")
		return
	}
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "reset failed")
		return
	}
	if user.ResetTokenExp == nil || time.Now().After(*user.ResetTokenExp) {
		utils.Error(ctx, http.StatusUnprocessableEntity, "reset link expired, request a new one")
		return
	}
	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not process password")
		return
	}
	err = a.DB.WithContext(ctx.Request.Context()).Model(&user).
		Select("password_hash", "reset_token", "reset_token_exp").
		Updates(map[string]interface{}{
			"password_hash":   hash,
			"reset_token":     "",
			"reset_token_exp": nil,
		}).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "reset failed")
		return
	}
	utils.Success(ctx, gin.H{"message": "password updated, sign in with your new password"})
}

// Me returns the authenticated user's own profile, settings and counts.
func (a *AuthController) Me(ctx *gin.Context) {
	userID := middleware.CurrentUserID(ctx)
	var user models.User
	if err := a.DB.WithContext(ctx.Request.Context()).First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, "user not found")
		return
	}
	var followers, following int64
	a.DB.Model(&models.Follow{}).Where("followee_id = ?", userID).Count(&followers)
	a.DB.Model(&models.Follow{}).Where("follower_id = ?", userID).Count(&following)
	utils.Success(ctx, gin.H{
		"user":            user,
		"follower_count":  followers,
		"following_count": following,
	})
}

type settingsRequest struct {
	DisplayName     *string `json:"display_name"`
	Bio             *string `json:"bio"`
	AvatarURL       *string `json:"avatar_url"`
	Website         *string `json:"website"`
	Twitter         *string `json:"twitter"`
	GitHub          *string `json:"github"`
	NotifyOnFollow  *bool   `json:"notify_on_follow"`
	NotifyOnLike    *bool   `json:"notify_on_like"`
	NotifyOnComment *bool   `json:"notify_on_comment"`
}

// UpdateSettings applies partial profile and notification preference edits.
// Pointer fields distinguish "leave alone" from "set to zero value".
func (a *AuthController) UpdateSettings(ctx *gin.Context) {
	var req settingsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "invalid settings payload")
		return
	}
	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" || len([]rune(name)) > 60 {
			utils.Error(ctx, http.StatusBadRequest, "display_name must be 1-60 characters")
			return
		}
		updates["display_name"] = name
	}
	if req.Bio != nil {
		if len([]rune(*req.Bio)) > 300 {
			utils.Error(ctx, http.StatusBadRequest, "bio must be at most 300 characters")
			return
		}
		updates["bio"] = utils.Sanitize(*req.Bio)
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = strings.TrimSpace(*req.AvatarURL)
	}
	if req.Website != nil {
		updates["website"] = strings.TrimSpace(*req.Website)
	}
	if req.Twitter != nil {
		updates["twitter"] = strings.TrimSpace(*req.Twitter)
	}
	if req.GitHub != nil {
		updates["github"] = strings.TrimSpace(*req.GitHub)
	}
	if req.NotifyOnFollow != nil {
		updates["notify_on_follow"] = *req.NotifyOnFollow
	}
	if req.NotifyOnLike != nil {
		updates["notify_on_like"] = *req.NotifyOnLike
	}
	if req.NotifyOnComment != nil {
		updates["notify_on_comment"] = *req.NotifyOnComment
	}
	if len(updates) == 0 {
		utils.Error(ctx, http.StatusBadRequest, "nothing to update")
		return
	}

	userID := middleware.CurrentUserID(ctx)
	err := a.DB.WithContext(ctx.Request.Context()).Model(&models.User{}).
		Where("id = ?", userID).Updates(updates).Error
	if err != nil {
		utils.Logger.Error("settings update failed", zap.Uint("user_id", userID), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, "settings update failed")
		return
	}
	var user models.User
	if err := a.DB.WithContext(ctx.Request.Context()).First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "settings update failed")
		return
	}
	utils.Success(ctx, gin.H{"user": user})
}

// ChangePassword replaces the caller's password after checking the current one.
func (a *AuthController) ChangePassword(ctx *gin.Context) {
	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required,min=8"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "current_password and new_password (min 8 chars) are required")
		return
	}
	userID := middleware.CurrentUserID(ctx)
	var user models.User
	if err := a.DB.WithContext(ctx.Request.Context()).First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, "user not found")
		return
	}
	if !utils.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		utils.Error(ctx, http.StatusUnauthorized, "current password is incorrect")
		return
	}
	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not process password")
		return
	}
	if err := a.DB.WithContext(ctx.Request.Context()).Model(&user).
		Update("password_hash", hash).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "password change failed")
		return
	}
	utils.Success(ctx, gin.H{"message": "password changed"})
}

// publicUser projects a user for responses that embed other people's
// profiles.
func publicUser(u *models.User) gin.H {
	return gin.H{
		"id":           u.ID,
		"username":     u.Username,
		"display_name": u.DisplayName,
		"avatar_url":   u.AvatarURL,
		"bio":          u.Bio,
		"role":         u.Role,
	}
}

// writeAppError maps a service error onto the response envelope.
func writeAppError(ctx *gin.Context, err error) {
	appErr := services.AsAppError(err)
	if appErr.Kind == services.KindDependency {
		utils.Logger.Error("service dependency failure", zap.Error(appErr))
		utils.Error(ctx, appErr.Status(), "internal error")
		return
	}
	utils.Error(ctx, appErr.Status(), appErr.Message)
}
