package routes

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/thinknote/thinknote/config"
	"github.com/thinknote/thinknote/controllers"
	"github.com/thinknote/thinknote/middleware"
	"github.com/thinknote/thinknote/services"
	"github.com/thinknote/thinknote/utils"
)

// SetupRouter wires middleware, controllers and routes into a gin engine.
func SetupRouter(db *gorm.DB, mailer *utils.SMTPMailer) *gin.Engine {
	cfg := config.Get()
	gin.SetMode(cfg.GinMode)

	router := gin.New()

	accessLogger, err := utils.NewRollingFileLogger(
		cfg.GinPath, cfg.LogLevel,
		cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress,
	)
	if err != nil {
		accessLogger = utils.Logger
	}
	router.Use(utils.Ginzap(accessLogger, time.RFC3339, true))
	router.Use(utils.RecoveryWithZap(accessLogger, true))

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
		corsCfg.AllowCredentials = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))
	router.Use(middleware.RateLimit(cfg.RateLimitPerMinute))

	dispatcher := services.NewNotificationDispatcher(db, mailer)
	engagement := services.NewEngagementService(db, dispatcher)

	authCtl := controllers.NewAuthController(db, mailer)
	postCtl := controllers.NewPostController(db, engagement)
	engageCtl := controllers.NewEngagementController(db, engagement)
	userCtl := controllers.NewUserController(db)
	feedCtl := controllers.NewFeedController(db)
	adminCtl := controllers.NewAdminController(db)

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/register", authCtl.Register)
		auth.GET("/verify/:token", authCtl.VerifyEmail)
		auth.POST("/resend-verification", authCtl.ResendVerification)
		auth.POST("/login", authCtl.Login)
		auth.POST("/logout", middleware.AuthRequired(), authCtl.Logout)
		auth.POST("/forgot-password", authCtl.ForgotPassword)
		auth.POST("/reset-password/:token", authCtl.ResetPassword)
	}

	me := api.Group("/me", middleware.AuthRequired())
	{
		me.GET("", authCtl.Me)
		me.PATCH("/settings", authCtl.UpdateSettings)
		me.POST("/password", authCtl.ChangePassword)
		me.GET("/posts", postCtl.Mine)
		me.GET("/bookmarks", postCtl.Bookmarks)
		me.GET("/notifications", engageCtl.Notifications)
		me.POST("/notifications/read", engageCtl.MarkAllNotificationsRead)
		me.POST("/notifications/:id/read", engageCtl.MarkNotificationRead)
	}

	posts := api.Group("/posts")
	{
		posts.GET("", feedCtl.Global)
		posts.GET("/search", feedCtl.Search)
		posts.GET("/trending", feedCtl.Trending)
		posts.GET("/tags", feedCtl.Tags)
		posts.GET("/tag/:tag", feedCtl.Tag)
		posts.GET("/feed", middleware.AuthRequired(), feedCtl.Following)
		posts.POST("", middleware.AuthRequired(), postCtl.Create)
		posts.GET("/:slug", middleware.OptionalAuth(), postCtl.Get)
		posts.PATCH("/:slug", middleware.AuthRequired(), postCtl.Update)
		posts.DELETE("/:slug", middleware.AuthRequired(), postCtl.Delete)

		posts.POST("/:slug/like", middleware.AuthRequired(), engageCtl.ToggleLike)
		posts.POST("/:slug/bookmark", middleware.AuthRequired(), engageCtl.ToggleBookmark)
		posts.GET("/:slug/comments", engageCtl.Comments)
		posts.POST("/:slug/comments", middleware.AuthRequired(), engageCtl.AddComment)
	}
	api.DELETE("/comments/:id", middleware.AuthRequired(), engageCtl.DeleteComment)

	users := api.Group("/users")
	{
		users.GET("/:username", middleware.OptionalAuth(), userCtl.Profile)
		users.GET("/:username/followers", userCtl.Followers)
		users.GET("/:username/following", userCtl.Following)
		users.POST("/:username/follow", middleware.AuthRequired(), engageCtl.ToggleFollow)
	}

	admin := api.Group("/admin", middleware.AuthRequired(), middleware.AdminRequired())
	{
		admin.GET("/dashboard", adminCtl.Dashboard)
		admin.GET("/users", adminCtl.Users)
		admin.GET("/posts", adminCtl.Posts)
		admin.POST("/users/:username/suspend", adminCtl.Suspend)
		admin.POST("/users/:username/unsuspend", adminCtl.Unsuspend)
		admin.DELETE("/users/:username", adminCtl.DeleteUser)
	}

	router.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, "route not found")
	})

	return router
}
