package main

import (
	"log"

	"go.uber.org/zap"

	"github.com/thinknote/thinknote/config"
	"github.com/thinknote/thinknote/models"
	"github.com/thinknote/thinknote/routes"
	"github.com/thinknote/thinknote/utils"
)

func main() {
	cfg := config.Load()

	if err := utils.InitLogger(cfg); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	db := config.InitDatabase(
		&models.User{},
		&models.Post{},
		&models.Follow{},
		&models.Like{},
		&models.Bookmark{},
		&models.Comment{},
		&models.Notification{},
	)

	router := routes.SetupRouter(db, utils.NewSMTPMailer())

	addr := ":" + cfg.AppPort
	utils.Logger.Info("server starting", zap.String("addr", addr))
	if err := utils.GraceServer(addr, router); err != nil {
		utils.Logger.Fatal("server exited", zap.Error(err))
	}
}
