package main

import (
	"context"
	"log"

	"github.com/feedlogapp/feedlog-backend/internal/config"
	"github.com/feedlogapp/feedlog-backend/internal/database"
	"github.com/feedlogapp/feedlog-backend/internal/logger"
	"github.com/feedlogapp/feedlog-backend/internal/server"
	"github.com/feedlogapp/feedlog-backend/internal/services"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.InitWithConfig(logger.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Starting feedlog backend")

	db, err := database.NewPostgresDB(cfg.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Info("Database connection established and migrations completed")

	aiService, err := services.NewAIService(context.Background(), cfg.GeminiAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		logger.Fatalf("Failed to initialize AI service: %v", err)
	}
	sessionService := services.NewSessionService(db)
	backupService := services.NewBackupService(db)
	csvImportService := services.NewCSVImportService(db)
	insightsService := services.NewInsightsService(sessionService, aiService)
	logger.Info("Services initialized successfully")

	srv := server.New(sessionService, backupService, csvImportService, insightsService)
	addr := ":" + cfg.Server.Port
	logger.Info("API listening", "addr", addr)
	if err := srv.Run(addr); err != nil {
		logger.Fatalf("Server stopped with error: %v", err)
	}
}
