// cmd/api/main.go

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mawa444/conso-gab-sub006/internal/auth"
	"github.com/Mawa444/conso-gab-sub006/internal/common/database"
	"github.com/Mawa444/conso-gab-sub006/internal/config"
	"github.com/Mawa444/conso-gab-sub006/internal/messaging"
)

func main() {
	// Load .env if present; real environments set variables directly
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Database connections
	db, err := database.NewPostgresDB(cfg.DatabaseURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisClientFromURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// Messaging wiring
	repo := messaging.NewPostgresRepository(db)
	profiles := messaging.NewProfileDirectory(repo, redisClient)
	realtime := messaging.NewRedisRealtime(redisClient)
	defer realtime.Close()

	// Attachment storage
	var storage messaging.AttachmentStorage
	if cfg.UseS3 {
		awsSession, err := session.NewSession(&aws.Config{
			Region:      aws.String(cfg.AWSRegion),
			Credentials: credentials.NewStaticCredentials(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		})
		if err != nil {
			log.Printf("Warning: AWS session creation failed, attachments disabled: %v", err)
		} else {
			storage = messaging.NewS3Storage(awsSession, cfg.S3BucketName, cfg.CDNBaseURL, cfg.MaxAttachmentSize)
		}
	}

	// Offline notification
	var notifier messaging.Notifier
	if cfg.EnableEmailNotifications && cfg.EmailProvider == "sendgrid" && cfg.SendGridAPIKey != "" {
		notifier = messaging.NewEmailNotifier(repo, profiles, cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailFromName)
	} else {
		notifier = messaging.MockNotifier{}
	}

	service := messaging.NewService(repo, profiles, realtime, notifier)

	hub := messaging.NewHub(service, realtime)
	service.SetPresence(hub)
	go hub.Run()

	// Routes
	router := mux.NewRouter()
	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)

	handler := messaging.NewHandler(service, hub, realtime, storage)
	messaging.RegisterRoutes(router, handler, authMiddleware.Authenticate)
	messaging.RegisterHealthCheck(router, handler)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Server listening on %s (%s)", server.Addr, cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}

	log.Println("Server stopped")
}
