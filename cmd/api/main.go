package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/skyhire/skyhire-backend/internal/database"
	"github.com/skyhire/skyhire-backend/internal/engine"
	"github.com/skyhire/skyhire-backend/internal/gateway"
	"github.com/skyhire/skyhire-backend/internal/handlers"
	"github.com/skyhire/skyhire-backend/internal/ledger"
	"github.com/skyhire/skyhire-backend/internal/middleware"
	"github.com/skyhire/skyhire-backend/internal/services"
	"github.com/skyhire/skyhire-backend/internal/stats"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Fatal("Error loading .env file")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database with better error handling
	db, err := database.InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Get underlying SQL DB instance
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}

	// Configure connection pool
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Initialize Redis
	if err := services.InitRedis(); err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}

	// Wire the lifecycle engine: ledger store, payment gateway, stats
	store := ledger.NewGormStore(db)
	var gw gateway.PaymentGateway
	if os.Getenv("STRIPE_SECRET_KEY") != "" {
		gw = gateway.NewStripeGateway(logger)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, using fake payment gateway")
		gw = gateway.NewFakeGateway()
	}
	recorder := stats.NewRecorder(db, logger)
	eng := engine.New(store, gw, recorder, logger)

	// Background retry of unsettled transfers and unvoided captures
	reconcileInterval := time.Minute
	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			reconcileInterval = d
		}
	}
	reconciler := engine.NewReconciler(eng, reconcileInterval, logger)
	go reconciler.Run(context.Background())

	// Initialize WebSocket hub
	hub := services.NewHub()
	go hub.Run()

	// Initialize router
	r := gin.Default()

	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(config))

	// Routes
	api := r.Group("/api")
	{
		// Public routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", handlers.Register(db))
			auth.POST("/login", handlers.Login(db))
		}

		// WebSocket connection
		api.GET("/ws", middleware.AuthMiddleware(), handlers.WebSocketHandler(hub))

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			// User routes
			users := protected.Group("/users")
			{
				users.GET("/profile", handlers.GetProfile(db))
				users.PUT("/profile", handlers.UpdateProfile(db))
			}

			// Bookings routes
			bookings := protected.Group("/bookings")
			{
				bookings.POST("", handlers.CreateBooking(eng))
				bookings.GET("/available", handlers.GetAvailableBookings(eng))
				bookings.GET("/customer", handlers.GetCustomerBookings(eng))
				bookings.GET("/pilot", handlers.GetPilotBookings(eng))
				bookings.GET("/:id", handlers.GetBooking(eng))
			}

			// Lifecycle routes, keyed by booking
			flights := protected.Group("/flights")
			{
				flights.POST("/:bookingId/accept", handlers.AcceptBooking(eng, hub))
				flights.POST("/:bookingId/cancel", handlers.CancelBooking(eng, hub))
				flights.POST("/:bookingId/complete", handlers.MarkComplete(eng, hub))
				flights.POST("/:bookingId/rate", handlers.SubmitRating(eng))
				flights.POST("/:bookingId/tip", handlers.AddTip(eng, hub))
			}
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
