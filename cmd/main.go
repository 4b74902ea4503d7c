package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"

	_ "place-service/docs"
	"place-service/internal/app"
	"place-service/internal/config"
	"place-service/internal/handlers"
)

// @title Place Service API
// @version 1.0
// @description Place registry backed by an object store and a geo index.
// @BasePath /api/places
func main() {
	cfg := InitConfig()
	components := InitComponents(cfg)
	defer components.Close()

	fiberApp := fiber.New()

	//Register Prometheus metrics endpoint
	fiberApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Set up routes for place create and nearby lookups
	h := handlers.NewPlaceHandler(components.Registry)
	api := fiberApp.Group("/api/places")
	handlers.RegisterPlaceRoutes(api, h, cfg.CreateRateLimit)

	api.Get("/swagger/*", swagger.HandlerDefault)

	routes := fiberApp.GetRoutes()
	log.Println("Registered routes:")
	for _, r := range routes {
		log.Printf("  %s %s\n", r.Method, r.Path)
	}

	// Start the Fiber server
	port := cfg.AppPort
	if port == "" {
		port = "8080"
		log.Printf("Defaulting to port %s", port)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Printf("Shutting down")
		if err := fiberApp.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Server listening on port %s", port)
	if err := fiberApp.Listen(":" + port); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}

func InitConfig() *config.Config {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	return cfg
}

func InitComponents(cfg *config.Config) *app.Components {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	components, err := app.Open(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Store initialization failed: %v", err)
	}
	return components
}
