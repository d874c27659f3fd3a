package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jeovahfialho/agro-cotacoes/internal/api"
	"github.com/jeovahfialho/agro-cotacoes/internal/app"
	"github.com/jeovahfialho/agro-cotacoes/internal/config"
	pkglogger "github.com/jeovahfialho/agro-cotacoes/pkg/logger"
)

// @title Agro Cotações API
// @version 1.0
// @description API de cotações diárias de commodities agropecuárias por estado
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
func main() {
	cfg := config.Load()

	if err := pkglogger.Init(cfg.LogLevel, cfg.Development()); err != nil {
		log.Fatal("Erro ao inicializar logger:", err)
	}
	defer pkglogger.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	a, err := app.New(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatal("Erro ao inicializar aplicação:", err)
	}
	defer a.Close()
	log.Printf("✅ Armazenamento %s pronto", cfg.StoreDriver)

	var cacheHealth api.HealthChecker
	if a.Cache != nil {
		cacheHealth = a.Cache
		log.Println("✅ Conectado ao Redis")
	} else {
		log.Println("⚠️ Redis não disponível (continuando sem cache)")
	}

	if cfg.IngestionEnabled {
		if err := a.Scheduler.Start(); err != nil {
			log.Fatal("Erro ao iniciar agendador:", err)
		}
		log.Printf("⏰ Agendador iniciado com %d provedores", a.Registry.Len())
	}

	handler := api.NewHandler(a.Prices, a.Aggregation, a.Ingestion, a.Store, cacheHealth)

	server := fiber.New(fiber.Config{
		Prefork:                 false,
		ServerHeader:            "Agro-Cotacoes",
		DisableStartupMessage:   false,
		AppName:                 "Agro Cotações v" + api.Version,
		ReadTimeout:             cfg.APIReadTimeout,
		WriteTimeout:            cfg.APIWriteTimeout,
		IdleTimeout:             120 * time.Second,
		ReadBufferSize:          8192,
		WriteBufferSize:         8192,
		ProxyHeader:             "X-Forwarded-For",
		EnableTrustedProxyCheck: true,
		BodyLimit:               1 * 1024 * 1024,
	})

	// Middleware
	server.Use(recover.New())
	server.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	server.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	server.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	api.SetupRoutes(server, handler, api.RouteOptions{
		AdminUser:      cfg.AdminUser,
		AdminPassword:  cfg.AdminPassword,
		RateLimit:      cfg.APIRateLimit,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Encerrando servidor...")
		if cfg.IngestionEnabled {
			stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
			if err := a.Scheduler.Stop(stopCtx); err != nil {
				log.Printf("⚠️ Agendador não parou a tempo: %v", err)
			}
			stop()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("Erro ao encerrar servidor: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Printf("🚀 Servidor iniciando em %s", addr)

	if err := server.Listen(addr); err != nil {
		log.Fatal("Erro no servidor:", err)
	}
}
