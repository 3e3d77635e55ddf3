// Command server runs the pharmacy storefront REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/iliyamo/pharmacy-storefront/internal/config"
	"github.com/iliyamo/pharmacy-storefront/internal/database"
	"github.com/iliyamo/pharmacy-storefront/internal/handler"
	"github.com/iliyamo/pharmacy-storefront/internal/middleware"
	"github.com/iliyamo/pharmacy-storefront/internal/queue"
	"github.com/iliyamo/pharmacy-storefront/internal/repository"
	"github.com/iliyamo/pharmacy-storefront/internal/router"
	"github.com/iliyamo/pharmacy-storefront/internal/seed"
	"github.com/iliyamo/pharmacy-storefront/internal/service"
	"github.com/iliyamo/pharmacy-storefront/internal/telemetry"
)

func main() {
	seedOnly := flag.Bool("seed", false, "load the demo catalog and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("env: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("db: %v", err)
		}
	}

	if *seedOnly {
		if _, err := seed.Run(ctx, repository.NewCatalogRepo(db)); err != nil {
			log.Fatal(err)
		}
		return
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable: cache, rate limiting and password reset disabled")
	} else {
		defer rdb.Close()
	}

	publisher := service.NewPublisher(cfg.AMQPURL)
	if os.Getenv("NOTIFY_CONSUMER") != "off" {
		go queue.StartNotificationConsumer(ctx, cfg.AMQPURL, "logs")
	}

	var resets handler.ResetTokens
	if rdb != nil {
		resets = repository.NewResetTokenStore(rdb, cfg.ResetTokenTTL)
	}
	tokens := repository.NewTokenRepo(db)
	go tokens.StartPurger(ctx, time.Hour, 24*time.Hour)

	authH := handler.NewAuthHandler(cfg, repository.NewUserRepo(db), tokens, resets, publisher)
	catalogH := handler.NewCatalogHandler(repository.NewCatalogRepo(db), func(ctx context.Context) {
		middleware.InvalidateCache(ctx, cfg.Cache, rdb)
	})
	cartH := handler.NewCartHandler(repository.NewCartRepo(db))
	addrH := handler.NewAddressHandler(repository.NewAddressRepo(db))
	orderH := handler.NewOrderHandler(repository.NewOrderRepo(db), publisher)

	var spans io.Writer
	if cfg.TraceSpans {
		spans = os.Stderr
	}
	stopTracing, err := telemetry.Setup("pharmacy-api", spans)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() { _ = stopTracing(context.Background()) }()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware("pharmacy-api")))
	e.Use(echomw.RequestID())
	e.Use(echomw.Logger())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
	}))

	router.RegisterRoutes(e)
	router.RegisterAuth(e, authH, cfg.JWTSecret, middleware.NewTokenBucket(cfg.RateLimit, rdb))
	router.RegisterCatalog(e, catalogH, cfg.JWTSecret, middleware.NewRedisCache(cfg.Cache, rdb))
	router.RegisterCustomer(e, cartH, addrH, orderH, cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
