package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/text/language"

	"filterspec/internal/admin"
	"filterspec/internal/auth"
	"filterspec/internal/cache"
	"filterspec/internal/compose"
	"filterspec/internal/config"
	"filterspec/internal/convert"
	"filterspec/internal/engine"
	"filterspec/internal/expression"
	"filterspec/internal/instrument"
	"filterspec/internal/metadata"
	"filterspec/internal/rule"
	"filterspec/internal/source"
	"filterspec/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db: %s, definitions: %s)", cfg.Server.Port, cfg.Database.Driver, cfg.Filters.Definitions)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Load entities, relations and endpoints
	reg := metadata.NewRegistry()
	if err := metadata.LoadFile(cfg.Filters.Definitions, reg); err != nil {
		log.Fatalf("Failed to load definitions: %v", err)
	}

	// 4. Create missing tables
	if cfg.Database.Migrate {
		if err := store.NewMigrator(db).MigrateAll(ctx, reg); err != nil {
			log.Fatalf("Failed to migrate: %v", err)
		}
		log.Println("Tables ready")
	}

	// 5. Build the filter engine
	policy, err := convert.ParsePolicy(cfg.Filters.Policy)
	if err != nil {
		log.Fatalf("Invalid filters.policy: %v", err)
	}
	locale, err := language.Parse(cfg.Filters.Locale)
	if err != nil {
		log.Fatalf("Invalid filters.locale: %v", err)
	}
	patterns := cfg.Filters.Patterns
	converter := convert.New(
		convert.WithLayout(convert.KindDate, patterns.Date),
		convert.WithLayout(convert.KindDateTime, patterns.DateTime),
		convert.WithLayout(convert.KindOffsetDateTime, patterns.OffsetDateTime),
		convert.WithLayout(convert.KindInstant, patterns.Instant),
		convert.WithLayout(convert.KindTimestamp, patterns.Timestamp),
	)
	evaluator := expression.NewEvaluator(cfg.Properties())
	var plans *cache.Cache[*compose.Plan]
	opts := []compose.Option{compose.WithPolicy(policy), compose.WithLocale(locale)}
	if cfg.Filters.CacheSize > 0 {
		plans = cache.New[*compose.Plan](cfg.Filters.CacheSize, cfg.Filters.CacheShards)
		opts = append(opts, compose.WithCache(plans))
	}
	composer := compose.New(source.NewResolver(evaluator), converter, opts...)

	// 6. Compile every endpoint filter; a broken definition stops startup
	engineHandler := engine.NewHandler(db, reg, composer, cfg.Filters.MaxPerPage)
	if err := engineHandler.Compile(rule.Options{Schema: reg, Evaluator: evaluator}); err != nil {
		log.Fatalf("Failed to compile filters: %v", err)
	}

	// 7. Event buffer for request tracing
	events := instrument.NewEventBuffer(instrument.LogSink(nil, cfg.Instrumentation.SlowThresholdMs), 100, 2*time.Second)
	defer events.Stop()

	// 8. Create Fiber app
	app := fiber.New(fiber.Config{
		Immutable:    true,
		ErrorHandler: engine.ErrorHandler,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(instrument.Middleware(cfg.Instrumentation, events))

	// 9. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 10. Auth middleware for the API
	var apiMW []fiber.Handler
	if cfg.Auth.Enabled {
		authMW := auth.AuthMiddleware(cfg.JWTSecret)
		apiMW = append(apiMW, authMW)

		// 11. Admin routes need an admin token, so they only exist with auth.
		// Registered first so /api/_admin is never taken for an endpoint route.
		admin.RegisterAdminRoutes(app, admin.NewHandler(reg, plans), authMW, auth.RequireRole("admin"))
	}

	// 12. Register filtered endpoints
	engine.RegisterRoutes(app, engineHandler, apiMW...)

	// 13. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}
