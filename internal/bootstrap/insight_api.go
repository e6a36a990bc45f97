package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"insight_server/adapter/in/http"
	"insight_server/config"
	"insight_server/infra/middleware"
	"insight_server/pkg/apperr"
)

// NewAPI builds the fiber application with all routes registered.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		DisableStartupMessage: cfg.IsProduction(),

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		JSONEncoder:     json.Marshal,
		JSONDecoder:     json.Unmarshal,
		BodyLimit:       1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: "GET,PUT,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	// Probes (no auth)
	healthHandler := http.NewHealthHandler(deps.DB, deps.Redis)
	healthHandler.Register(app)

	// API routes (auth required)
	api := app.Group("/api/v1")
	api.Use(middleware.Auth(cfg.JWTSecret))

	analyzeHandler := http.NewAnalyzeHandler(deps.AnalysisService, deps.Log)
	analyzeHandler.Register(api)

	settingsHandler := http.NewSettingsHandler(deps.SettingsRepo, deps.UsageStore, deps.Log)
	settingsHandler.Register(api)

	deps.Log.Info().Str("port", cfg.Port).Msg("API server initialized")

	return app, cleanup, nil
}

// errorHandler maps application errors to HTTP responses.
func errorHandler(c *fiber.Ctx, err error) error {
	if fiberErr, ok := err.(*fiber.Error); ok {
		return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}
	appErr := apperr.AsAppError(err)
	return c.Status(apperr.GetHTTPStatus(appErr)).JSON(fiber.Map{
		"error": appErr.Message,
		"code":  appErr.Code,
	})
}
