package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	customlog "github.com/open-teleop/pointcloud-server/pkg/log"
	"github.com/open-teleop/pointcloud-server/services"
)

// AppConfig holds the HTTP settings of NewApp.
type AppConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
}

var corsMethods = strings.Join([]string{
	fiber.MethodGet,
	fiber.MethodHead,
	fiber.MethodPost,
	fiber.MethodPut,
	fiber.MethodPatch,
	fiber.MethodDelete,
	fiber.MethodOptions,
	fiber.MethodConnect,
	fiber.MethodTrace,
}, ",")

// NewApp builds the Fiber app serving the point cloud endpoints.
func NewApp(cfg AppConfig, service services.PointCloudService, logger customlog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Open-Teleop Point Cloud Server",
		ErrorHandler:          customErrorHandler,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
	})

	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(requestLogger(logger))
	app.Use(recover.New())
	// Any origin is reflected back, which is what allows credentials with it.
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool { return true },
		AllowMethods:     corsMethods,
		AllowCredentials: true,
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "open-teleop pointcloud server",
		})
	})

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	RegisterPointCloudRoutes(app, NewPointCloudHandler(service, logger, cfg.RequestTimeout))
	return app
}

// requestLogger logs one line per request with its status and duration.
func requestLogger(logger customlog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if err := c.Next(); err != nil {
			// Render the error now so the logged status is the one sent.
			if herr := c.App().Config().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		logger.WithFields(map[string]interface{}{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"bytes":      len(c.Response().Body()),
			"dur":        time.Since(start).Round(time.Microsecond),
			"request_id": c.GetRespHeader(fiber.HeaderXRequestID),
		}).Infof("request")
		return nil
	}
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	// Default 500 status code
	code := fiber.StatusInternalServerError

	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	// Return JSON response
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
