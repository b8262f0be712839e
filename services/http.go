package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/rkr-ui/BOQMate/services/handlers"
	"github.com/rkr-ui/BOQMate/shared"
)

type HttpService struct {
	context.DefaultService

	gateSvc       *RequestGateService
	monitoringSvc *MonitoringService

	authHandler     *handlers.AuthHandler
	boqHandler      *handlers.BOQHandler
	securityHandler *handlers.SecurityHandler

	port   int
	server *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *context.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.gateSvc = svc.Service(REQUEST_GATE_SVC).(*RequestGateService)
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)

	svc.authHandler = handlers.NewAuthHandler(svc.Service(AUTH_SVC).(*AuthService))
	svc.boqHandler = handlers.NewBOQHandler(svc.Service(UPLOAD_VALIDATOR_SVC).(*UploadValidatorService))
	svc.securityHandler = handlers.NewSecurityHandler(svc.Service(SECURITY_MONITOR_SVC).(*SecurityEventMonitorService))

	app := fiber.New(fiber.Config{
		BodyLimit:    64 * 1024 * 1024,
		ErrorHandler: svc.handleError,
	})

	app.Use(recover.New())
	app.Use(securityHeaders())
	app.Use(MonitoringMiddleware(svc.monitoringSvc))
	app.Use(svc.gateSvc.Middleware())

	app.Get("/ping", svc.ping)

	v1 := app.Group("/api/v1")
	v1.Post("/register", svc.authHandler.Register)
	v1.Post("/login", svc.authHandler.Login)
	v1.Post("/generate-boq", svc.boqHandler.GenerateBOQ)
	v1.Get("/security/report", svc.securityHandler.Report)

	svc.server = app
	return app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set("Cache-Control", "max-age=10")
	return shared.ResponseJSON(c, http.StatusOK, "Success", "pong")
}

func (svc *HttpService) handleError(c *fiber.Ctx, err error) error {
	if appErr, ok := shared.GetAppError(err); ok {
		if retry, ok := appErr.Data.(shared.RetryInfo); ok && retry.RetryAfter > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(retry.RetryAfter, 10))
		}
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return shared.ResponseJSON(c, fiberErr.Code, fiberErr.Message, nil)
	}

	return shared.ResponseInternalError(c, err)
}

// securityHeaders applies the standard hardening headers to every response.
func securityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Set("Content-Security-Policy", "default-src 'self'")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		return c.Next()
	}
}
