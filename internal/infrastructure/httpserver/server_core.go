package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/email-verification/internal/core/ports"
	customMiddleware "github.com/avatarctic/email-verification/internal/infrastructure/httpserver/middleware"
)

type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TLSCertFile    string
	TLSKeyFile     string
	AllowedOrigins []string
}

type ServerDeps struct {
	VerificationService ports.VerificationService
	HealthCheckers      []ports.HealthChecker
	// ResendCooldown and Clock compute Retry-After when a resend is refused; Clock should be
	// the one the verification service uses. Nil falls back to the wall clock.
	ResendCooldown time.Duration
	Clock          ports.Clock
}

type Server struct {
	echo            *echo.Echo
	config          *ServerConfig
	logger          *logrus.Logger
	verificationSvc ports.VerificationService
	resendCooldown  time.Duration
	middleware      *customMiddleware.MiddlewareCollection
	healthCheckers  []ports.HealthChecker
	now             func() time.Time
}

func NewServer(serverConfig *ServerConfig, logger *logrus.Logger, deps ServerDeps) *Server {
	now := time.Now
	if deps.Clock != nil {
		now = deps.Clock.Now
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewRequestValidator()

	server := &Server{
		echo:            e,
		config:          serverConfig,
		logger:          logger,
		verificationSvc: deps.VerificationService,
		resendCooldown:  deps.ResendCooldown,
		healthCheckers:  deps.HealthCheckers,
		now:             now,
		middleware: customMiddleware.NewMiddlewareCollection(
			logger,
			GetRequestsTotal(),
			GetRequestDuration(),
		),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}
