package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tphan267/meshtalk/pkg/api"
	"github.com/tphan267/meshtalk/pkg/providers"
	"github.com/tphan267/meshtalk/pkg/providers/auth"
)

// ApiServer is the HTTP server using Fiber. It serves the account
// endpoints; the signaling socket lives on its own listener.
type ApiServer struct {
	app       *fiber.App
	providers *providers.Registry
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// New creates a new HTTP server with the given service registry
func New(p *providers.Registry) *ApiServer {
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	s := &ApiServer{
		app:       app,
		providers: p,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *ApiServer) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(logger.New())
}

func (s *ApiServer) setupRoutes() {
	grp := s.app.Group("/api")

	grp.Post("/register", s.handleRegister)
	grp.Post("/login", s.handleLogin)

	s.app.Get("/health", s.handleHealth)
}

// App returns the underlying Fiber app for route registration
func (s *ApiServer) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server
func (s *ApiServer) Start(addr string) error {
	s.providers.Logger().Printf("Starting API server on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *ApiServer) Shutdown(ctx context.Context) error {
	s.providers.Logger().Println("API server shutdown requested")
	return s.app.ShutdownWithContext(ctx)
}

// handleRegister creates a new user account
func (s *ApiServer) handleRegister(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return api.ErrorBadRequestResp(c, "Invalid request body")
	}

	authProvider, err := s.providers.GetAuth()
	if err != nil {
		return api.ErrorInternalServerErrorResp(c, err.Error())
	}

	identity, err := authProvider.Register(c.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			return api.ErrorConflictResp(c, "Username already taken")
		}
		return api.ErrorBadRequestResp(c, err.Error())
	}

	return api.CreatedResp(c, fiber.Map{
		"userId":   identity.UserID,
		"username": identity.Username,
	})
}

// handleLogin authenticates a user and issues a session token
func (s *ApiServer) handleLogin(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return api.ErrorBadRequestResp(c, "Invalid request body")
	}

	authProvider, err := s.providers.GetAuth()
	if err != nil {
		return api.ErrorInternalServerErrorResp(c, err.Error())
	}

	token, identity, err := authProvider.Authenticate(c.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return api.ErrorUnauthorizedResp(c, "Invalid username or password")
		}
		return api.ErrorInternalServerErrorResp(c, err.Error())
	}

	return api.SuccessResp(c, fiber.Map{
		"token":    token,
		"userId":   identity.UserID,
		"username": identity.Username,
	})
}

// handleHealth handles health checks
func (s *ApiServer) handleHealth(c *fiber.Ctx) error {
	return api.SuccessResp(c, fiber.Map{
		"status": "healthy",
	})
}

// customErrorHandler handles errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		status = e.Code
	}

	return c.Status(status).JSON(api.ApiResponse{
		Success: false,
		Error: &api.ApiError{
			Code:    status,
			Message: err.Error(),
		},
	})
}
