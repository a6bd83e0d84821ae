package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"apis-edge-go/internal/api/handlers"
	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
	"apis-edge-go/internal/services"
)

// Server is the local operator API. It binds on the LAN interface only;
// the companion server never calls in, the unit always calls out.
type Server struct {
	config *config.Config
	router *gin.Engine
	server *http.Server
	logger zerolog.Logger

	statusHandler  *handlers.StatusHandler
	controlHandler *handlers.ControlHandler
	eventsHandler  *handlers.EventsHandler
	streamHandler  *handlers.StreamHandler
}

func NewServer(cfg *config.Config, container *services.ServiceContainer) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	return &Server{
		config:         cfg,
		router:         router,
		logger:         logging.NewServiceLogger(cfg, "api"),
		statusHandler:  handlers.NewStatusHandler(container),
		controlHandler: handlers.NewControlHandler(container),
		eventsHandler:  handlers.NewEventsHandler(container),
		streamHandler:  handlers.NewStreamHandler(container),
	}
}

func (s *Server) Setup() error {
	s.setupMiddleware()

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	return nil
}

func (s *Server) Start() error {
	s.logger.Info().Int("port", s.config.Port).Msg("Local API listening")
	return s.server.ListenAndServe()
}

func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping local API")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) GetServer() *http.Server {
	return s.server
}
