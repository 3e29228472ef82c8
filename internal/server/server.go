// Package server exposes the stream over HTTP: the playlist and segments, the
// WebRTC signalling endpoint, metrics, and a health check.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/networking"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pion/webrtc/v4"
)

// Answers WebRTC offers, see networking.ConnectionManager
type Signaller interface {
	HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
}

type Config struct {
	ListenAddr string

	// Directory holding the playlist and segments, served under /stream/.
	// Empty disables the route.
	StreamDir string
}

type Server struct {
	Echo *echo.Echo

	logger    *slog.Logger
	config    Config
	signaller Signaller
	metrics   *metrics.Metrics
}

var streamContentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".ul":   "audio/basic",
}

// Create a new Server. A nil signaller disables the signalling endpoint.
func New(config Config, signaller Signaller, m *metrics.Metrics) *Server {
	s := &Server{
		Echo: echo.New(),
		logger: slog.Default().With(
			"http server uuid", uuid.New(),
		),
		config:    config,
		signaller: signaller,
		metrics:   metrics.OrUnregistered(m),
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true

	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogRemoteIP: true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				"remoteIP", v.RemoteIP,
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"err", v.Error,
			)
			return nil
		},
	}))

	s.Echo.GET("/healthz", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	s.Echo.POST("/signal", s.handleSignal)
	if config.StreamDir != "" {
		stream := s.Echo.Group("/stream", streamHeaders)
		stream.Static("/", config.StreamDir)
	}
	return s
}

// Playlists change every segment and must never be cached, segments never change.
func streamHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ext := strings.ToLower(filepath.Ext(c.Request().URL.Path))
		if contentType, ok := streamContentTypes[ext]; ok {
			c.Response().Header().Set(echo.HeaderContentType, contentType)
		}
		if ext == ".m3u8" {
			c.Response().Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		} else {
			c.Response().Header().Set("Cache-Control", "public, max-age=60")
		}
		c.Response().Header().Set("Access-Control-Allow-Origin", "*")
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Answer an SDP offer, sent as the JSON encoding of a webrtc.SessionDescription.
func (s *Server) handleSignal(c echo.Context) error {
	if s.signaller == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "webrtc is disabled")
	}

	var offer webrtc.SessionDescription
	if err := c.Bind(&offer); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed session description")
	}

	answer, err := s.signaller.HandleOffer(c.Request().Context(), offer)
	switch {
	case errors.Is(err, networking.ErrInvalidOffer):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, networking.ErrManagerClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.logger.Error("could not answer offer", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "could not answer offer")
	}
	return c.JSON(http.StatusOK, answer)
}

// Serve until Shutdown is called. Returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.config.ListenAddr, "streamDir", s.config.StreamDir)
	if err := s.Echo.Start(s.config.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}
