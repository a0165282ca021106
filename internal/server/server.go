// Package server runs the preview server in front of the build output.
package server

import (
	"fmt"
	"net/http"

	"github.com/joeblew999/plat-mailforge/internal/ui"
	gomjml "github.com/preslavrachev/gomjml/mjml"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/proc"
	"github.com/zeromicro/go-zero/core/prometheus"
	"github.com/zeromicro/go-zero/core/service"
	"github.com/zeromicro/go-zero/rest"
)

const name = "mailforge-preview"

// Config describes where the preview server listens and what it serves.
type Config struct {
	Host     string
	Port     int
	Dist     string
	LogLevel string
}

// Server serves dist with live reload.
type Server struct {
	config Config
	rest   *rest.Server
	hub    *ui.Hub
}

// New creates a preview server. Reloads are fanned out through hub.
func New(c Config, hub *ui.Hub) (*Server, error) {
	rc, err := restConf(c)
	if err != nil {
		return nil, err
	}

	// go-zero metric vectors only record once prometheus is enabled.
	prometheus.Enable()

	handlers := ui.NewHandlers(c.Dist, hub)
	srv, err := rest.NewServer(rc, rest.WithCors("*"), rest.WithNotFoundHandler(handlers.Static()))
	if err != nil {
		return nil, fmt.Errorf("failed to create preview server: %w", err)
	}

	srv.AddRoutes(handlers.Routes())
	srv.AddRoutes(handlers.SSERoutes(), rest.WithSSE())
	srv.AddRoute(rest.Route{
		Method:  http.MethodGet,
		Path:    "/metrics",
		Handler: promhttp.Handler().ServeHTTP,
	})

	proc.AddShutdownListener(func() {
		gomjml.StopASTCacheCleanup()
	})

	return &Server{config: c, rest: srv, hub: hub}, nil
}

func restConf(c Config) (rest.RestConf, error) {
	var rc rest.RestConf
	if err := conf.FillDefault(&rc); err != nil {
		return rest.RestConf{}, fmt.Errorf("preview server defaults: %w", err)
	}
	rc.Name = name
	rc.Mode = service.DevMode
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Log.Mode = "console"
	rc.Log.Encoding = "plain"
	if c.LogLevel != "" {
		rc.Log.Level = c.LogLevel
	}
	return rc, nil
}

// URL returns the address the server is reachable on.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s:%d", s.config.Host, s.config.Port)
}

// Reload tells every open page to reload.
func (s *Server) Reload() {
	n := s.hub.Broadcast()
	logx.Debugw("Reload broadcast", logx.Field("clients", n))
}

// Start serves until Stop is called.
func (s *Server) Start() {
	logx.Infow("Preview server listening",
		logx.Field("url", s.URL()),
		logx.Field("index", s.URL()+ui.IndexPath),
		logx.Field("dist", s.config.Dist),
	)
	s.rest.Start()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	s.rest.Stop()
}
