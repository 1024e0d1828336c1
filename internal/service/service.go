// Package service exposes the tunnel manager over a local HTTP API for the
// CLI and UI shells.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/manager"
	"wg-tunnels/internal/wgconf"
)

// TunnelManager is the part of the manager the API drives.
type TunnelManager interface {
	Tunnels() []manager.Tunnel
	TunnelNamed(name string) (manager.Tunnel, bool)
	Names() []string
	RecentNames(limit int) []string
	Subscribe(types ...core.EventType) *manager.Subscription

	Add(ctx context.Context, name string, cfg *wgconf.Config, onDemand core.OnDemandRules) (manager.Tunnel, error)
	Modify(ctx context.Context, name, newName string, cfg *wgconf.Config, onDemand core.OnDemandRules) error
	Move(ctx context.Context, from, to int) error
	Remove(ctx context.Context, name string) error
	RemoveMultiple(ctx context.Context, names []string) error
	SetOnDemandEnabled(ctx context.Context, name string, enabled bool) error
	SetOnDemandRules(ctx context.Context, name string, rules core.OnDemandRules) error

	StartActivation(name string)
	StartDeactivation(name string)
	Restart(name string)
}

// OnDemand is the optional on-demand engine control.
type OnDemand interface {
	SetEnabled(enabled bool)
	Evaluate() string
}

// Service is the HTTP front of the daemon.
type Service struct {
	mgr       TunnelManager
	ondemand  OnDemand
	logs      *LogStreamer
	version   string
	startTime time.Time
	waitLimit time.Duration

	router *gin.Engine

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// Config holds parameters for creating a new Service.
type Config struct {
	Manager  TunnelManager
	OnDemand OnDemand // optional
	// Logs is optional; one is created if nil.
	Logs    *LogStreamer
	Version string
	// ActivationWait bounds how long ?wait=true activations block.
	ActivationWait time.Duration
}

// New creates a Service with all routes installed.
func New(c Config) *Service {
	s := &Service{
		mgr:       c.Manager,
		ondemand:  c.OnDemand,
		logs:      c.Logs,
		version:   c.Version,
		startTime: time.Now(),
		waitLimit: c.ActivationWait,
	}
	if s.logs == nil {
		s.logs = NewLogStreamer()
	}
	if s.waitLimit <= 0 {
		s.waitLimit = 30 * time.Second
	}

	r := gin.New()
	r.Use(gin.RecoveryWithWriter(core.Log.Writer("API")), accessLog())
	s.routes(r.Group("/api/v1"))
	s.router = r
	return s
}

// Handler returns the HTTP handler, for tests and custom servers.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Start captures logs and begins serving on addr.
func (s *Service) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("[API] failed to listen on %s: %w", addr, err)
	}
	s.logs.Start()

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.srv, s.listener = srv, ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			core.Log.Errorf("API", "Server stopped: %v", err)
		}
	}()
	core.Log.Infof("API", "Listening on %s", ln.Addr())
	return nil
}

// Addr returns the listening address once started.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and releases log subscribers.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	s.logs.Stop()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Service) routes(g *gin.RouterGroup) {
	g.GET("/status", s.getStatus)

	g.GET("/tunnels", s.listTunnels)
	g.POST("/tunnels", s.addTunnel)
	g.POST("/tunnels/remove", s.removeTunnels)
	g.GET("/tunnels/:name", s.getTunnel)
	g.PUT("/tunnels/:name", s.modifyTunnel)
	g.DELETE("/tunnels/:name", s.removeTunnel)
	g.POST("/tunnels/:name/move", s.moveTunnel)
	g.POST("/tunnels/:name/activate", s.activateTunnel)
	g.POST("/tunnels/:name/deactivate", s.deactivateTunnel)
	g.POST("/tunnels/:name/restart", s.restartTunnel)
	g.PUT("/tunnels/:name/on-demand", s.setOnDemand)

	g.GET("/recents", s.getRecents)
	g.GET("/quick-actions", s.getQuickActions)
	g.PUT("/on-demand", s.setOnDemandEngine)
	g.POST("/on-demand/evaluate", s.evaluateOnDemand)

	g.GET("/events", s.streamEvents)
	g.GET("/logs", s.getLogs)
}
