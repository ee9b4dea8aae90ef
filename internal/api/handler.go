// Package api exposes the webhook entrypoint and the JWT-protected
// management surface over gin.
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"tradehook/internal/events"
	"tradehook/internal/executor"
	"tradehook/internal/position"
	"tradehook/internal/risk"
	"tradehook/internal/venue"
	"tradehook/pkg/crypto"
	"tradehook/pkg/db"
)

// Server wires HTTP endpoints around the execution core.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Executor  *executor.Executor
	Positions *position.Store
	Settings  *risk.SettingsStore
	Venues    *venue.Manager
	Vault     *crypto.Vault
	JWTSecret string
}

func NewServer(bus *events.Bus, database *db.Database, exec *executor.Executor, positions *position.Store, settings *risk.SettingsStore, venues *venue.Manager, vault *crypto.Vault, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		Executor:  exec,
		Positions: positions,
		Settings:  settings,
		Venues:    venues,
		Vault:     vault,
		JWTSecret: jwtSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.POST("/webhook", s.handleWebhook)

	api := s.Router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerAccount)
			auth.POST("/login", s.loginAccount)
		}

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/positions", s.getPositions)
			protected.GET("/risk/settings", s.getRiskSettings)
			protected.POST("/risk/killswitch", s.setKillSwitch)
			protected.POST("/credentials", s.createCredential)
			protected.POST("/combos", s.submitCombo)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "time": time.Now().UTC()})
}
