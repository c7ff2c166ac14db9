package server

import (
	"net/http"
	"time"

	"github.com/scythe504/dejavu-backend/internal/config"
	"github.com/scythe504/dejavu-backend/internal/game"
)

type Server struct {
	cfg   *config.Config
	rooms *game.Manager
}

func NewServer(cfg *config.Config, rooms *game.Manager) *http.Server {
	s := &Server{cfg: cfg, rooms: rooms}

	// No read or write timeout: websocket pumps manage their own deadlines.
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
