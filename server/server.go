// Package server exposes the daemon's HTTP API and WebSocket event feed to
// UI clients.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/VirtuallyScott/FlockFinderApp/bluetooth"
	"github.com/VirtuallyScott/FlockFinderApp/location"
	"github.com/VirtuallyScott/FlockFinderApp/storage"
	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

// Server ties the HTTP API to the daemon's collaborators.
type Server struct {
	httpServer *http.Server
	hub        *utils.WebSocketHub
	client     *bluetooth.Client
	sync       *bluetooth.SyncEngine
	assembly   *bluetooth.Assembly
	db         *storage.DB
	feed       *location.Feed
}

func New(addr string, hub *utils.WebSocketHub, client *bluetooth.Client, sync *bluetooth.SyncEngine,
	assembly *bluetooth.Assembly, db *storage.DB, feed *location.Feed) *Server {

	s := &Server{
		hub:      hub,
		client:   client,
		sync:     sync,
		assembly: assembly,
		db:       db,
		feed:     feed,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Post("/scan/start", s.handleScanStart)
		r.Post("/scan/stop", s.handleScanStop)
		r.Get("/peripherals", s.handlePeripherals)
		r.Post("/connect", s.handleConnect)
		r.Post("/disconnect", s.handleDisconnect)
		r.Post("/command", s.handleCommand)

		r.Get("/detections", s.handleDetectionsList)
		r.Get("/detections/recent", s.handleDetectionsRecent)
		r.Delete("/detections", s.handleDetectionsClear)
		r.Delete("/detections/{id}", s.handleDetectionDelete)

		r.Get("/config", s.handleConfigGet)
		r.Put("/config", s.handleConfigUpdate)
		r.Post("/config/import", s.handleConfigImport)
		r.Post("/config/push", s.handleConfigPush)
		r.Post("/config/fetch", s.handleConfigFetch)
		r.Post("/config/save", s.handleConfigSave)
		r.Post("/config/reset", s.handleConfigReset)
		r.Post("/config/reset-local", s.handleConfigResetLocal)

		r.Post("/location", s.handleLocationUpdate)
		r.Get("/location", s.handleLocationGet)
	})

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Printf("SERVER: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests then stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
