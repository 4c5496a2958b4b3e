// flockfinderd is the phone/desktop-side companion daemon for the
// FlockFinder surveillance-camera scanner. It holds the BLE link to the
// hardware, assembles and stores detections, keeps the scanner configuration
// in sync, and serves a local HTTP + WebSocket API for UI clients.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VirtuallyScott/FlockFinderApp/bluetooth"
	"github.com/VirtuallyScott/FlockFinderApp/config"
	"github.com/VirtuallyScott/FlockFinderApp/location"
	"github.com/VirtuallyScott/FlockFinderApp/server"
	"github.com/VirtuallyScott/FlockFinderApp/storage"
	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

func main() {
	settingsPath := flag.String("config", config.DefaultSettingsPath(), "path to settings file")
	listenAddr := flag.String("addr", "", "listen address override")
	flag.Parse()

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		log.Fatalf("MAIN: load settings: %v", err)
	}
	if *listenAddr != "" {
		settings.ListenAddr = *listenAddr
	}
	if err := settings.Validate(); err != nil {
		log.Fatalf("MAIN: invalid settings: %v", err)
	}

	db, err := storage.Open(settings.DatabasePath)
	if err != nil {
		log.Fatalf("MAIN: open database: %v", err)
	}
	defer db.Close()

	hub := utils.NewWebSocketHub()
	feed := location.NewFeed()
	docStore := config.NewStore(settings.DocumentPath, config.DefaultDebounce)

	transport, err := bluetooth.NewBlueZTransport(settings.Adapter)
	if err != nil {
		log.Fatalf("MAIN: bluetooth transport: %v", err)
	}

	client := bluetooth.NewClient(transport, hub, settings.AutoConnect)
	syncEngine := bluetooth.NewSyncEngine(docStore, hub, client)

	sinks := []utils.AlertSink{
		utils.NewLogAlertSink(settings.Alerts.Log),
		utils.NewHubAlertSink(hub, settings.Alerts.UI),
	}
	assembly := bluetooth.NewAssembly(db, feed, hub, sinks, settings.MinConfidence)
	router := bluetooth.NewRouter(assembly, syncEngine, hub)
	client.Attach(router, syncEngine)

	client.Start()
	if settings.AutoConnect {
		if err := client.StartScan(); err != nil {
			log.Printf("MAIN: initial scan failed: %v", err)
		}
	}

	srv := server.New(settings.ListenAddr, hub, client, syncEngine, assembly, db, feed)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("MAIN: received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("MAIN: server error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("MAIN: shutdown: %v", err)
	}
	client.Stop()
	docStore.Flush()
}
