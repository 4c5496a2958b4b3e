package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/VirtuallyScott/FlockFinderApp/bluetooth"
	"github.com/VirtuallyScott/FlockFinderApp/config"
	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

const maxBodyBytes = 1 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("SERVER: websocket upgrade failed: %v", err)
		return
	}
	s.hub.AddClient(conn)
	log.Printf("SERVER: websocket client connected (%d total)", s.hub.ClientCount())

	// Push the current picture so new clients need no initial fetch.
	state, status := s.client.State()
	conn.WriteJSON(utils.WebSocketEvent{
		Type: "connection/state",
		Payload: utils.ConnectionStatePayload{
			State:  state.String(),
			Status: status,
		},
	})
	conn.WriteJSON(utils.WebSocketEvent{Type: "sync/status", Payload: s.sync.Status()})

	go func() {
		defer s.hub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, status := s.client.State()
	count, err := s.db.Count()
	if err != nil {
		log.Printf("SERVER: detection count failed: %v", err)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connection": utils.ConnectionStatePayload{
			State:  state.String(),
			Status: status,
		},
		"rssi":            s.client.LastRSSI(),
		"sync":            s.sync.Status(),
		"detection_count": count,
		"clients":         s.hub.ClientCount(),
	})
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	if err := s.client.StartScan(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "scanning"})
}

func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	if err := s.client.StopScan(); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handlePeripherals(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.client.Peripherals())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeBody(r, &req); err != nil || req.ID == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := s.client.ConnectTo(req.ID); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "connecting"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Disconnect(); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// allowedCommands is the firmware command whitelist for the raw endpoint.
var allowedCommands = map[string]bool{
	bluetooth.CmdGetConfig:   true,
	bluetooth.CmdSaveConfig:  true,
	bluetooth.CmdResetConfig: true,
	bluetooth.CmdPing:        true,
	bluetooth.CmdStatus:      true,
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !allowedCommands[req.Command] {
		respondError(w, http.StatusBadRequest, "unknown command")
		return
	}
	if err := s.client.SendCommand(req.Command); err != nil {
		respondWriteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleDetectionsList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	detections, err := s.db.List(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if detections == nil {
		detections = []utils.Detection{}
	}
	respondJSON(w, http.StatusOK, detections)
}

func (s *Server) handleDetectionsRecent(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.assembly.Recent())
}

func (s *Server) handleDetectionDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.db.Delete(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "detection not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDetectionsClear(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Clear(); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sync.Document())
}

func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var doc config.Document
	if err := decodeBody(r, &doc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid document")
		return
	}
	s.sync.Apply(&doc)
	respondJSON(w, http.StatusOK, s.sync.Document())
}

func (s *Server) handleConfigImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if err := s.sync.Import(data); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.sync.Document())
}

func (s *Server) handleConfigPush(w http.ResponseWriter, r *http.Request) {
	state, _ := s.client.State()
	if !state.CanWrite() {
		respondError(w, http.StatusConflict, "not connected")
		return
	}
	if err := s.sync.Push(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "pushing"})
}

func (s *Server) handleConfigFetch(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.RequestConfig(); err != nil {
		respondWriteError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) handleConfigSave(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.SaveToFlash(); err != nil {
		respondWriteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "saving"})
}

func (s *Server) handleConfigReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.FactoryResetHardware(); err != nil {
		respondWriteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resetting"})
}

func (s *Server) handleConfigResetLocal(w http.ResponseWriter, r *http.Request) {
	s.sync.ResetLocal()
	respondJSON(w, http.StatusOK, s.sync.Document())
}

func (s *Server) handleLocationUpdate(w http.ResponseWriter, r *http.Request) {
	var snap utils.LocationSnapshot
	if err := decodeBody(r, &snap); err != nil {
		respondError(w, http.StatusBadRequest, "invalid location")
		return
	}
	s.feed.Update(snap)
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleLocationGet(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"location":   s.feed.Current(),
		"updated_at": s.feed.UpdatedAt().Unix(),
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func respondWriteError(w http.ResponseWriter, err error) {
	if errors.Is(err, bluetooth.ErrNotReady) {
		respondError(w, http.StatusConflict, "not connected")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("SERVER: encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
