package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/scythe504/dejavu-backend/internal"
	"github.com/scythe504/dejavu-backend/internal/game"
	"github.com/scythe504/dejavu-backend/internal/utils"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	// Apply CORS middleware
	r.Use(s.corsMiddleware)

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.CreateRoomHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/rooms/{code}", s.RoomSocketHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{code}/qr", s.RoomQRHandler).Methods(http.MethodGet)

	return r
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		// If it's a websocket upgrade, skip further CORS checks
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, internal.Response{Error: msg})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, internal.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	code, err := s.rooms.Create(r.Context())
	if err != nil {
		log.Printf("[CreateRoomHandler] Failed to create room: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Could not create room")
		return
	}
	writeJSON(w, http.StatusCreated, internal.Response{RoomCode: code})
}

// roomCode reads and checks the {code} path variable. It writes the 400
// itself when the code has the wrong length.
func roomCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := utils.NormalizeRoomCode(mux.Vars(r)["code"])
	if len(code) != internal.RoomCodeLength {
		writeError(w, http.StatusBadRequest, "Invalid room code")
		return "", false
	}
	return code, true
}

// RoomSocketHandler is the only way into a room: it hands the upgraded
// connection to the room's actor.
func (s *Server) RoomSocketHandler(w http.ResponseWriter, r *http.Request) {
	code, ok := roomCode(w, r)
	if !ok {
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		writeError(w, http.StatusUpgradeRequired, "Expected WebSocket upgrade")
		return
	}

	room, err := s.rooms.Room(r.Context(), code)
	if errors.Is(err, game.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		log.Printf("[RoomSocketHandler] Room %s: %v", code, err)
		writeError(w, http.StatusServiceUnavailable, "Room unavailable")
		return
	}
	game.ServeWS(room, w, r)
}

// RoomQRHandler renders a PNG QR code pointing players at the room.
func (s *Server) RoomQRHandler(w http.ResponseWriter, r *http.Request) {
	code, ok := roomCode(w, r)
	if !ok {
		return
	}
	if _, err := s.rooms.Room(r.Context(), code); err != nil {
		writeError(w, http.StatusNotFound, "Room not found")
		return
	}

	png, err := qrcode.Encode(s.joinURL(r, code), qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// joinURL is the link players open to join code. Without a configured
// public URL it is derived from the request.
func (s *Server) joinURL(r *http.Request, code string) string {
	base := strings.TrimSuffix(s.cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/?room=" + code
}
