// Package httpapi implements the WHIP/WHEP control plane described in
// spec.md §6 and §7: SDP offer/answer exchange over plain HTTP, room
// listing, and the on-demand thumbnail endpoint. Grounded on the
// teacher's pkg/api.Server — same http.ServeMux-plus-middleware
// shape, generalized from camera-session proxying to WHIP/WHEP
// negotiation.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/streamforge/mediasfu/internal/model"
	"github.com/streamforge/mediasfu/internal/registry"
	"github.com/streamforge/mediasfu/internal/wire"
)

// maxOfferBytes bounds an SDP offer body, generously, against abuse.
const maxOfferBytes = 64 * 1024

// mediaEngine is the subset of *engine.Engine the control plane needs.
// Declared here, satisfied there, so handlers can be tested against a
// fake without standing up a real UDP socket and registry.
type mediaEngine interface {
	CreateStreamer(ctx context.Context, offer []byte) ([]byte, error)
	CreateViewer(ctx context.Context, offer []byte, roomID model.RoomID) ([]byte, error)
	ListRooms(ctx context.Context) ([]registry.RoomSummary, error)
	Thumbnail(ctx context.Context, roomID model.RoomID) ([]byte, bool, error)
}

// Server is the WHIP/WHEP HTTP control plane.
type Server struct {
	eng        mediaEngine
	whipToken  string
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer constructs a Server bound to eng. whipToken is the bearer
// token WHIP publishers must present (spec.md §6's "Authorization:
// Bearer <token>").
func NewServer(eng mediaEngine, whipToken string, logger *slog.Logger) *Server {
	return &Server{eng: eng, whipToken: whipToken, logger: logger}
}

// Start binds addr and serves until the returned server is shut down.
// It returns once the listener is up; ListenAndServe runs in its own
// goroutine, following the teacher's non-blocking Start shape.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/whip", s.handleWHIP)
	mux.HandleFunc("/whep", s.handleWHEP)
	mux.HandleFunc("/rooms", s.handleRooms)
	mux.HandleFunc("/thumbnail", s.handleThumbnail)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withCORS(s.withLogging(mux)),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("http server listening", "addr", addr)
		return nil
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// handleWHIP implements spec.md §6's WHIP ingest endpoint: a bearer-
// authenticated SDP offer from the streamer, answered with the
// server's SDP and a 201.
func (s *Server) handleWHIP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.checkBearer(r) {
		writeError(w, wire.New(wire.KindAuth, "missing or invalid bearer token"))
		return
	}

	offer, err := readOffer(r)
	if err != nil {
		writeError(w, err)
		return
	}

	answer, err := s.eng.CreateStreamer(r.Context(), offer)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", "/whip")
	w.WriteHeader(http.StatusCreated)
	w.Write(answer)
}

// handleWHEP implements spec.md §6's WHEP playback endpoint: an SDP
// offer from a viewer, naming the room via the target_id query
// parameter, answered with the server's SDP and a 200.
func (s *Server) handleWHEP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	targetID := r.URL.Query().Get("target_id")
	roomID, err := uuid.Parse(targetID)
	if err != nil {
		writeError(w, wire.New(wire.KindUnknownRoom, "missing or malformed target_id"))
		return
	}

	offer, err := readOffer(r)
	if err != nil {
		writeError(w, err)
		return
	}

	answer, err := s.eng.CreateViewer(r.Context(), offer, roomID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusOK)
	w.Write(answer)
}

// handleRooms implements spec.md §6's GET /rooms, listing every active
// room and its viewer count.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rooms, err := s.eng.ListRooms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(roomsResponse(rooms))
}

type roomJSON struct {
	RoomID      string `json:"room_id"`
	ViewerCount int    `json:"viewer_count"`
}

func roomsResponse(rooms []registry.RoomSummary) []roomJSON {
	out := make([]roomJSON, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomJSON{RoomID: r.RoomID.String(), ViewerCount: r.ViewerCount})
	}
	return out
}

// handleThumbnail implements spec.md §6's GET /thumbnail?room_id=...,
// serving the streamer's most recently decoded video frame as a still
// image, or 404 if none has been captured yet.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID, err := uuid.Parse(r.URL.Query().Get("room_id"))
	if err != nil {
		writeError(w, wire.New(wire.KindUnknownRoom, "missing or malformed room_id"))
		return
	}

	data, ok, err := s.eng.Thumbnail(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, wire.New(wire.KindNotFound, "no thumbnail captured yet"))
		return
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Write(data)
}

func (s *Server) checkBearer(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && token == s.whipToken
}

func readOffer(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferBytes+1))
	if err != nil {
		return nil, wire.Wrap(wire.KindMalformedSDP, "read offer body", err)
	}
	if len(body) > maxOfferBytes {
		return nil, wire.New(wire.KindMalformedSDP, "offer body too large")
	}
	return body, nil
}

// writeError maps a wire.Error's Kind to the HTTP status spec.md §7
// requires, and plain errors to 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch wire.KindOf(err) {
	case wire.KindMalformedSDP:
		status = http.StatusBadRequest
	case wire.KindAuth:
		status = http.StatusUnauthorized
	case wire.KindUnknownRoom:
		status = http.StatusNotFound
	case wire.KindNotFound:
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}
