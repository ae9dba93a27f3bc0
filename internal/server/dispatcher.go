package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/rtcbroker/internal/observe"
	"github.com/MrWong99/rtcbroker/internal/protocol"
	"github.com/MrWong99/rtcbroker/internal/room"
)

// Dispatcher is the stateless HTTP front of the broker. It serves the
// operational endpoints, answers CORS preflights, and forwards signaling
// upgrades on /peerjs to the room actor derived from the token parameter.
type Dispatcher struct {
	hub         *Hub
	stats       *Stats
	log         *slog.Logger
	allowOrigin atomic.Value // string; settable at runtime by config reload
	upgrades    *ipLimiter   // nil when per-IP limiting is disabled
}

// NewDispatcher creates a dispatcher in front of hub. allowedOrigins is the
// configured CORS allow list; when it does not contain "*", the first entry
// is echoed in Access-Control-Allow-Origin.
func NewDispatcher(hub *Hub, stats *Stats, log *slog.Logger, allowedOrigins []string, upgrades *ipLimiter) *Dispatcher {
	d := &Dispatcher{
		hub:      hub,
		stats:    stats,
		log:      log.With("component", "dispatcher"),
		upgrades: upgrades,
	}
	d.allowOrigin.Store(computeAllowOrigin(allowedOrigins))
	return d
}

// SetAllowedOrigins replaces the CORS allow list at runtime.
func (d *Dispatcher) SetAllowedOrigins(allowedOrigins []string) {
	d.allowOrigin.Store(computeAllowOrigin(allowedOrigins))
}

// computeAllowOrigin picks the Access-Control-Allow-Origin value for the
// configured list: "*" when any origin is allowed, otherwise the first entry.
func computeAllowOrigin(allowedOrigins []string) string {
	if !slices.Contains(allowedOrigins, "*") && len(allowedOrigins) > 0 {
		return allowedOrigins[0]
	}
	return "*"
}

// Handler builds the HTTP routing table. The operational routes run behind
// the observability middleware; the upgrade path is served directly so its
// ResponseWriter stays hijackable.
func (d *Dispatcher) Handler(m *observe.Metrics) http.Handler {
	ops := http.NewServeMux()
	ops.HandleFunc("OPTIONS /", d.handlePreflight)
	ops.HandleFunc("GET /health", d.handleHealth)
	ops.HandleFunc("GET /metrics", d.handleMetrics)
	ops.Handle("GET /prometheus", promhttp.Handler())
	ops.HandleFunc("/", d.handleNotFound)

	outer := http.NewServeMux()
	outer.HandleFunc("GET /peerjs", d.handlePeerJS)
	outer.Handle("/", observe.Middleware(m)(ops))
	return outer
}

// setCORS writes the CORS headers carried on every dispatcher response.
func (d *Dispatcher) setCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", d.allowOrigin.Load().(string))
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Max-Age", "86400")
}

// handlePreflight answers CORS preflights for any path.
func (d *Dispatcher) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	d.setCORS(w)
	w.WriteHeader(http.StatusNoContent)
}

// healthBody is the JSON response of GET /health.
type healthBody struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

// handleHealth reports liveness. A process that can serve this is alive.
func (d *Dispatcher) handleHealth(w http.ResponseWriter, _ *http.Request) {
	d.setCORS(w)
	writeJSON(w, http.StatusOK, healthBody{
		Status:    "ok",
		Timestamp: time.Now().UnixMilli(),
		Version:   Version,
	})
}

// metricsBody is the JSON response of GET /metrics. The schema predates the
// Prometheus exposition endpoint and is kept for clients that scrape it.
type metricsBody struct {
	Status    string          `json:"status"`
	Timestamp int64           `json:"timestamp"`
	Metrics   metricsSnapshot `json:"metrics"`
}

type metricsSnapshot struct {
	ActiveRooms       int     `json:"activeRooms"`
	ActivePeers       int     `json:"activePeers"`
	MessagesPerSecond float64 `json:"messagesPerSecond"`
	ErrorRate         float64 `json:"errorRate"`
}

// handleMetrics reports the live broker counters in the fixed JSON schema.
func (d *Dispatcher) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	d.setCORS(w)
	rooms, peers := d.hub.Snapshot()
	writeJSON(w, http.StatusOK, metricsBody{
		Status:    "ok",
		Timestamp: time.Now().UnixMilli(),
		Metrics: metricsSnapshot{
			ActiveRooms:       rooms,
			ActivePeers:       peers,
			MessagesPerSecond: d.stats.MessagesPerSecond(),
			ErrorRate:         d.stats.ErrorRate(),
		},
	})
}

// handleNotFound rejects unrouted paths.
func (d *Dispatcher) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	d.setCORS(w)
	http.Error(w, "Not Found", http.StatusNotFound)
}

// handlePeerJS validates the upgrade parameters and hands the request to the
// room actor for the token. The key parameter is accepted but not validated;
// authentication belongs to the edge tier in front of the broker.
func (d *Dispatcher) handlePeerJS(w http.ResponseWriter, r *http.Request) {
	d.setCORS(w)

	if d.upgrades != nil && !d.upgrades.Allow(clientIP(r)) {
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	q := r.URL.Query()
	key, id, token := q.Get("key"), q.Get("id"), q.Get("token")
	if key == "" || id == "" || token == "" {
		http.Error(w, "Missing required query parameters: key, id, token", http.StatusBadRequest)
		return
	}
	if !protocol.ValidPeerID(id) {
		http.Error(w, "Invalid peer ID: must be 1-64 characters of A-Za-z0-9-", http.StatusBadRequest)
		return
	}

	// Two attempts: the first can lose a race against the reaper, in which
	// case the hub hands out a fresh room on the second.
	for attempt := 0; attempt < 2; attempt++ {
		rm := d.hub.Room(token)
		err := rm.Join(w, r, id)
		switch {
		case err == nil:
			return
		case errors.Is(err, room.ErrRoomClosed):
			continue
		case errors.Is(err, room.ErrRoomFull):
			http.Error(w, "Room is full", http.StatusTooManyRequests)
			return
		case errors.Is(err, room.ErrPeerExists):
			http.Error(w, "Peer registration failed", http.StatusInternalServerError)
			return
		case errors.Is(err, room.ErrUpgradeFailed):
			// The websocket library already wrote the failure response
			// (426 for plain HTTP, 403 for a refused origin).
			d.log.Warn("websocket upgrade failed", "room", token, "peer", id, "err", err)
			return
		default:
			d.log.Error("upgrade dispatch failed", "room", token, "peer", id, "err", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
	d.log.Error("room kept closing during upgrade", "room", token, "peer", id)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
