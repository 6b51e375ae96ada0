// Package net exposes the HTTP and websocket surface of the run server.
package net

import (
	"encoding/json"
	"io"
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"group-speedrun/server/internal/history"
	"group-speedrun/server/internal/hub"
	"group-speedrun/server/internal/net/ws"
	"group-speedrun/server/internal/run"
	"group-speedrun/server/internal/stats"
	"group-speedrun/server/internal/telemetry"
)

// HTTPHandlerConfig wires the handler's collaborators.
type HTTPHandlerConfig struct {
	TickRate int
	Logger   telemetry.Logger
	History  *history.Archive
	Stats    *stats.Recorder
}

// NewHTTPHandler builds the full route table around the engine and hub.
func NewHTTPHandler(engine *run.Engine, h *hub.Hub, broadcaster *ws.Broadcaster, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/status", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		snapshot := engine.SnapshotState()
		roster := h.RosterSnapshot()
		participants := make([]participantStatus, 0, len(roster))
		for _, entry := range roster {
			participants = append(participants, participantStatus{
				ID:         entry.ID,
				Name:       entry.Name,
				Vitality:   entry.Vitality,
				Alive:      entry.Alive,
				Spectating: entry.Spectating,
				Region:     entry.Region,
			})
		}
		writeJSON(w, statusResponse{
			ServerTime:   time.Now().UnixMilli(),
			TickRate:     cfg.TickRate,
			Run:          snapshot,
			Participants: participants,
		}, logger)
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req joinRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			httpError(w, "missing name", nethttp.StatusBadRequest)
			return
		}
		join := h.Join(req.Name)
		writeJSON(w, joinResponse{
			ID:       join.ID,
			Name:     join.Name,
			Vitality: join.Vitality,
			Run:      join.Run,
		}, logger)
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	mux.HandleFunc("/ws", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		participantID := r.URL.Query().Get("id")
		if participantID == "" {
			httpError(w, "missing id", nethttp.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("upgrade failed for %s: %v", participantID, err)
			return
		}

		broadcaster.Attach(participantID, conn)
		broadcaster.BroadcastState(engine.SnapshotState())
		go ws.ReadLoop(conn, participantID, h, logger)
	})

	admin := func(name string, apply func() bool) nethttp.HandlerFunc {
		return func(w nethttp.ResponseWriter, r *nethttp.Request) {
			if r.Method != nethttp.MethodPost {
				httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
				return
			}
			applied := apply()
			if !applied {
				logger.Printf("admin %s rejected in phase %s", name, engine.Phase())
			}
			writeJSON(w, adminResponse{Applied: applied, Run: engine.SnapshotState()}, logger)
		}
	}

	mux.HandleFunc("/admin/start", admin("start", engine.Start))
	mux.HandleFunc("/admin/pause", admin("pause", engine.Pause))
	mux.HandleFunc("/admin/resume", admin("resume", engine.Resume))
	mux.HandleFunc("/admin/reset", admin("reset", func() bool {
		engine.Reset()
		return true
	}))

	mux.HandleFunc("/admin/finish", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req finishRequest
		if !decodeBody(w, r, &req) {
			return
		}
		outcome := run.Phase(req.Outcome)
		if !outcome.Terminal() {
			httpError(w, "outcome must be victorious or failed", nethttp.StatusBadRequest)
			return
		}
		applied := engine.Finish(outcome)
		writeJSON(w, adminResponse{Applied: applied, Run: engine.SnapshotState()}, logger)
	})

	mux.HandleFunc("/admin/rules", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req rulesRequest
		if !decodeBody(w, r, &req) {
			return
		}
		applied := true
		if req.SharedHealth != nil {
			engine.SetSharedHealth(*req.SharedHealth)
		}
		if req.GroupFailure != nil {
			applied = engine.SetGroupFailure(*req.GroupFailure) && applied
		}
		if req.MaxVitality != nil {
			if *req.MaxVitality <= 0 {
				httpError(w, "maxVitality must be positive", nethttp.StatusBadRequest)
				return
			}
			engine.SetMaxVitality(*req.MaxVitality)
		}
		writeJSON(w, adminResponse{Applied: applied, Run: engine.SnapshotState()}, logger)
	})

	mux.HandleFunc("/admin/exclude", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req excludeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ID == "" {
			httpError(w, "missing id", nethttp.StatusBadRequest)
			return
		}
		engine.SetExcluded(req.ID, req.Excluded)
		writeJSON(w, adminResponse{Applied: true, Run: engine.SnapshotState()}, logger)
	})

	mux.HandleFunc("/admin/milestone", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req milestoneRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ID == "" {
			httpError(w, "missing id", nethttp.StatusBadRequest)
			return
		}
		applied := engine.CompleteMilestone(req.ID)
		writeJSON(w, adminResponse{Applied: applied, Run: engine.SnapshotState()}, logger)
	})

	mux.HandleFunc("/stats", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		records := map[string]map[string]float64{}
		if cfg.Stats != nil {
			records = cfg.Stats.Snapshot()
		}
		writeJSON(w, statsResponse{Records: records}, logger)
	})

	mux.HandleFunc("/history", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		if cfg.History == nil {
			writeJSON(w, historyResponse{Runs: []run.RunRecord{}}, logger)
			return
		}
		limit := 10
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				httpError(w, "invalid limit", nethttp.StatusBadRequest)
				return
			}
			limit = parsed
		}
		records, err := cfg.History.Recent(limit)
		if err != nil {
			logger.Printf("history query failed: %v", err)
			httpError(w, "failed to read history", nethttp.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []run.RunRecord{}
		}
		writeJSON(w, historyResponse{Runs: records}, logger)
	})

	return mux
}

type joinRequest struct {
	Name string `json:"name"`
}

type joinResponse struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Vitality float64      `json:"vitality"`
	Run      run.Snapshot `json:"run"`
}

type participantStatus struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Vitality   float64 `json:"vitality"`
	Alive      bool    `json:"alive"`
	Spectating bool    `json:"spectating"`
	Region     string  `json:"region,omitempty"`
}

type statusResponse struct {
	ServerTime   int64               `json:"serverTime"`
	TickRate     int                 `json:"tickRate"`
	Run          run.Snapshot        `json:"run"`
	Participants []participantStatus `json:"participants"`
}

type adminResponse struct {
	Applied bool         `json:"applied"`
	Run     run.Snapshot `json:"run"`
}

type rulesRequest struct {
	SharedHealth *bool    `json:"sharedHealth"`
	GroupFailure *bool    `json:"groupFailure"`
	MaxVitality  *float64 `json:"maxVitality"`
}

type excludeRequest struct {
	ID       string `json:"id"`
	Excluded bool   `json:"excluded"`
}

type milestoneRequest struct {
	ID string `json:"id"`
}

type finishRequest struct {
	Outcome string `json:"outcome"`
}

type historyResponse struct {
	Runs []run.RunRecord `json:"runs"`
}

type statsResponse struct {
	Records map[string]map[string]float64 `json:"records"`
}

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && err != io.EOF {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w nethttp.ResponseWriter, payload any, logger telemetry.Logger) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
