package net

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"group-speedrun/server/internal/hub"
	"group-speedrun/server/internal/net/ws"
	"group-speedrun/server/internal/run"
	"group-speedrun/server/internal/stats"
)

func newTestHandler(t *testing.T) (http.Handler, *run.Engine, *hub.Hub) {
	t.Helper()
	recorder := stats.NewRecorder()
	engine := run.NewEngine(run.DefaultEngineConfig(), run.DefaultCatalog(), run.Deps{Stats: recorder})
	h := hub.NewHub(hub.DefaultConfig(), engine, recorder, nil, nil)
	broadcaster := ws.NewBroadcaster(nil)
	handler := NewHTTPHandler(engine, h, broadcaster, HTTPHandlerConfig{TickRate: 20, Stats: recorder})
	return handler, engine, h
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeAdmin(t *testing.T, rec *httptest.ResponseRecorder) adminResponse {
	t.Helper()
	var resp adminResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode admin response: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestJoinEndpoint(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	rec := postJSON(t, handler, "/join", joinRequest{Name: "Alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("join failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp joinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode join response: %v", err)
	}
	if resp.ID == "" || resp.Name != "Alice" || resp.Vitality != 20 {
		t.Fatalf("unexpected join response: %+v", resp)
	}
	if resp.Run.Phase != run.PhaseNotStarted {
		t.Fatalf("expected fresh run in join payload, got %s", resp.Run.Phase)
	}
}

func TestJoinRequiresNameAndPost(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	if rec := postJSON(t, handler, "/join", joinRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing name must be rejected, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/join", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET join must be rejected, got %d", rec.Code)
	}
}

func TestAdminLifecycle(t *testing.T) {
	handler, engine, _ := newTestHandler(t)

	if resp := decodeAdmin(t, postJSON(t, handler, "/admin/start", nil)); !resp.Applied || resp.Run.Phase != run.PhaseRunning {
		t.Fatalf("start not applied: %+v", resp)
	}
	if resp := decodeAdmin(t, postJSON(t, handler, "/admin/start", nil)); resp.Applied {
		t.Fatalf("second start must report not applied")
	}
	if resp := decodeAdmin(t, postJSON(t, handler, "/admin/pause", nil)); !resp.Applied || resp.Run.Phase != run.PhasePaused {
		t.Fatalf("pause not applied: %+v", resp)
	}
	if resp := decodeAdmin(t, postJSON(t, handler, "/admin/resume", nil)); !resp.Applied || resp.Run.Phase != run.PhaseRunning {
		t.Fatalf("resume not applied: %+v", resp)
	}
	if resp := decodeAdmin(t, postJSON(t, handler, "/admin/reset", nil)); !resp.Applied || resp.Run.Phase != run.PhaseNotStarted {
		t.Fatalf("reset not applied: %+v", resp)
	}
	if engine.Phase() != run.PhaseNotStarted {
		t.Fatalf("engine out of sync: %s", engine.Phase())
	}
}

func TestAdminRules(t *testing.T) {
	handler, engine, _ := newTestHandler(t)

	shared := true
	max := 30.0
	resp := decodeAdmin(t, postJSON(t, handler, "/admin/rules", rulesRequest{SharedHealth: &shared, MaxVitality: &max}))
	if !resp.Applied || !resp.Run.SharedHealthEnabled || resp.Run.MaxVitality != 30 {
		t.Fatalf("rules not applied: %+v", resp.Run)
	}

	bad := -1.0
	if rec := postJSON(t, handler, "/admin/rules", rulesRequest{MaxVitality: &bad}); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative cap must be rejected, got %d", rec.Code)
	}

	// Toggling group failure after the run is decided is refused.
	engine.Start()
	engine.HandleBossDeath()
	off := false
	if resp := decodeAdmin(t, postJSON(t, handler, "/admin/rules", rulesRequest{GroupFailure: &off})); resp.Applied {
		t.Fatalf("terminal rule change must report not applied")
	}
}

func TestAdminExcludeAndMilestone(t *testing.T) {
	handler, engine, _ := newTestHandler(t)
	engine.Start()

	resp := decodeAdmin(t, postJSON(t, handler, "/admin/exclude", excludeRequest{ID: "p1", Excluded: true}))
	if len(resp.Run.Excluded) != 1 || resp.Run.Excluded[0] != "p1" {
		t.Fatalf("exclusion not reflected: %+v", resp.Run.Excluded)
	}

	if resp := decodeAdmin(t, postJSON(t, handler, "/admin/milestone", milestoneRequest{ID: "nether"})); !resp.Applied {
		t.Fatalf("milestone completion not applied")
	}
	if resp := decodeAdmin(t, postJSON(t, handler, "/admin/milestone", milestoneRequest{ID: "nether"})); resp.Applied {
		t.Fatalf("duplicate milestone must report not applied")
	}
	if rec := postJSON(t, handler, "/admin/milestone", milestoneRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing milestone id must be rejected, got %d", rec.Code)
	}
}

func TestAdminFinish(t *testing.T) {
	handler, engine, _ := newTestHandler(t)

	if rec := postJSON(t, handler, "/admin/finish", finishRequest{Outcome: "running"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("non-terminal outcome must be rejected, got %d", rec.Code)
	}
	if resp := decodeAdmin(t, postJSON(t, handler, "/admin/finish", finishRequest{Outcome: "failed"})); resp.Applied {
		t.Fatalf("finish before start must report not applied")
	}

	engine.Start()
	resp := decodeAdmin(t, postJSON(t, handler, "/admin/finish", finishRequest{Outcome: "victorious"}))
	if !resp.Applied || resp.Run.Phase != run.PhaseVictorious {
		t.Fatalf("finish not applied: %+v", resp.Run)
	}
	if resp := decodeAdmin(t, postJSON(t, handler, "/admin/finish", finishRequest{Outcome: "failed"})); resp.Applied {
		t.Fatalf("second finish must report not applied")
	}
}

func TestStatsEndpoint(t *testing.T) {
	handler, _, h := newTestHandler(t)
	join := h.Join("Alice")
	h.ReportKill(join.ID)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats failed: %d", rec.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if resp.Records[stats.MetricKills][join.ID] != 1 {
		t.Fatalf("expected recorded kill, got %+v", resp.Records)
	}
}

func TestStatusEndpoint(t *testing.T) {
	handler, engine, h := newTestHandler(t)
	h.Join("Alice")
	engine.Start()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status failed: %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if resp.TickRate != 20 || resp.Run.Phase != run.PhaseRunning {
		t.Fatalf("unexpected status: %+v", resp)
	}
	if len(resp.Participants) != 1 || resp.Participants[0].Name != "Alice" {
		t.Fatalf("participants missing: %+v", resp.Participants)
	}
}

func TestHistoryEndpointWithoutArchive(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("history failed: %d", rec.Code)
	}
	var resp historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if resp.Runs == nil || len(resp.Runs) != 0 {
		t.Fatalf("expected empty run list, got %+v", resp.Runs)
	}

	req = httptest.NewRequest(http.MethodGet, "/history?limit=bogus", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid limit must be rejected, got %d", rec.Code)
	}
}

func TestWebsocketRequiresID(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing id must be rejected, got %d", rec.Code)
	}
}
