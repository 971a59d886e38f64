package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"opsdesk/internal/config"
	"opsdesk/internal/db"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/migrate"
	"opsdesk/internal/repo"
	"opsdesk/internal/server"
)

type testAPI struct {
	Server *httptest.Server
	Engine engine.Engine
	Repo   repo.Repo
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	eng.Audit.Now = eng.Now

	r := repo.Repo{DB: conn}
	ctx := context.Background()
	grants := make(map[string][]string, len(cfg.RBAC.Roles))
	for id, role := range cfg.RBAC.Roles {
		grants[id] = role.Permissions
	}
	if err := r.SeedRolePermissions(ctx, grants); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	if err := r.AssignRole(ctx, "tester", "owner"); err != nil {
		t.Fatalf("grant role: %v", err)
	}

	handler, err := server.New(server.Config{
		Engine: eng,
		Auth:   server.AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build server: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return testAPI{Server: ts, Engine: eng, Repo: r}
}

// call issues a request as the given actor and decodes the JSON response into
// out (when non-nil). An empty actor sends no credentials at all.
func (a testAPI) call(t *testing.T, method, path, actor string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, a.Server.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set("X-Actor-Id", actor)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// errorBody mirrors the {"error": {...}} envelope.
type errorBody struct {
	Err struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type assignmentBody struct {
	Assignment        domain.Assignment          `json:"assignment"`
	Template          *server.TemplateResponse   `json:"template"`
	Tasks             []domain.Task              `json:"tasks"`
	Settings          []domain.AssetSetting      `json:"settings"`
	Counts            *server.ForkCountsResponse `json:"counts"`
	Skipped           bool                       `json:"skipped"`
	PreviousOperation string                     `json:"previous_operation"`
}

func TestHealthIsUnauthenticated(t *testing.T) {
	api := newTestAPI(t)
	var body map[string]string
	if status := api.call(t, http.MethodGet, "/v0/health", "", nil, &body); status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	if body["status"] != "ok" {
		t.Fatalf("health body = %v", body)
	}
}

func TestMissingCredentials(t *testing.T) {
	api := newTestAPI(t)
	var e errorBody
	status := api.call(t, http.MethodGet, "/v0/templates", "", nil, &e)
	if status != http.StatusUnauthorized || e.Err.Code != "unauthorized" {
		t.Fatalf("status=%d code=%q", status, e.Err.Code)
	}
}

func TestPermissionDenied(t *testing.T) {
	api := newTestAPI(t)
	var e errorBody
	status := api.call(t, http.MethodPost, "/v0/clients", "stranger", map[string]string{"name": "Acme Co"}, &e)
	if status != http.StatusForbidden || e.Err.Code != "forbidden" {
		t.Fatalf("status=%d code=%q", status, e.Err.Code)
	}
	if e.Err.Details["permission"] != "client.create" {
		t.Fatalf("details = %v", e.Err.Details)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	api := newTestAPI(t)
	var e errorBody
	status := api.call(t, http.MethodGet, "/v0/assignments/nonexistent", "tester", nil, &e)
	if status != http.StatusNotFound || e.Err.Code != "not_found" {
		t.Fatalf("status=%d code=%q", status, e.Err.Code)
	}
}

func TestForkFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	var client server.ClientResponse
	if status := api.call(t, http.MethodPost, "/v0/clients", "tester", map[string]string{"name": "Acme Co"}, &client); status != http.StatusCreated {
		t.Fatalf("create client status = %d", status)
	}

	var tpl server.TemplateResponse
	status := api.call(t, http.MethodPost, "/v0/templates", "tester", map[string]any{
		"name": "SEO Basic",
		"assets": []map[string]any{
			{"type": "social_profile", "name": "Facebook Page", "is_required": true, "default_frequency": 5},
			{"type": "social_profile", "name": "Twitter Profile", "is_required": true},
			{"type": "gmb_listing", "name": "GMB Listing"},
		},
		"team_members": []map[string]any{
			{"agent_ref": "agent-1", "role": "seo_specialist"},
		},
	}, &tpl)
	if status != http.StatusCreated {
		t.Fatalf("create template status = %d", status)
	}
	if len(tpl.Assets) != 3 {
		t.Fatalf("template assets = %d", len(tpl.Assets))
	}
	var twitterID int64
	for _, a := range tpl.Assets {
		if a.Name == "Twitter Profile" {
			twitterID = a.ID
		}
	}

	var created assignmentBody
	status = api.call(t, http.MethodPost, "/v0/assignments", "tester", map[string]string{
		"client_id":   client.ID,
		"template_id": tpl.ID,
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create assignment status = %d", status)
	}
	if len(created.Tasks) != 3 || len(created.Settings) != 2 {
		t.Fatalf("seeded tasks=%d settings=%d", len(created.Tasks), len(created.Settings))
	}
	assignmentID := created.Assignment.ID

	var forked assignmentBody
	status = api.call(t, http.MethodPost, "/v0/assignments/"+assignmentID+"/fork", "tester", map[string]any{
		"idempotency_key": "rework-q1",
		"replacements": []map[string]any{
			{"old_asset_id": twitterID, "new_asset_name": "Instagram Reels", "default_posting_frequency": 4},
		},
		"new_assets": []map[string]any{
			{"type": "web2_site", "name": "Medium Blog"},
		},
	}, &forked)
	if status != http.StatusOK {
		t.Fatalf("fork status = %d", status)
	}
	if forked.Skipped {
		t.Fatalf("fresh fork skipped")
	}
	if forked.Template == nil || forked.Template.ID == tpl.ID {
		t.Fatalf("assignment not rebound: %+v", forked.Template)
	}
	if forked.Template.Name != "SEO Basic - Acme Co" {
		t.Fatalf("clone name = %q", forked.Template.Name)
	}
	if forked.Counts == nil {
		t.Fatalf("counts missing")
	}
	if forked.Counts.AssetsReplaced != 1 || forked.Counts.AssetsAdded != 1 || forked.Counts.TasksArchived != 1 || forked.Counts.TasksCreated != 2 {
		t.Fatalf("counts = %+v", forked.Counts)
	}

	// Retrying the same operation is a no-op.
	var retry assignmentBody
	status = api.call(t, http.MethodPost, "/v0/assignments/"+assignmentID+"/fork", "tester", map[string]any{
		"idempotency_key": "rework-q1",
	}, &retry)
	if status != http.StatusOK || !retry.Skipped {
		t.Fatalf("retry status=%d skipped=%v", status, retry.Skipped)
	}
	if retry.PreviousOperation != "2026-03-01T12:00:00Z" {
		t.Fatalf("previous operation = %q", retry.PreviousOperation)
	}
	if retry.Counts != nil {
		t.Fatalf("skipped fork should not report counts")
	}

	var tasks []domain.Task
	status = api.call(t, http.MethodGet, "/v0/assignments/"+assignmentID+"/tasks?status=cancelled", "tester", nil, &tasks)
	if status != http.StatusOK || len(tasks) != 1 {
		t.Fatalf("cancelled tasks status=%d n=%d", status, len(tasks))
	}

	var entries []server.AuditEntryResponse
	status = api.call(t, http.MethodGet, "/v0/assignments/"+assignmentID+"/audit", "tester", nil, &entries)
	if status != http.StatusOK {
		t.Fatalf("audit status = %d", status)
	}
	var forkEntry *server.AuditEntryResponse
	for i := range entries {
		if entries[i].Action == "template.fork" {
			forkEntry = &entries[i]
		}
	}
	if forkEntry == nil {
		t.Fatalf("no fork audit entry in %v", entries)
	}
	if forkEntry.IdempotencyKey == nil || *forkEntry.IdempotencyKey != "rework-q1" {
		t.Fatalf("fork entry key = %v", forkEntry.IdempotencyKey)
	}
	if forkEntry.Details["target_template_id"] == nil {
		t.Fatalf("fork entry details = %v", forkEntry.Details)
	}
}

func TestForkWithoutTemplateIsUnprocessable(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	const ts = "2026-03-01T12:00:00Z"
	if err := api.Repo.InsertClient(ctx, domain.Client{ID: "c1", Name: "Orphan Co", Status: "active", CreatedAt: ts}); err != nil {
		t.Fatal(err)
	}
	tx, err := api.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := api.Repo.InsertAssignment(ctx, tx, domain.Assignment{ID: "a1", ClientID: "c1", CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	var e errorBody
	status := api.call(t, http.MethodPost, "/v0/assignments/a1/fork", "tester", map[string]any{}, &e)
	if status != http.StatusUnprocessableEntity || e.Err.Code != "precondition_failed" {
		t.Fatalf("status=%d code=%q", status, e.Err.Code)
	}
}
