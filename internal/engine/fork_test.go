package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"opsdesk/internal/config"
	"opsdesk/internal/db"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/migrate"
	"opsdesk/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	eng.Audit.Now = eng.Now
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

type fixture struct {
	Client     domain.Client
	Template   domain.Template
	Assets     []domain.Asset
	Assignment domain.Assignment
}

// seoFixture builds a client bound to a three-asset template: two required
// social profiles and one optional listing.
func seoFixture(t *testing.T, env testEnv) fixture {
	t.Helper()
	client, err := env.Engine.CreateClient(env.Ctx, "Acme Co", "tester")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	tpl, assets, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateCreateOptions{
		Name:       "SEO Basic",
		PackageRef: "pkg-seo-basic",
		ActorID:    "tester",
		Assets: []domain.Asset{
			{Type: "social_profile", Name: "Facebook Page", IsRequired: true, DefaultFrequency: intPtr(5), DefaultDurationMinutes: intPtr(20)},
			{Type: "social_profile", Name: "Twitter Profile", IsRequired: true},
			{Type: "gmb_listing", Name: "GMB Listing", DefaultDurationMinutes: intPtr(45)},
		},
		TeamMembers: []domain.TeamMember{
			{AgentRef: "agent-1", Role: strPtr("seo_specialist")},
		},
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	a, err := env.Engine.CreateAssignment(env.Ctx, client.ID, tpl.ID, "tester")
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	return fixture{Client: client, Template: tpl, Assets: assets, Assignment: a}
}

func settingsByAsset(settings []domain.AssetSetting) map[int64]domain.AssetSetting {
	m := make(map[int64]domain.AssetSetting, len(settings))
	for _, s := range settings {
		m[s.AssetID] = s
	}
	return m
}

func TestCreateAssignmentSeedsSettingsAndTasks(t *testing.T) {
	env := newTestEnv(t)
	fx := seoFixture(t, env)
	res, err := env.Engine.AssignmentState(env.Ctx, fx.Assignment.ID)
	if err != nil {
		t.Fatalf("assignment state: %v", err)
	}
	if len(res.Settings) != 2 {
		t.Fatalf("expected settings for the 2 required assets, got %d", len(res.Settings))
	}
	if len(res.Tasks) != 3 {
		t.Fatalf("expected one initial task per asset, got %d", len(res.Tasks))
	}
	for _, task := range res.Tasks {
		if task.Status != "pending" {
			t.Fatalf("initial task %d status = %s", task.ID, task.Status)
		}
		if task.Priority != "medium" {
			t.Fatalf("initial task %d priority = %s", task.ID, task.Priority)
		}
	}
	byAsset := settingsByAsset(res.Settings)
	fb := byAsset[fx.Assets[0].ID]
	if fb.RequiredFrequency == nil || *fb.RequiredFrequency != 5 {
		t.Fatalf("facebook setting frequency not seeded from asset default: %+v", fb)
	}
}

func TestForkClonesTemplateAndMigratesSettings(t *testing.T) {
	env := newTestEnv(t)
	fx := seoFixture(t, env)

	res, err := env.Engine.ForkTemplate(env.Ctx, engine.ForkOptions{
		AssignmentID: fx.Assignment.ID,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if res.Skipped {
		t.Fatalf("fresh fork reported skipped")
	}
	if res.Template.ID == fx.Template.ID {
		t.Fatalf("assignment still bound to the shared template")
	}
	if res.Template.Name != "SEO Basic - Acme Co" {
		t.Fatalf("clone name = %q", res.Template.Name)
	}
	if res.Template.PackageRef != "pkg-seo-basic" {
		t.Fatalf("clone lost package ref")
	}
	if len(res.Assets) != 3 {
		t.Fatalf("clone asset count = %d", len(res.Assets))
	}
	sourceIDs := map[int64]bool{}
	for _, a := range fx.Assets {
		sourceIDs[a.ID] = true
	}
	for _, a := range res.Assets {
		if sourceIDs[a.ID] {
			t.Fatalf("clone reuses source asset id %d", a.ID)
		}
		if a.TemplateID != res.Template.ID {
			t.Fatalf("clone asset %d bound to template %s", a.ID, a.TemplateID)
		}
	}
	if len(res.TeamMembers) != 1 || res.TeamMembers[0].AgentRef != "agent-1" {
		t.Fatalf("team roster not carried over: %+v", res.TeamMembers)
	}
	if res.Counts.SettingsMigrated != 2 {
		t.Fatalf("settings migrated = %d", res.Counts.SettingsMigrated)
	}
	// Tasks are untouched by a plain fork.
	if len(res.Tasks) != 3 {
		t.Fatalf("plain fork changed task count: %d", len(res.Tasks))
	}
	if res.Counts.TasksCreated != 0 || res.Counts.TasksArchived != 0 {
		t.Fatalf("plain fork touched tasks: %+v", res.Counts)
	}
	// The shared template is left intact for other clients.
	src, err := env.Engine.Repo.GetTemplate(env.Ctx, fx.Template.ID)
	if err != nil || src.Name != "SEO Basic" {
		t.Fatalf("shared template damaged: %+v %v", src, err)
	}
	srcAssets, err := env.Engine.Repo.ListAssets(env.Ctx, fx.Template.ID)
	if err != nil || len(srcAssets) != 3 {
		t.Fatalf("shared template assets damaged: %d %v", len(srcAssets), err)
	}
	// Settings are re-keyed in place: same rows, clone asset ids, no strays
	// left pointing at the shared template.
	if len(res.Settings) != 2 {
		t.Fatalf("settings on assignment after fork = %d, want 2", len(res.Settings))
	}
	for _, s := range res.Settings {
		if sourceIDs[s.AssetID] {
			t.Fatalf("setting %d still keyed to source asset %d", s.ID, s.AssetID)
		}
	}
	byAsset := settingsByAsset(res.Settings)
	var fbClone domain.Asset
	for _, a := range res.Assets {
		if a.Name == "Facebook Page" {
			fbClone = a
		}
	}
	moved, ok := byAsset[fbClone.ID]
	if !ok {
		t.Fatalf("no setting migrated onto cloned facebook asset")
	}
	if moved.RequiredFrequency == nil || *moved.RequiredFrequency != 5 {
		t.Fatalf("migrated setting lost frequency: %+v", moved)
	}
}

func TestForkReplacementRegeneratesTasks(t *testing.T) {
	env := newTestEnv(t)
	fx := seoFixture(t, env)
	twitter := fx.Assets[1]

	res, err := env.Engine.ForkTemplate(env.Ctx, engine.ForkOptions{
		AssignmentID: fx.Assignment.ID,
		ActorID:      "tester",
		Replacements: []engine.AssetReplacement{{
			OldAssetID:       twitter.ID,
			NewName:          "Instagram Reels",
			DefaultFrequency: intPtr(4),
		}},
	})
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if res.Counts.AssetsReplaced != 1 || res.Counts.TasksArchived != 1 || res.Counts.TasksCreated != 1 {
		t.Fatalf("unexpected counts: %+v", res.Counts)
	}
	var replaced domain.Asset
	for _, a := range res.Assets {
		if a.Name == "Instagram Reels" {
			replaced = a
		}
	}
	if replaced.ID == 0 {
		t.Fatalf("replaced asset missing from clone")
	}
	if replaced.Type != "social_profile" {
		t.Fatalf("replacement without a type should keep the source type, got %s", replaced.Type)
	}

	var cancelled, created int
	for _, task := range res.Tasks {
		switch {
		case task.Status == "cancelled":
			cancelled++
			if task.AssetID == nil || *task.AssetID != twitter.ID {
				t.Fatalf("wrong task cancelled: %+v", task)
			}
			if task.Notes == nil || !strings.Contains(*task.Notes, "Instagram Reels") {
				t.Fatalf("cancelled task missing replacement note: %+v", task)
			}
		case task.Title == "Instagram Reels":
			created++
			if task.Status != "pending" {
				t.Fatalf("replacement task status = %s", task.Status)
			}
			if task.DueDate != "2026-03-08T12:00:00Z" {
				t.Fatalf("replacement task due = %s", task.DueDate)
			}
			if task.DurationMinutes == nil || *task.DurationMinutes != 30 {
				t.Fatalf("replacement task should fall back to default duration: %+v", task.DurationMinutes)
			}
		}
	}
	if cancelled != 1 || created != 1 {
		t.Fatalf("cancelled=%d created=%d", cancelled, created)
	}

	// The migrated setting picks up the replacement's defaults.
	setting, ok := settingsByAsset(res.Settings)[replaced.ID]
	if !ok {
		t.Fatalf("no setting for replaced asset")
	}
	if setting.RequiredFrequency == nil || *setting.RequiredFrequency != 4 {
		t.Fatalf("setting frequency not refreshed: %+v", setting)
	}
}

func TestForkUnmatchedReplacementIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	fx := seoFixture(t, env)

	res, err := env.Engine.ForkTemplate(env.Ctx, engine.ForkOptions{
		AssignmentID: fx.Assignment.ID,
		ActorID:      "tester",
		Replacements: []engine.AssetReplacement{{
			OldAssetID: 99999,
			NewName:    "Ghost Asset",
		}},
	})
	if err != nil {
		t.Fatalf("fork with unmatched replacement should not fail: %v", err)
	}
	if res.Counts.ReplacementsSkipped != 1 {
		t.Fatalf("skipped = %d", res.Counts.ReplacementsSkipped)
	}
	if res.Counts.AssetsReplaced != 0 || res.Counts.TasksArchived != 0 || res.Counts.TasksCreated != 0 {
		t.Fatalf("skipped replacement mutated state: %+v", res.Counts)
	}
	if len(res.Assets) != 3 {
		t.Fatalf("clone asset count = %d", len(res.Assets))
	}
}

func TestForkAddsAssets(t *testing.T) {
	env := newTestEnv(t)
	fx := seoFixture(t, env)

	res, err := env.Engine.ForkTemplate(env.Ctx, engine.ForkOptions{
		AssignmentID: fx.Assignment.ID,
		ActorID:      "tester",
		NewAssets: []engine.AssetAddition{{
			Type:       "web2_site",
			Name:       "Medium Blog",
			CustomName: strPtr("Acme on Medium"),
			IsRequired: true,
		}},
	})
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if res.Counts.AssetsAdded != 1 || res.Counts.TasksCreated != 1 {
		t.Fatalf("unexpected counts: %+v", res.Counts)
	}
	if len(res.Assets) != 4 {
		t.Fatalf("clone asset count = %d", len(res.Assets))
	}
	var added domain.Asset
	for _, a := range res.Assets {
		if a.Type == "web2_site" {
			added = a
		}
	}
	if added.Name != "Acme on Medium" {
		t.Fatalf("custom name not applied: %q", added.Name)
	}
	var task domain.Task
	for _, candidate := range res.Tasks {
		if candidate.AssetID != nil && *candidate.AssetID == added.ID {
			task = candidate
		}
	}
	if task.ID == 0 || task.Title != "Acme on Medium" || task.Status != "pending" {
		t.Fatalf("addition task not generated: %+v", task)
	}
	setting, ok := settingsByAsset(res.Settings)[added.ID]
	if !ok {
		t.Fatalf("no setting created for added asset")
	}
	if setting.RequiredFrequency == nil || *setting.RequiredFrequency != 3 {
		t.Fatalf("addition setting should use the configured frequency: %+v", setting)
	}
	if setting.Period == nil || *setting.Period != "monthly" {
		t.Fatalf("addition setting period = %v", setting.Period)
	}
}

func TestForkIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	fx := seoFixture(t, env)
	opts := engine.ForkOptions{
		AssignmentID:   fx.Assignment.ID,
		ActorID:        "tester",
		IdempotencyKey: "op-1",
	}

	first, err := env.Engine.ForkTemplate(env.Ctx, opts)
	if err != nil {
		t.Fatalf("first fork: %v", err)
	}
	if first.Skipped {
		t.Fatalf("first fork skipped")
	}

	second, err := env.Engine.ForkTemplate(env.Ctx, opts)
	if err != nil {
		t.Fatalf("repeat fork: %v", err)
	}
	if !second.Skipped {
		t.Fatalf("repeat with same key should be skipped")
	}
	if second.PreviousOperation != "2026-03-01T12:00:00Z" {
		t.Fatalf("previous operation ts = %q", second.PreviousOperation)
	}
	if second.Template.ID != first.Template.ID {
		t.Fatalf("skip returned a different template")
	}
	templates, err := env.Engine.Repo.ListTemplates(env.Ctx)
	if err != nil || len(templates) != 2 {
		t.Fatalf("repeat fork created a template: %d %v", len(templates), err)
	}

	opts.ForceRecreate = true
	third, err := env.Engine.ForkTemplate(env.Ctx, opts)
	if err != nil {
		t.Fatalf("forced fork: %v", err)
	}
	if third.Skipped {
		t.Fatalf("forced fork skipped")
	}
	if third.Template.ID == first.Template.ID {
		t.Fatalf("forced fork did not create a new clone")
	}
	templates, err = env.Engine.Repo.ListTemplates(env.Ctx)
	if err != nil || len(templates) != 3 {
		t.Fatalf("forced fork template count = %d %v", len(templates), err)
	}
}

func TestForkUniqueNameSuffix(t *testing.T) {
	env := newTestEnv(t)
	fx := seoFixture(t, env)

	first, err := env.Engine.ForkTemplate(env.Ctx, engine.ForkOptions{
		AssignmentID:       fx.Assignment.ID,
		ActorID:            "tester",
		CustomTemplateName: "Acme SEO",
	})
	if err != nil {
		t.Fatalf("first fork: %v", err)
	}
	if first.Template.Name != "Acme SEO" {
		t.Fatalf("custom name not used: %q", first.Template.Name)
	}

	second, err := env.Engine.ForkTemplate(env.Ctx, engine.ForkOptions{
		AssignmentID:       fx.Assignment.ID,
		ActorID:            "tester",
		CustomTemplateName: "Acme SEO",
	})
	if err != nil {
		t.Fatalf("second fork: %v", err)
	}
	if second.Template.Name != "Acme SEO (2)" {
		t.Fatalf("collision suffix not applied: %q", second.Template.Name)
	}
}

func TestForkWithoutTemplateFails(t *testing.T) {
	env := newTestEnv(t)
	client, err := env.Engine.CreateClient(env.Ctx, "Orphan Co", "tester")
	if err != nil {
		t.Fatal(err)
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	a := domain.Assignment{
		ID:        "assignment-no-template",
		ClientID:  client.ID,
		CreatedAt: "2026-03-01T12:00:00Z",
		UpdatedAt: "2026-03-01T12:00:00Z",
	}
	if err := env.Engine.Repo.InsertAssignment(env.Ctx, tx, a); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	_, err = env.Engine.ForkTemplate(env.Ctx, engine.ForkOptions{AssignmentID: a.ID, ActorID: "tester"})
	if !errors.Is(err, engine.ErrNoTemplate) {
		t.Fatalf("expected ErrNoTemplate, got %v", err)
	}
}

func TestForkEmptyTemplate(t *testing.T) {
	env := newTestEnv(t)
	client, err := env.Engine.CreateClient(env.Ctx, "Tiny Co", "tester")
	if err != nil {
		t.Fatal(err)
	}
	tpl, _, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateCreateOptions{Name: "Bare", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	a, err := env.Engine.CreateAssignment(env.Ctx, client.ID, tpl.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.ForkTemplate(env.Ctx, engine.ForkOptions{AssignmentID: a.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("fork of empty template: %v", err)
	}
	if res.Template.ID == tpl.ID || res.Template.Name != "Bare - Tiny Co" {
		t.Fatalf("empty clone not created: %+v", res.Template)
	}
	if len(res.Assets) != 0 || res.Counts.SettingsMigrated != 0 {
		t.Fatalf("empty fork produced assets or settings: %+v", res.Counts)
	}
}

func TestForkRollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	fx := seoFixture(t, env)
	// An out-of-range priority trips the tasks table check constraint midway
	// through the fork, after the clone already exists in the transaction.
	env.Engine.Config.Fork.TaskPriority = "urgent"

	_, err := env.Engine.ForkTemplate(env.Ctx, engine.ForkOptions{
		AssignmentID: fx.Assignment.ID,
		ActorID:      "tester",
		NewAssets:    []engine.AssetAddition{{Type: "blog", Name: "Blog"}},
	})
	if err == nil {
		t.Fatalf("expected constraint failure")
	}

	a, err := env.Engine.Repo.GetAssignment(env.Ctx, fx.Assignment.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.TemplateID == nil || *a.TemplateID != fx.Template.ID {
		t.Fatalf("assignment rebound despite rollback: %+v", a.TemplateID)
	}
	templates, err := env.Engine.Repo.ListTemplates(env.Ctx)
	if err != nil || len(templates) != 1 {
		t.Fatalf("clone survived rollback: %d %v", len(templates), err)
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{AssignmentID: fx.Assignment.ID})
	if err != nil || len(tasks) != 3 {
		t.Fatalf("tasks changed despite rollback: %d %v", len(tasks), err)
	}
	settings, err := env.Engine.Repo.ListAssetSettings(env.Ctx, fx.Assignment.ID)
	if err != nil || len(settings) != 2 {
		t.Fatalf("settings changed despite rollback: %d %v", len(settings), err)
	}
}

func TestForkFullScenario(t *testing.T) {
	env := newTestEnv(t)
	fx := seoFixture(t, env)
	twitter := fx.Assets[1]

	// The client also tuned the optional listing, so every source asset
	// carries a setting going into the fork.
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Repo.InsertAssetSetting(env.Ctx, tx, domain.AssetSetting{
		AssignmentID:         fx.Assignment.ID,
		AssetID:              fx.Assets[2].ID,
		RequiredFrequency:    intPtr(1),
		IdealDurationMinutes: intPtr(45),
	}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.ForkTemplate(env.Ctx, engine.ForkOptions{
		AssignmentID:   fx.Assignment.ID,
		ActorID:        "tester",
		IdempotencyKey: "rework-q1",
		Replacements: []engine.AssetReplacement{{
			OldAssetID: twitter.ID,
			NewName:    "Instagram Reels",
		}},
		NewAssets: []engine.AssetAddition{{
			Type:       "web2_site",
			Name:       "Medium",
			IsRequired: true,
		}},
	})
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	want := engine.ForkCounts{
		TasksCreated:     2,
		TasksArchived:    1,
		AssetsAdded:      1,
		AssetsReplaced:   1,
		SettingsMigrated: 3,
	}
	if res.Counts != want {
		t.Fatalf("counts = %+v, want %+v", res.Counts, want)
	}
	if len(res.Assets) != 4 {
		t.Fatalf("clone asset count = %d", len(res.Assets))
	}
	// 3 migrated plus 1 seeded by the addition, every one on a clone asset.
	if len(res.Settings) != 4 {
		t.Fatalf("settings after fork = %d, want 4", len(res.Settings))
	}
	cloneIDs := map[int64]bool{}
	for _, a := range res.Assets {
		cloneIDs[a.ID] = true
	}
	for _, s := range res.Settings {
		if !cloneIDs[s.AssetID] {
			t.Fatalf("setting %d keyed to non-clone asset %d", s.ID, s.AssetID)
		}
	}
	pending := 0
	for _, task := range res.Tasks {
		if task.Status == "pending" {
			pending++
		}
	}
	// 3 initial, 1 cancelled by the replacement, 2 regenerated.
	if len(res.Tasks) != 5 || pending != 4 {
		t.Fatalf("task totals: %d tasks, %d pending", len(res.Tasks), pending)
	}

	// The audit ledger records the operation under its key.
	entries, err := env.Engine.Repo.ListAudit(env.Ctx, repo.AuditFilters{
		EntityType: "assignment",
		EntityID:   fx.Assignment.ID,
		Action:     "template.fork",
	})
	if err != nil || len(entries) != 1 {
		t.Fatalf("audit entries = %d %v", len(entries), err)
	}
	if entries[0].IdempotencyKey == nil || *entries[0].IdempotencyKey != "rework-q1" {
		t.Fatalf("audit entry key = %v", entries[0].IdempotencyKey)
	}
}
