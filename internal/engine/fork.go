package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"opsdesk/internal/audit"
	"opsdesk/internal/domain"
	"opsdesk/internal/repo"
)

// ActionFork is the audit action recorded for every committed fork; the
// idempotency guard searches this action.
const ActionFork = "template.fork"

// ErrNoTemplate means the assignment has no template to fork from.
var ErrNoTemplate = errors.New("assignment has no template attached")

// AssetReplacement mutates one cloned asset in place. Nil optional fields fall
// back to the source asset's values.
type AssetReplacement struct {
	OldAssetID             int64
	NewName                string
	NewType                *string
	NewURL                 *string
	NewDescription         *string
	IsRequired             *bool
	DefaultFrequency       *int
	DefaultDurationMinutes *int
}

// AssetAddition appends a brand-new asset to the clone.
type AssetAddition struct {
	Type                   string
	Name                   string
	CustomName             *string
	URL                    *string
	Description            *string
	IsRequired             bool
	DefaultFrequency       *int
	DefaultDurationMinutes *int
}

type ForkOptions struct {
	AssignmentID       string
	ActorID            string
	NewAssets          []AssetAddition
	Replacements       []AssetReplacement
	CustomTemplateName string
	IdempotencyKey     string
	ForceRecreate      bool
}

type ForkCounts struct {
	TasksCreated        int `json:"tasks_created"`
	TasksArchived       int `json:"tasks_archived"`
	AssetsAdded         int `json:"assets_added"`
	AssetsReplaced      int `json:"assets_replaced"`
	ReplacementsSkipped int `json:"replacements_skipped"`
	SettingsMigrated    int `json:"settings_migrated"`
}

// ForkResult is the post-fork assignment state: the rebound assignment, its new
// template with assets and team roster, the current task list and settings.
type ForkResult struct {
	Assignment        domain.Assignment
	Template          domain.Template
	Assets            []domain.Asset
	TeamMembers       []domain.TeamMember
	Tasks             []domain.Task
	Settings          []domain.AssetSetting
	Counts            ForkCounts
	Skipped           bool
	PreviousOperation string
}

// ForkTemplate clones the assignment's shared template into a client-specific
// variant, migrates settings onto the clone, applies replacements and
// additions, regenerates tasks and rebinds the assignment — atomically. A
// repeated idempotency key short-circuits without mutation unless
// ForceRecreate is set.
func (e Engine) ForkTemplate(ctx context.Context, opts ForkOptions) (ForkResult, error) {
	if opts.AssignmentID == "" {
		return ForkResult{}, errors.New("assignment is required")
	}
	if opts.ActorID == "" {
		return ForkResult{}, errors.New("actor is required")
	}
	assignment, err := e.Repo.GetAssignment(ctx, opts.AssignmentID)
	if err != nil {
		return ForkResult{}, err
	}
	client, err := e.Repo.GetClient(ctx, assignment.ClientID)
	if err != nil {
		return ForkResult{}, err
	}
	if assignment.TemplateID == nil {
		return ForkResult{}, ErrNoTemplate
	}
	source, err := e.Repo.GetTemplate(ctx, *assignment.TemplateID)
	if err != nil {
		return ForkResult{}, err
	}

	if opts.IdempotencyKey != "" && !opts.ForceRecreate {
		entry, err := e.Repo.LatestAuditByKey(ctx, "assignment", assignment.ID, ActionFork, opts.IdempotencyKey)
		if err == nil {
			res, err := e.AssignmentState(ctx, assignment.ID)
			if err != nil {
				return ForkResult{}, err
			}
			res.Skipped = true
			res.PreviousOperation = entry.TS
			return res, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return ForkResult{}, err
		}
	}

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ForkResult{}, err
	}
	defer tx.Rollback()

	clone, idMap, sourceByID, err := e.cloneTemplate(ctx, tx, source, client, opts.CustomTemplateName, nowStr)
	if err != nil {
		return ForkResult{}, err
	}

	var counts ForkCounts
	counts.SettingsMigrated, err = e.migrateSettings(ctx, tx, assignment.ID, idMap)
	if err != nil {
		return ForkResult{}, err
	}

	categoryIDs := map[string]int64{}
	if err := e.applyReplacements(ctx, tx, assignment.ID, opts.Replacements, idMap, sourceByID, categoryIDs, now, &counts); err != nil {
		return ForkResult{}, err
	}
	if err := e.applyAdditions(ctx, tx, assignment.ID, clone.ID, opts.NewAssets, categoryIDs, now, &counts); err != nil {
		return ForkResult{}, err
	}

	if err := e.Repo.RebindAssignmentTemplate(ctx, tx, assignment.ID, clone.ID, nowStr); err != nil {
		return ForkResult{}, fmt.Errorf("rebind assignment: %w", err)
	}

	if err := e.Audit.Append(ctx, tx, "assignment", assignment.ID, ActionFork, opts.ActorID, opts.IdempotencyKey, audit.Details{
		"source_template_id":   source.ID,
		"source_template_name": source.Name,
		"target_template_id":   clone.ID,
		"target_template_name": clone.Name,
		"client_id":            client.ID,
		"client_name":          client.Name,
		"tasks_created":        counts.TasksCreated,
		"tasks_archived":       counts.TasksArchived,
		"assets_added":         counts.AssetsAdded,
		"assets_replaced":      counts.AssetsReplaced,
		"replacements_skipped": counts.ReplacementsSkipped,
		"settings_migrated":    counts.SettingsMigrated,
	}); err != nil {
		return ForkResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ForkResult{}, err
	}

	res, err := e.AssignmentState(ctx, assignment.ID)
	if err != nil {
		return ForkResult{}, err
	}
	res.Counts = counts
	return res, nil
}

// cloneTemplate deep-copies the source template's assets and team roster under
// a uniquely named new template, returning the old->new asset id map.
func (e Engine) cloneTemplate(ctx context.Context, tx *sql.Tx, source domain.Template, client domain.Client, customName, nowStr string) (domain.Template, map[int64]int64, map[int64]domain.Asset, error) {
	name, err := e.uniqueTemplateName(ctx, tx, customName, source.Name, client.Name)
	if err != nil {
		return domain.Template{}, nil, nil, err
	}
	clone := domain.Template{
		ID:          uuid.New().String(),
		Name:        name,
		Description: source.Description,
		PackageRef:  source.PackageRef,
		Status:      "active",
		CreatedAt:   nowStr,
	}
	if err := e.Repo.InsertTemplateTx(ctx, tx, clone); err != nil {
		return domain.Template{}, nil, nil, fmt.Errorf("insert cloned template: %w", err)
	}
	sourceAssets, err := e.Repo.ListAssetsTx(ctx, tx, source.ID)
	if err != nil {
		return domain.Template{}, nil, nil, err
	}
	idMap := make(map[int64]int64, len(sourceAssets))
	sourceByID := make(map[int64]domain.Asset, len(sourceAssets))
	for _, a := range sourceAssets {
		sourceByID[a.ID] = a
		copied := a
		copied.ID = 0
		copied.TemplateID = clone.ID
		newID, err := e.Repo.InsertAsset(ctx, tx, copied)
		if err != nil {
			return domain.Template{}, nil, nil, fmt.Errorf("clone asset %d: %w", a.ID, err)
		}
		idMap[a.ID] = newID
	}
	members, err := e.Repo.ListTeamMembersTx(ctx, tx, source.ID)
	if err != nil {
		return domain.Template{}, nil, nil, err
	}
	for _, m := range members {
		m.TemplateID = clone.ID
		if err := e.Repo.InsertTeamMember(ctx, tx, m); err != nil {
			return domain.Template{}, nil, nil, fmt.Errorf("clone team member %s: %w", m.AgentRef, err)
		}
	}
	return clone, idMap, sourceByID, nil
}

// migrateSettings re-keys every setting whose asset id is in the map onto the
// cloned asset in place, so no setting on the assignment is left pointing at a
// source-template asset. Settings for unmapped assets are left alone.
func (e Engine) migrateSettings(ctx context.Context, tx *sql.Tx, assignmentID string, idMap map[int64]int64) (int, error) {
	settings, err := e.Repo.ListAssetSettingsTx(ctx, tx, assignmentID)
	if err != nil {
		return 0, err
	}
	migrated := 0
	for _, s := range settings {
		newID, ok := idMap[s.AssetID]
		if !ok {
			continue
		}
		if err := e.Repo.RekeyAssetSetting(ctx, tx, s.ID, newID); err != nil {
			return 0, fmt.Errorf("migrate setting %d: %w", s.ID, err)
		}
		migrated++
	}
	return migrated, nil
}

func (e Engine) applyReplacements(ctx context.Context, tx *sql.Tx, assignmentID string, replacements []AssetReplacement, idMap map[int64]int64, sourceByID map[int64]domain.Asset, categoryIDs map[string]int64, now time.Time, counts *ForkCounts) error {
	nowStr := now.Format(time.RFC3339)
	for _, rep := range replacements {
		newAssetID, ok := idMap[rep.OldAssetID]
		if !ok {
			e.logf("WARNING: replacement references asset %d which is not part of the forked template; skipping", rep.OldAssetID)
			counts.ReplacementsSkipped++
			continue
		}
		updated := mergeReplacement(sourceByID[rep.OldAssetID], rep)
		updated.ID = newAssetID
		if err := e.Repo.UpdateAsset(ctx, tx, updated); err != nil {
			return fmt.Errorf("update replaced asset %d: %w", newAssetID, err)
		}
		note := fmt.Sprintf("Cancelled: asset replaced by %s", updated.Name)
		archived, err := e.Repo.CancelTasksForAsset(ctx, tx, assignmentID, rep.OldAssetID, note, nowStr)
		if err != nil {
			return fmt.Errorf("archive tasks for asset %d: %w", rep.OldAssetID, err)
		}
		counts.TasksArchived += int(archived)
		categoryID, err := e.categoryIDForType(ctx, tx, categoryIDs, updated.Type)
		if err != nil {
			return err
		}
		task := e.newAssetTask(assignmentID, updated, categoryID, now, fmt.Sprintf("Replacement task for %s", updated.Name))
		if _, err := e.Repo.InsertTask(ctx, tx, task); err != nil {
			return fmt.Errorf("create replacement task: %w", err)
		}
		counts.TasksCreated++
		if err := e.Repo.ApplyAssetDefaultsToSetting(ctx, tx, assignmentID, newAssetID, updated.DefaultFrequency, updated.DefaultDurationMinutes); err != nil {
			return fmt.Errorf("refresh setting for asset %d: %w", newAssetID, err)
		}
		counts.AssetsReplaced++
	}
	return nil
}

func (e Engine) applyAdditions(ctx context.Context, tx *sql.Tx, assignmentID, templateID string, additions []AssetAddition, categoryIDs map[string]int64, now time.Time, counts *ForkCounts) error {
	for _, add := range additions {
		name := add.Name
		if add.CustomName != nil && *add.CustomName != "" {
			name = *add.CustomName
		}
		asset := domain.Asset{
			TemplateID:             templateID,
			Type:                   add.Type,
			Name:                   name,
			URL:                    add.URL,
			Description:            add.Description,
			IsRequired:             add.IsRequired,
			DefaultFrequency:       add.DefaultFrequency,
			DefaultDurationMinutes: add.DefaultDurationMinutes,
		}
		id, err := e.Repo.InsertAsset(ctx, tx, asset)
		if err != nil {
			return fmt.Errorf("add asset %s: %w", name, err)
		}
		asset.ID = id
		categoryID, err := e.categoryIDForType(ctx, tx, categoryIDs, asset.Type)
		if err != nil {
			return err
		}
		task := e.newAssetTask(assignmentID, asset, categoryID, now, fmt.Sprintf("New asset %s added during fork", asset.Name))
		if _, err := e.Repo.InsertTask(ctx, tx, task); err != nil {
			return fmt.Errorf("create addition task: %w", err)
		}
		frequency := e.Config.Fork.AdditionFrequency
		if add.DefaultFrequency != nil {
			frequency = *add.DefaultFrequency
		}
		period := e.Config.Fork.AdditionPeriod
		setting := domain.AssetSetting{
			AssignmentID:         assignmentID,
			AssetID:              id,
			RequiredFrequency:    &frequency,
			Period:               &period,
			IdealDurationMinutes: add.DefaultDurationMinutes,
		}
		if _, err := e.Repo.InsertAssetSetting(ctx, tx, setting); err != nil {
			return fmt.Errorf("create setting for asset %d: %w", id, err)
		}
		counts.AssetsAdded++
		counts.TasksCreated++
	}
	return nil
}

// mergeReplacement applies caller-provided fields over the source asset's
// values; anything the caller leaves nil keeps the original value.
func mergeReplacement(source domain.Asset, rep AssetReplacement) domain.Asset {
	updated := source
	updated.Name = rep.NewName
	if rep.NewType != nil {
		updated.Type = *rep.NewType
	}
	if rep.NewURL != nil {
		updated.URL = rep.NewURL
	}
	if rep.NewDescription != nil {
		updated.Description = rep.NewDescription
	}
	if rep.IsRequired != nil {
		updated.IsRequired = *rep.IsRequired
	}
	if rep.DefaultFrequency != nil {
		updated.DefaultFrequency = rep.DefaultFrequency
	}
	if rep.DefaultDurationMinutes != nil {
		updated.DefaultDurationMinutes = rep.DefaultDurationMinutes
	}
	return updated
}

// newAssetTask builds the single pending task emitted for a replaced or added
// asset: due in the configured window, configured priority, duration from the
// asset's default when set.
func (e Engine) newAssetTask(assignmentID string, asset domain.Asset, categoryID int64, now time.Time, note string) domain.Task {
	nowStr := now.Format(time.RFC3339)
	due := now.Add(time.Duration(e.Config.Fork.TaskDueDays) * 24 * time.Hour).Format(time.RFC3339)
	duration := e.Config.Fork.TaskDurationMinutes
	if asset.DefaultDurationMinutes != nil {
		duration = *asset.DefaultDurationMinutes
	}
	assetID := asset.ID
	return domain.Task{
		AssignmentID:    assignmentID,
		AssetID:         &assetID,
		CategoryID:      &categoryID,
		Title:           asset.Name,
		DueDate:         due,
		Status:          "pending",
		Priority:        e.Config.Fork.TaskPriority,
		DurationMinutes: &duration,
		Notes:           &note,
		CreatedAt:       nowStr,
		UpdatedAt:       nowStr,
	}
}

// categoryIDForType find-or-creates the task category configured for an asset
// type, memoizing per operation.
func (e Engine) categoryIDForType(ctx context.Context, tx *sql.Tx, cache map[string]int64, assetType string) (int64, error) {
	name := e.Config.CategoryForType(assetType)
	if id, ok := cache[name]; ok {
		return id, nil
	}
	id, err := e.Repo.EnsureCategory(ctx, tx, name)
	if err != nil {
		return 0, fmt.Errorf("ensure category %s: %w", name, err)
	}
	cache[name] = id
	return id, nil
}

// uniqueTemplateName generates the clone's name, retrying with a numeric
// suffix on collision. Checked inside the fork transaction so the retry sees
// names created by concurrent forks that already committed.
func (e Engine) uniqueTemplateName(ctx context.Context, tx *sql.Tx, custom, sourceName, clientName string) (string, error) {
	base := strings.TrimSpace(custom)
	if base == "" {
		base = fmt.Sprintf("%s - %s", sourceName, clientName)
	}
	name := base
	for i := 2; ; i++ {
		exists, err := e.Repo.TemplateNameExistsTx(ctx, tx, name)
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
		if i > 1000 {
			return "", fmt.Errorf("could not find unique template name for %q", base)
		}
		name = fmt.Sprintf("%s (%d)", base, i)
	}
}

// AssignmentState assembles the response payload: the assignment, its current
// template with assets and team members, tasks and settings. Handlers return
// the same shape for plain reads as for forks.
func (e Engine) AssignmentState(ctx context.Context, assignmentID string) (ForkResult, error) {
	assignment, err := e.Repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return ForkResult{}, err
	}
	res := ForkResult{Assignment: assignment}
	if assignment.TemplateID != nil {
		res.Template, err = e.Repo.GetTemplate(ctx, *assignment.TemplateID)
		if err != nil {
			return ForkResult{}, err
		}
		res.Assets, err = e.Repo.ListAssets(ctx, res.Template.ID)
		if err != nil {
			return ForkResult{}, err
		}
		res.TeamMembers, err = e.Repo.ListTeamMembers(ctx, res.Template.ID)
		if err != nil {
			return ForkResult{}, err
		}
	}
	res.Tasks, err = e.Repo.ListTasks(ctx, repo.TaskFilters{AssignmentID: assignmentID})
	if err != nil {
		return ForkResult{}, err
	}
	res.Settings, err = e.Repo.ListAssetSettings(ctx, assignmentID)
	if err != nil {
		return ForkResult{}, err
	}
	return res, nil
}
