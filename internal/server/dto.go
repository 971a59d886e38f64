package server

import (
	"encoding/json"

	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
)

// Request payloads

type CreateClientRequest struct {
	Name string `json:"name"`
}

type AssetRequest struct {
	Type                   string  `json:"type"`
	Name                   string  `json:"name"`
	URL                    *string `json:"url,omitempty"`
	Description            *string `json:"description,omitempty"`
	IsRequired             bool    `json:"is_required,omitempty"`
	DefaultFrequency       *int    `json:"default_frequency,omitempty"`
	DefaultDurationMinutes *int    `json:"default_duration_minutes,omitempty"`
}

type TeamMemberRequest struct {
	AgentRef     string  `json:"agent_ref"`
	Role         *string `json:"role,omitempty"`
	TeamRef      *string `json:"team_ref,omitempty"`
	AssignedDate *string `json:"assigned_date,omitempty" format:"date-time"`
}

type CreateTemplateRequest struct {
	Name        string              `json:"name"`
	Description *string             `json:"description,omitempty"`
	PackageRef  *string             `json:"package_ref,omitempty"`
	Assets      []AssetRequest      `json:"assets,omitempty"`
	TeamMembers []TeamMemberRequest `json:"team_members,omitempty"`
}

type CreateAssignmentRequest struct {
	ClientID   string `json:"client_id"`
	TemplateID string `json:"template_id"`
}

type NewAssetRequest struct {
	Type                        string  `json:"type"`
	Name                        string  `json:"name"`
	CustomName                  *string `json:"custom_name,omitempty"`
	URL                         *string `json:"url,omitempty"`
	Description                 *string `json:"description,omitempty"`
	IsRequired                  bool    `json:"is_required,omitempty"`
	DefaultPostingFrequency     *int    `json:"default_posting_frequency,omitempty"`
	DefaultIdealDurationMinutes *int    `json:"default_ideal_duration_minutes,omitempty"`
}

type ReplacementRequest struct {
	OldAssetID                  int64   `json:"old_asset_id"`
	NewAssetName                string  `json:"new_asset_name"`
	NewAssetType                *string `json:"new_asset_type,omitempty"`
	NewAssetURL                 *string `json:"new_asset_url,omitempty"`
	NewAssetDescription         *string `json:"new_asset_description,omitempty"`
	IsRequired                  *bool   `json:"is_required,omitempty"`
	DefaultPostingFrequency     *int    `json:"default_posting_frequency,omitempty"`
	DefaultIdealDurationMinutes *int    `json:"default_ideal_duration_minutes,omitempty"`
}

type ForkTemplateRequest struct {
	NewAssets          []NewAssetRequest    `json:"new_assets,omitempty"`
	Replacements       []ReplacementRequest `json:"replacements,omitempty"`
	CustomTemplateName *string              `json:"custom_template_name,omitempty"`
	IdempotencyKey     *string              `json:"idempotency_key,omitempty"`
	ForceRecreate      bool                 `json:"force_recreate,omitempty"`
}

// Response payloads

type ClientResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TemplateResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	PackageRef  string              `json:"package_ref,omitempty"`
	Status      string              `json:"status"`
	CreatedAt   string              `json:"created_at" format:"date-time"`
	Assets      []domain.Asset      `json:"assets,omitempty"`
	TeamMembers []domain.TeamMember `json:"team_members,omitempty"`
}

type ForkCountsResponse struct {
	TasksCreated        int `json:"tasks_created"`
	TasksArchived       int `json:"tasks_archived"`
	AssetsAdded         int `json:"assets_added"`
	AssetsReplaced      int `json:"assets_replaced"`
	ReplacementsSkipped int `json:"replacements_skipped"`
	SettingsMigrated    int `json:"settings_migrated"`
}

// AssignmentResponse is the state payload shared by reads and forks: the
// assignment, its current template with assets and team roster, tasks and
// settings. Skipped marks an idempotency short-circuit.
type AssignmentResponse struct {
	Assignment        domain.Assignment     `json:"assignment"`
	Template          *TemplateResponse     `json:"template,omitempty"`
	Tasks             []domain.Task         `json:"tasks"`
	Settings          []domain.AssetSetting `json:"settings"`
	Counts            *ForkCountsResponse   `json:"counts,omitempty"`
	Skipped           bool                  `json:"skipped,omitempty"`
	PreviousOperation string                `json:"previous_operation,omitempty" format:"date-time"`
}

// AuditEntryResponse mirrors an audit row with details decoded into an object.
type AuditEntryResponse struct {
	ID             int64          `json:"id"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	Action         string         `json:"action"`
	ActorID        string         `json:"actor_id"`
	TS             string         `json:"ts" format:"date-time"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
	Details        map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func mapAuditEntries(entries []domain.AuditEntry) []AuditEntryResponse {
	res := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out := AuditEntryResponse{
			ID:             e.ID,
			EntityType:     e.EntityType,
			EntityID:       e.EntityID,
			Action:         e.Action,
			ActorID:        e.ActorID,
			TS:             e.TS,
			IdempotencyKey: e.IdempotencyKey,
		}
		if e.DetailsJSON != "" {
			_ = json.Unmarshal([]byte(e.DetailsJSON), &out.Details)
		}
		res = append(res, out)
	}
	return res
}

func clientResponse(c domain.Client) ClientResponse {
	return ClientResponse{ID: c.ID, Name: c.Name, Status: c.Status, CreatedAt: c.CreatedAt}
}

func templateResponse(t domain.Template, assets []domain.Asset, members []domain.TeamMember) TemplateResponse {
	return TemplateResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		PackageRef:  t.PackageRef,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		Assets:      assets,
		TeamMembers: members,
	}
}

func assignmentResponse(res engine.ForkResult, withCounts bool) AssignmentResponse {
	out := AssignmentResponse{
		Assignment:        res.Assignment,
		Tasks:             res.Tasks,
		Settings:          res.Settings,
		Skipped:           res.Skipped,
		PreviousOperation: res.PreviousOperation,
	}
	if res.Template.ID != "" {
		tpl := templateResponse(res.Template, res.Assets, res.TeamMembers)
		out.Template = &tpl
	}
	if withCounts {
		out.Counts = &ForkCountsResponse{
			TasksCreated:        res.Counts.TasksCreated,
			TasksArchived:       res.Counts.TasksArchived,
			AssetsAdded:         res.Counts.AssetsAdded,
			AssetsReplaced:      res.Counts.AssetsReplaced,
			ReplacementsSkipped: res.Counts.ReplacementsSkipped,
			SettingsMigrated:    res.Counts.SettingsMigrated,
		}
	}
	return out
}

func forkOptionsFromRequest(assignmentID, actorID string, req ForkTemplateRequest) engine.ForkOptions {
	opts := engine.ForkOptions{
		AssignmentID:  assignmentID,
		ActorID:       actorID,
		ForceRecreate: req.ForceRecreate,
	}
	if req.CustomTemplateName != nil {
		opts.CustomTemplateName = *req.CustomTemplateName
	}
	if req.IdempotencyKey != nil {
		opts.IdempotencyKey = *req.IdempotencyKey
	}
	for _, a := range req.NewAssets {
		opts.NewAssets = append(opts.NewAssets, engine.AssetAddition{
			Type:                   a.Type,
			Name:                   a.Name,
			CustomName:             a.CustomName,
			URL:                    a.URL,
			Description:            a.Description,
			IsRequired:             a.IsRequired,
			DefaultFrequency:       a.DefaultPostingFrequency,
			DefaultDurationMinutes: a.DefaultIdealDurationMinutes,
		})
	}
	for _, r := range req.Replacements {
		opts.Replacements = append(opts.Replacements, engine.AssetReplacement{
			OldAssetID:             r.OldAssetID,
			NewName:                r.NewAssetName,
			NewType:                r.NewAssetType,
			NewURL:                 r.NewAssetURL,
			NewDescription:         r.NewAssetDescription,
			IsRequired:             r.IsRequired,
			DefaultFrequency:       r.DefaultPostingFrequency,
			DefaultDurationMinutes: r.DefaultIdealDurationMinutes,
		})
	}
	return opts
}

func assetFromRequest(a AssetRequest) domain.Asset {
	return domain.Asset{
		Type:                   a.Type,
		Name:                   a.Name,
		URL:                    a.URL,
		Description:            a.Description,
		IsRequired:             a.IsRequired,
		DefaultFrequency:       a.DefaultFrequency,
		DefaultDurationMinutes: a.DefaultDurationMinutes,
	}
}

func memberFromRequest(m TeamMemberRequest) domain.TeamMember {
	return domain.TeamMember{
		AgentRef:     m.AgentRef,
		Role:         m.Role,
		TeamRef:      m.TeamRef,
		AssignedDate: m.AssignedDate,
	}
}
