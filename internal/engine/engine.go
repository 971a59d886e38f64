package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"opsdesk/internal/audit"
	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine/auth"
	"opsdesk/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
	Log    *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logf(format string, args ...any) {
	logger := e.Log
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf(format, args...)
}

// CreateClient registers a client and audits the creation.
func (e Engine) CreateClient(ctx context.Context, name, actorID string) (domain.Client, error) {
	if name == "" {
		return domain.Client{}, errors.New("name is required")
	}
	c := domain.Client{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    "active",
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Client{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO clients(id,name,status,created_at) VALUES (?,?,?,?)`,
		c.ID, c.Name, c.Status, c.CreatedAt); err != nil {
		return domain.Client{}, fmt.Errorf("insert client: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, "client", c.ID, "client.created", actorID, "", audit.Details{"name": c.Name}); err != nil {
		return domain.Client{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

// TemplateCreateOptions describe a new shared template with its asset list and
// team roster.
type TemplateCreateOptions struct {
	Name        string
	Description string
	PackageRef  string
	Assets      []domain.Asset
	TeamMembers []domain.TeamMember
	ActorID     string
}

func (e Engine) CreateTemplate(ctx context.Context, opts TemplateCreateOptions) (domain.Template, []domain.Asset, error) {
	if opts.Name == "" {
		return domain.Template{}, nil, errors.New("name is required")
	}
	t := domain.Template{
		ID:          uuid.New().String(),
		Name:        opts.Name,
		Description: opts.Description,
		PackageRef:  opts.PackageRef,
		Status:      "active",
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTemplateTx(ctx, tx, t); err != nil {
		return domain.Template{}, nil, fmt.Errorf("insert template: %w", err)
	}
	assets := make([]domain.Asset, 0, len(opts.Assets))
	for _, a := range opts.Assets {
		a.TemplateID = t.ID
		id, err := e.Repo.InsertAsset(ctx, tx, a)
		if err != nil {
			return domain.Template{}, nil, fmt.Errorf("insert asset %s: %w", a.Name, err)
		}
		a.ID = id
		assets = append(assets, a)
	}
	for _, m := range opts.TeamMembers {
		m.TemplateID = t.ID
		if err := e.Repo.InsertTeamMember(ctx, tx, m); err != nil {
			return domain.Template{}, nil, fmt.Errorf("insert team member %s: %w", m.AgentRef, err)
		}
	}
	if err := e.Audit.Append(ctx, tx, "template", t.ID, "template.created", opts.ActorID, "", audit.Details{
		"name":   t.Name,
		"assets": len(assets),
	}); err != nil {
		return domain.Template{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, nil, err
	}
	return t, assets, nil
}

// CreateAssignment binds a client to a template, seeds one setting per required
// asset and derives the initial task set from the template's asset list.
func (e Engine) CreateAssignment(ctx context.Context, clientID, templateID, actorID string) (domain.Assignment, error) {
	client, err := e.Repo.GetClient(ctx, clientID)
	if err != nil {
		return domain.Assignment{}, err
	}
	template, err := e.Repo.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.Assignment{}, err
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	a := domain.Assignment{
		ID:         uuid.New().String(),
		ClientID:   client.ID,
		TemplateID: &template.ID,
		CreatedAt:  nowStr,
		UpdatedAt:  nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
		return domain.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	assets, err := e.Repo.ListAssetsTx(ctx, tx, template.ID)
	if err != nil {
		return domain.Assignment{}, err
	}
	categoryIDs := map[string]int64{}
	for _, asset := range assets {
		if asset.IsRequired {
			setting := domain.AssetSetting{
				AssignmentID:         a.ID,
				AssetID:              asset.ID,
				RequiredFrequency:    asset.DefaultFrequency,
				IdealDurationMinutes: asset.DefaultDurationMinutes,
			}
			if _, err := e.Repo.InsertAssetSetting(ctx, tx, setting); err != nil {
				return domain.Assignment{}, fmt.Errorf("seed setting for asset %d: %w", asset.ID, err)
			}
		}
		categoryID, err := e.categoryIDForType(ctx, tx, categoryIDs, asset.Type)
		if err != nil {
			return domain.Assignment{}, err
		}
		task := e.newAssetTask(a.ID, asset, categoryID, now, fmt.Sprintf("Initial task for %s", asset.Name))
		if _, err := e.Repo.InsertTask(ctx, tx, task); err != nil {
			return domain.Assignment{}, fmt.Errorf("derive task for asset %d: %w", asset.ID, err)
		}
	}
	if err := e.Audit.Append(ctx, tx, "assignment", a.ID, "assignment.created", actorID, "", audit.Details{
		"client_id":   client.ID,
		"template_id": template.ID,
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}
