package app

import (
	"context"
	"database/sql"
	"fmt"

	"opsdesk/internal/config"
	"opsdesk/internal/db"
	"opsdesk/internal/engine"
	"opsdesk/internal/migrate"
)

// Bootstrap opens the workspace database, applies migrations, loads config and
// seeds the configured role grants. Callers own closing the returned *sql.DB.
func Bootstrap(ctx context.Context, workspace string) (*sql.DB, engine.Engine, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, engine.Engine{}, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	e := engine.New(conn, cfg)
	roles := make(map[string][]string, len(cfg.RBAC.Roles))
	for roleID, role := range cfg.RBAC.Roles {
		roles[roleID] = role.Permissions
	}
	if err := e.Repo.SeedRolePermissions(ctx, roles); err != nil {
		conn.Close()
		return nil, engine.Engine{}, fmt.Errorf("seed roles: %w", err)
	}
	return conn, e, nil
}
