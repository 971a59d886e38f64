package repo

import (
	"context"
	"database/sql"
	"errors"

	"opsdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (r Repo) InsertClient(ctx context.Context, c domain.Client) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO clients(id,name,status,created_at) VALUES (?,?,?,?)`,
		c.ID, c.Name, c.Status, c.CreatedAt)
	return err
}

func (r Repo) GetClient(ctx context.Context, id string) (domain.Client, error) {
	var c domain.Client
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at FROM clients WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertTemplate(ctx context.Context, t domain.Template) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO templates(id,name,description,package_ref,status,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.Name, nullable(t.Description), nullable(t.PackageRef), t.Status, t.CreatedAt)
	return err
}

func (r Repo) InsertTemplateTx(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO templates(id,name,description,package_ref,status,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.Name, nullable(t.Description), nullable(t.PackageRef), t.Status, t.CreatedAt)
	return err
}

func scanTemplate(row *sql.Row) (domain.Template, error) {
	var t domain.Template
	var desc, pkg sql.NullString
	err := row.Scan(&t.ID, &t.Name, &desc, &pkg, &t.Status, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if desc.Valid {
		t.Description = desc.String
	}
	if pkg.Valid {
		t.PackageRef = pkg.String
	}
	return t, err
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	return scanTemplate(r.DB.QueryRowContext(ctx, `SELECT id,name,description,package_ref,status,created_at FROM templates WHERE id=?`, id))
}

func (r Repo) GetTemplateTx(ctx context.Context, tx *sql.Tx, id string) (domain.Template, error) {
	return scanTemplate(tx.QueryRowContext(ctx, `SELECT id,name,description,package_ref,status,created_at FROM templates WHERE id=?`, id))
}

func (r Repo) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,description,package_ref,status,created_at FROM templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		var t domain.Template
		var desc, pkg sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &desc, &pkg, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			t.Description = desc.String
		}
		if pkg.Valid {
			t.PackageRef = pkg.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) TemplateNameExistsTx(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM templates WHERE name=? LIMIT 1`, name).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertAsset(ctx context.Context, tx *sql.Tx, a domain.Asset) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO assets(template_id,type,name,url,description,is_required,default_frequency,default_duration_minutes) VALUES (?,?,?,?,?,?,?,?)`,
		a.TemplateID, a.Type, a.Name, nullableStringPtr(a.URL), nullableStringPtr(a.Description),
		boolToInt(a.IsRequired), nullableIntPtr(a.DefaultFrequency), nullableIntPtr(a.DefaultDurationMinutes))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateAsset(ctx context.Context, tx *sql.Tx, a domain.Asset) error {
	res, err := tx.ExecContext(ctx, `UPDATE assets SET type=?, name=?, url=?, description=?, is_required=?, default_frequency=?, default_duration_minutes=? WHERE id=?`,
		a.Type, a.Name, nullableStringPtr(a.URL), nullableStringPtr(a.Description),
		boolToInt(a.IsRequired), nullableIntPtr(a.DefaultFrequency), nullableIntPtr(a.DefaultDurationMinutes), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAssets(rows *sql.Rows) ([]domain.Asset, error) {
	defer rows.Close()
	var res []domain.Asset
	for rows.Next() {
		var a domain.Asset
		var url, desc sql.NullString
		var isRequired int
		var freq, dur sql.NullInt64
		if err := rows.Scan(&a.ID, &a.TemplateID, &a.Type, &a.Name, &url, &desc, &isRequired, &freq, &dur); err != nil {
			return nil, err
		}
		if url.Valid {
			a.URL = &url.String
		}
		if desc.Valid {
			a.Description = &desc.String
		}
		a.IsRequired = isRequired != 0
		if freq.Valid {
			v := int(freq.Int64)
			a.DefaultFrequency = &v
		}
		if dur.Valid {
			v := int(dur.Int64)
			a.DefaultDurationMinutes = &v
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

const assetColumns = `id,template_id,type,name,url,description,is_required,default_frequency,default_duration_minutes`

func (r Repo) ListAssets(ctx context.Context, templateID string) ([]domain.Asset, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE template_id=? ORDER BY id ASC`, templateID)
	if err != nil {
		return nil, err
	}
	return scanAssets(rows)
}

func (r Repo) ListAssetsTx(ctx context.Context, tx *sql.Tx, templateID string) ([]domain.Asset, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE template_id=? ORDER BY id ASC`, templateID)
	if err != nil {
		return nil, err
	}
	return scanAssets(rows)
}

func (r Repo) GetAssetTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Asset, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id=?`, id)
	if err != nil {
		return domain.Asset{}, err
	}
	assets, err := scanAssets(rows)
	if err != nil {
		return domain.Asset{}, err
	}
	if len(assets) == 0 {
		return domain.Asset{}, ErrNotFound
	}
	return assets[0], nil
}

func (r Repo) InsertTeamMember(ctx context.Context, tx *sql.Tx, m domain.TeamMember) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO team_members(template_id,agent_ref,role,team_ref,assigned_date) VALUES (?,?,?,?,?)`,
		m.TemplateID, m.AgentRef, nullableStringPtr(m.Role), nullableStringPtr(m.TeamRef), nullableStringPtr(m.AssignedDate))
	return err
}

func scanTeamMembers(rows *sql.Rows) ([]domain.TeamMember, error) {
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		var m domain.TeamMember
		var role, team, date sql.NullString
		if err := rows.Scan(&m.TemplateID, &m.AgentRef, &role, &team, &date); err != nil {
			return nil, err
		}
		if role.Valid {
			m.Role = &role.String
		}
		if team.Valid {
			m.TeamRef = &team.String
		}
		if date.Valid {
			m.AssignedDate = &date.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) ListTeamMembers(ctx context.Context, templateID string) ([]domain.TeamMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT template_id,agent_ref,role,team_ref,assigned_date FROM team_members WHERE template_id=? ORDER BY agent_ref ASC`, templateID)
	if err != nil {
		return nil, err
	}
	return scanTeamMembers(rows)
}

func (r Repo) ListTeamMembersTx(ctx context.Context, tx *sql.Tx, templateID string) ([]domain.TeamMember, error) {
	rows, err := tx.QueryContext(ctx, `SELECT template_id,agent_ref,role,team_ref,assigned_date FROM team_members WHERE template_id=? ORDER BY agent_ref ASC`, templateID)
	if err != nil {
		return nil, err
	}
	return scanTeamMembers(rows)
}
