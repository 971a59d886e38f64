package repo

import (
	"context"
	"database/sql"

	"opsdesk/internal/domain"
)

const taskColumns = `id,assignment_id,asset_id,category_id,title,due_date,status,priority,duration_minutes,notes,created_at,updated_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(assignment_id,asset_id,category_id,title,due_date,status,priority,duration_minutes,notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.AssignmentID, nullableInt64Ptr(t.AssetID), nullableInt64Ptr(t.CategoryID), t.Title, t.DueDate,
		t.Status, t.Priority, nullableIntPtr(t.DurationMinutes), nullableStringPtr(t.Notes), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CancelTasksForAsset archives every non-cancelled task bound to (assignment,
// asset). Cancelled tasks keep their history; nothing is deleted.
func (r Repo) CancelTasksForAsset(ctx context.Context, tx *sql.Tx, assignmentID string, assetID int64, note, updatedAt string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status='cancelled', notes=?, updated_at=? WHERE assignment_id=? AND asset_id=? AND status != 'cancelled'`,
		note, updatedAt, assignmentID, assetID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanTasks(rows *sql.Rows) ([]domain.Task, error) {
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var assetID, categoryID sql.NullInt64
		var duration sql.NullInt64
		var notes sql.NullString
		if err := rows.Scan(&t.ID, &t.AssignmentID, &assetID, &categoryID, &t.Title, &t.DueDate, &t.Status, &t.Priority, &duration, &notes, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if assetID.Valid {
			t.AssetID = &assetID.Int64
		}
		if categoryID.Valid {
			t.CategoryID = &categoryID.Int64
		}
		if duration.Valid {
			v := int(duration.Int64)
			t.DurationMinutes = &v
		}
		if notes.Valid {
			t.Notes = &notes.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

type TaskFilters struct {
	AssignmentID string
	Status       string
	AssetID      int64
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE assignment_id=?`
	args := []any{f.AssignmentID}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	if f.AssetID != 0 {
		query += ` AND asset_id=?`
		args = append(args, f.AssetID)
	}
	query += ` ORDER BY id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx, assignmentID string) ([]domain.Task, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE assignment_id=? ORDER BY id ASC`, assignmentID)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// EnsureCategory find-or-creates a task category by name. The uniqueness
// constraint makes concurrent upserts converge on one row.
func (r Repo) EnsureCategory(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO task_categories(name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return 0, err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM task_categories WHERE name=?`, name).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) ListCategories(ctx context.Context) ([]domain.TaskCategory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM task_categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskCategory
	for rows.Next() {
		var c domain.TaskCategory
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
