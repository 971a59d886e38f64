package repo

import (
	"context"
	"database/sql"

	"opsdesk/internal/domain"
)

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(id,client_id,template_id,created_at,updated_at) VALUES (?,?,?,?,?)`,
		a.ID, a.ClientID, nullableStringPtr(a.TemplateID), a.CreatedAt, a.UpdatedAt)
	return err
}

func scanAssignment(row *sql.Row) (domain.Assignment, error) {
	var a domain.Assignment
	var templateID sql.NullString
	err := row.Scan(&a.ID, &a.ClientID, &templateID, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if templateID.Valid {
		a.TemplateID = &templateID.String
	}
	return a, err
}

func (r Repo) GetAssignment(ctx context.Context, id string) (domain.Assignment, error) {
	return scanAssignment(r.DB.QueryRowContext(ctx, `SELECT id,client_id,template_id,created_at,updated_at FROM assignments WHERE id=?`, id))
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Assignment, error) {
	return scanAssignment(tx.QueryRowContext(ctx, `SELECT id,client_id,template_id,created_at,updated_at FROM assignments WHERE id=?`, id))
}

// RebindAssignmentTemplate repoints the assignment at a new template. This is
// the statement that makes a fork live.
func (r Repo) RebindAssignmentTemplate(ctx context.Context, tx *sql.Tx, assignmentID, templateID, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE assignments SET template_id=?, updated_at=? WHERE id=?`, templateID, updatedAt, assignmentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertAssetSetting(ctx context.Context, tx *sql.Tx, s domain.AssetSetting) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO asset_settings(assignment_id,asset_id,required_frequency,period,ideal_duration_minutes) VALUES (?,?,?,?,?)`,
		s.AssignmentID, s.AssetID, nullableIntPtr(s.RequiredFrequency), nullableStringPtr(s.Period), nullableIntPtr(s.IdealDurationMinutes))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RekeyAssetSetting moves an existing setting row onto another asset without
// touching its values. Used when an assignment is rebound to a cloned template
// and its settings must follow the clone's asset ids.
func (r Repo) RekeyAssetSetting(ctx context.Context, tx *sql.Tx, settingID, assetID int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE asset_settings SET asset_id=? WHERE id=?`, assetID, settingID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyAssetDefaultsToSetting refreshes the frequency and duration of the
// setting keyed by (assignment, asset) from the asset's defaults. The period
// chosen by the client is left untouched. Updating zero rows is not an error:
// the asset may never have had a setting.
func (r Repo) ApplyAssetDefaultsToSetting(ctx context.Context, tx *sql.Tx, assignmentID string, assetID int64, frequency, durationMinutes *int) error {
	_, err := tx.ExecContext(ctx, `UPDATE asset_settings SET required_frequency=?, ideal_duration_minutes=? WHERE assignment_id=? AND asset_id=?`,
		nullableIntPtr(frequency), nullableIntPtr(durationMinutes), assignmentID, assetID)
	return err
}

func scanAssetSettings(rows *sql.Rows) ([]domain.AssetSetting, error) {
	defer rows.Close()
	var res []domain.AssetSetting
	for rows.Next() {
		var s domain.AssetSetting
		var freq, dur sql.NullInt64
		var period sql.NullString
		if err := rows.Scan(&s.ID, &s.AssignmentID, &s.AssetID, &freq, &period, &dur); err != nil {
			return nil, err
		}
		if freq.Valid {
			v := int(freq.Int64)
			s.RequiredFrequency = &v
		}
		if period.Valid {
			s.Period = &period.String
		}
		if dur.Valid {
			v := int(dur.Int64)
			s.IdealDurationMinutes = &v
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) ListAssetSettings(ctx context.Context, assignmentID string) ([]domain.AssetSetting, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,assignment_id,asset_id,required_frequency,period,ideal_duration_minutes FROM asset_settings WHERE assignment_id=? ORDER BY id ASC`, assignmentID)
	if err != nil {
		return nil, err
	}
	return scanAssetSettings(rows)
}

func (r Repo) ListAssetSettingsTx(ctx context.Context, tx *sql.Tx, assignmentID string) ([]domain.AssetSetting, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,assignment_id,asset_id,required_frequency,period,ideal_duration_minutes FROM asset_settings WHERE assignment_id=? ORDER BY id ASC`, assignmentID)
	if err != nil {
		return nil, err
	}
	return scanAssetSettings(rows)
}
