package repo

import (
	"context"
	"database/sql"

	"vfxhub/internal/domain"
)

const machineColumns = `id, name, status, assigned_to, COALESCE(specs,''), updated_at`

func scanMachine(scan func(dest ...any) error) (domain.Machine, error) {
	var m domain.Machine
	var assigned sql.NullString
	if err := scan(&m.ID, &m.Name, &m.Status, &assigned, &m.Specs, &m.UpdatedAt); err != nil {
		return domain.Machine{}, err
	}
	m.AssignedTo = ptrFromNull(assigned)
	return m, nil
}

func (r Repo) InsertMachine(ctx context.Context, tx *sql.Tx, m domain.Machine) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO machines(id,name,status,assigned_to,specs,updated_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.Name, m.Status, nullableStringPtr(m.AssignedTo), nullable(m.Specs), m.UpdatedAt)
	return err
}

func (r Repo) UpdateMachine(ctx context.Context, tx *sql.Tx, m domain.Machine) error {
	return expectAffected(r.conn(tx).ExecContext(ctx, `UPDATE machines SET name=?, status=?, assigned_to=?, specs=?, updated_at=? WHERE id=?`,
		m.Name, m.Status, nullableStringPtr(m.AssignedTo), nullable(m.Specs), m.UpdatedAt, m.ID))
}

func (r Repo) GetMachine(ctx context.Context, tx *sql.Tx, id string) (domain.Machine, error) {
	m, err := scanMachine(r.conn(tx).QueryRowContext(ctx, `SELECT `+machineColumns+` FROM machines WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return domain.Machine{}, ErrNotFound
	}
	return m, err
}

func (r Repo) ListMachines(ctx context.Context, status string) ([]domain.Machine, error) {
	query := `SELECT ` + machineColumns + ` FROM machines`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY name`
	rows, err := r.conn(nil).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Machine
	for rows.Next() {
		m, err := scanMachine(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
