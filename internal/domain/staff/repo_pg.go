package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// -- Staff PG --

type staffRepoPG struct{ pool *pgxpool.Pool }

func NewStaffRepoPG(pool *pgxpool.Pool) StaffRepository { return &staffRepoPG{pool: pool} }

const staffCols = `id, name, role, phone, is_active, created_at, updated_at`

func (r *staffRepoPG) scanStaff(row pgx.Row) (*Staff, error) {
	var s Staff
	err := row.Scan(&s.ID, &s.Name, &s.Role, &s.Phone, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &s, err
}

func (r *staffRepoPG) Create(ctx context.Context, s *Staff) error {
	s.ID = uuid.New()
	return r.pool.QueryRow(ctx, `
		INSERT INTO staff (id, name, role, phone, is_active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		s.ID, s.Name, s.Role, s.Phone, s.IsActive).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *staffRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return r.scanStaff(r.pool.QueryRow(ctx, `SELECT `+staffCols+` FROM staff WHERE id = $1`, id))
}

func (r *staffRepoPG) Update(ctx context.Context, s *Staff) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE staff SET name=$2, role=$3, phone=$4, is_active=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		s.ID, s.Name, s.Role, s.Phone, s.IsActive).Scan(&s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *staffRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM staff WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *staffRepoPG) List(ctx context.Context, f StaffFilter, limit, offset int) ([]*Staff, int, error) {
	var conds []string
	var args []interface{}
	if f.Role != "" {
		args = append(args, f.Role)
		conds = append(conds, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "is_active")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM staff`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT `+staffCols+` FROM staff%s ORDER BY name, id LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Staff
	for rows.Next() {
		s, err := r.scanStaff(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// -- ShiftAssignment PG --

type shiftRepoPG struct{ pool *pgxpool.Pool }

func NewShiftRepoPG(pool *pgxpool.Pool) ShiftRepository { return &shiftRepoPG{pool: pool} }

const shiftCols = `id, to_char(shift_date, 'YYYY-MM-DD'), shift, staff_id, staff_name, role, created_at`

func (r *shiftRepoPG) scanShift(row pgx.Row) (*ShiftAssignment, error) {
	var a ShiftAssignment
	err := row.Scan(&a.ID, &a.Date, &a.Shift, &a.StaffID, &a.StaffName, &a.Role, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrShiftNotFound
	}
	return &a, err
}

func (r *shiftRepoPG) Create(ctx context.Context, a *ShiftAssignment) error {
	a.ID = uuid.New()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO shift_assignments (id, shift_date, shift, staff_id, staff_name, role)
		VALUES ($1,$2::date,$3,$4,$5,$6)
		RETURNING created_at`,
		a.ID, a.Date, a.Shift, a.StaffID, a.StaffName, a.Role).Scan(&a.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateShift
	}
	return err
}

func (r *shiftRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ShiftAssignment, error) {
	return r.scanShift(r.pool.QueryRow(ctx, `SELECT `+shiftCols+` FROM shift_assignments WHERE id = $1`, id))
}

func (r *shiftRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM shift_assignments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrShiftNotFound
	}
	return nil
}

func (r *shiftRepoPG) List(ctx context.Context, f ShiftFilter, limit, offset int) ([]*ShiftAssignment, int, error) {
	var conds []string
	var args []interface{}
	if f.Date != "" {
		args = append(args, f.Date)
		conds = append(conds, fmt.Sprintf("shift_date = $%d::date", len(args)))
	}
	if f.Shift != "" {
		args = append(args, f.Shift)
		conds = append(conds, fmt.Sprintf("shift = $%d", len(args)))
	}
	if f.StaffID != nil {
		args = append(args, *f.StaffID)
		conds = append(conds, fmt.Sprintf("staff_id = $%d", len(args)))
	}
	if f.Role != "" {
		args = append(args, f.Role)
		conds = append(conds, fmt.Sprintf("role = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM shift_assignments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT `+shiftCols+` FROM shift_assignments%s ORDER BY shift_date, shift, staff_name LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ShiftAssignment
	for rows.Next() {
		a, err := r.scanShift(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
