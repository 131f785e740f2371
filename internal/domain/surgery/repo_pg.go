package surgery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// SQLSTATE codes for which Postgres rolled the transaction back on its own.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

const pgUniqueViolation = "23505"

// =========== Surgery document store ===========

type storePG struct{ pool *pgxpool.Pool }

// NewStorePG stores each surgery as a JSONB document in the surgeries table
// and each live-tracking record in ongoing_surgeries.
func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (r *storePG) Get(ctx context.Context, id string) (*Surgery, error) {
	s, err := getSurgery(ctx, r.pool, id)
	return s, wrapStore("get", err)
}

func (r *storePG) Set(ctx context.Context, s *Surgery) error {
	return wrapStore("set", setSurgery(ctx, r.pool, s))
}

func (r *storePG) UpdateFields(ctx context.Context, id string, f Fields) error {
	return wrapStore("update", updateSurgeryFields(ctx, r.pool, id, f))
}

func (r *storePG) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return wrapStore("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, &pgTx{tx: tx}); err != nil {
		return txError("transaction", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return &StoreError{Op: "commit", Err: fmt.Errorf("%w: %v", ErrTxAborted, err), Retryable: true}
	}
	return nil
}

// txError marks aborts raised by Postgres as retryable. Anything fn
// returned on its own, validation failures included, passes through.
func txError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
		return &StoreError{Op: op, Err: fmt.Errorf("%w: %v", ErrTxAborted, err), Retryable: true}
	}
	return wrapStore(op, err)
}

func (r *storePG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Surgery, int, error) {
	where, args := surgeryFilterSQL(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM surgeries`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapStore("list", err)
	}

	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT data FROM surgeries%s ORDER BY scheduled_at, id LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, wrapStore("list", err)
	}
	defer rows.Close()
	items, err := scanSurgeries(rows)
	if err != nil {
		return nil, 0, wrapStore("list", err)
	}
	return items, total, nil
}

func surgeryFilterSQL(f ListFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(expr string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}
	if f.Status != "" {
		add("data->>'status' = $%d", string(f.Status))
	}
	if f.MRN != "" {
		add("mrn = $%d", f.MRN)
	}
	if f.Room != "" {
		add("data->>'assigned_or' = $%d", f.Room)
	}
	if f.From != nil {
		add("scheduled_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("scheduled_at < $%d", *f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *storePG) FindLatestByMRN(ctx context.Context, mrn string) (*Surgery, error) {
	s, err := scanSurgery(r.pool.QueryRow(ctx,
		`SELECT data FROM surgeries WHERE mrn = $1 ORDER BY scheduled_at DESC LIMIT 1`, mrn))
	return s, wrapStore("find by mrn", err)
}

func (r *storePG) ListOngoing(ctx context.Context) ([]*OngoingSurgery, error) {
	rows, err := r.pool.Query(ctx, `SELECT data FROM ongoing_surgeries ORDER BY start_time`)
	if err != nil {
		return nil, wrapStore("list ongoing", err)
	}
	defer rows.Close()
	var items []*OngoingSurgery
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapStore("list ongoing", err)
		}
		var o OngoingSurgery
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, wrapStore("list ongoing", fmt.Errorf("decode ongoing surgery: %w", err))
		}
		items = append(items, &o)
	}
	return items, wrapStore("list ongoing", rows.Err())
}

// Delete relies on ongoing_surgeries.surgery_id cascading.
func (r *storePG) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM surgeries WHERE id = $1`, id)
	if err != nil {
		return wrapStore("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Get(ctx context.Context, id string) (*Surgery, error) {
	return getSurgery(ctx, t.tx, id, "FOR UPDATE")
}

func (t *pgTx) Set(ctx context.Context, s *Surgery) error {
	return setSurgery(ctx, t.tx, s)
}

func (t *pgTx) UpdateFields(ctx context.Context, id string, f Fields) error {
	return updateSurgeryFields(ctx, t.tx, id, f)
}

func (t *pgTx) GetOngoing(ctx context.Context, surgeryID string) (*OngoingSurgery, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx,
		`SELECT data FROM ongoing_surgeries WHERE surgery_id = $1 FOR UPDATE`, surgeryID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var o OngoingSurgery
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode ongoing surgery: %w", err)
	}
	return &o, nil
}

func (t *pgTx) SetOngoing(ctx context.Context, o *OngoingSurgery) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode ongoing surgery: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO ongoing_surgeries (surgery_id, start_time, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (surgery_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		o.SurgeryID, o.StartTime, data, o.UpdatedAt)
	return err
}

func (t *pgTx) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := t.tx.QueryRow(ctx, `SELECT transaction_timestamp()`).Scan(&now)
	return now, err
}

func getSurgery(ctx context.Context, q queryable, id string, lock ...string) (*Surgery, error) {
	sql := `SELECT data FROM surgeries WHERE id = $1`
	if len(lock) > 0 {
		sql += " " + lock[0]
	}
	return scanSurgery(q.QueryRow(ctx, sql, id))
}

func setSurgery(ctx context.Context, q queryable, s *Surgery) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode surgery: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO surgeries (id, mrn, scheduled_at, data, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET mrn = EXCLUDED.mrn, scheduled_at = EXCLUDED.scheduled_at,
			data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		s.ID, s.MRN, s.ScheduledAt, data, s.UpdatedAt)
	return err
}

func updateSurgeryFields(ctx context.Context, q queryable, id string, f Fields) error {
	patch, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	tag, err := q.Exec(ctx, `
		UPDATE surgeries SET data = data || $2::jsonb,
			mrn = COALESCE((($2::jsonb)->>'mrn'), mrn),
			scheduled_at = COALESCE((($2::jsonb)->>'scheduled_at')::timestamptz, scheduled_at),
			updated_at = NOW()
		WHERE id = $1`, id, patch)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSurgery(row pgx.Row) (*Surgery, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var s Surgery
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode surgery: %w", err)
	}
	return &s, nil
}

func scanSurgeries(rows pgx.Rows) ([]*Surgery, error) {
	var items []*Surgery
	for rows.Next() {
		s, err := scanSurgery(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// =========== OR Room Repository ===========

type orRoomRepoPG struct{ pool *pgxpool.Pool }

func NewORRoomRepoPG(pool *pgxpool.Pool) ORRoomRepository { return &orRoomRepoPG{pool: pool} }

const orRoomCols = `id, name, status, is_active, note, created_at, updated_at`

func (r *orRoomRepoPG) scanORRoom(row pgx.Row) (*ORRoom, error) {
	var o ORRoom
	err := row.Scan(&o.ID, &o.Name, &o.Status, &o.IsActive, &o.Note, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	return &o, err
}

// roomNameTaken maps the case-insensitive unique index on or_room.name.
func roomNameTaken(err error, name string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %q", ErrDuplicateRoom, name)
	}
	return err
}

func (r *orRoomRepoPG) Create(ctx context.Context, o *ORRoom) error {
	o.ID = uuid.New()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO or_room (id, name, status, is_active, note)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		o.ID, o.Name, o.Status, o.IsActive, o.Note).Scan(&o.CreatedAt, &o.UpdatedAt)
	return roomNameTaken(err, o.Name)
}

func (r *orRoomRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ORRoom, error) {
	return r.scanORRoom(r.pool.QueryRow(ctx, `SELECT `+orRoomCols+` FROM or_room WHERE id = $1`, id))
}

func (r *orRoomRepoPG) GetByName(ctx context.Context, name string) (*ORRoom, error) {
	return r.scanORRoom(r.pool.QueryRow(ctx, `SELECT `+orRoomCols+` FROM or_room WHERE lower(name) = lower($1)`, name))
}

func (r *orRoomRepoPG) Update(ctx context.Context, o *ORRoom) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE or_room SET name=$2, status=$3, is_active=$4, note=$5, updated_at=NOW()
		WHERE id = $1`,
		o.ID, o.Name, o.Status, o.IsActive, o.Note)
	if err != nil {
		return roomNameTaken(err, o.Name)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *orRoomRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM or_room WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *orRoomRepoPG) List(ctx context.Context, limit, offset int) ([]*ORRoom, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM or_room`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+orRoomCols+` FROM or_room ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ORRoom
	for rows.Next() {
		o, err := r.scanORRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, nil
}
