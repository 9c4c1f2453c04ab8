package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/luqmand1/TeacherClockMy/internal/model"
)

// Postgres implements Store on top of Postgres via the pgx stdlib driver.
// Embeddings are stored as JSON arrays.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool with sane defaults and verifies it.
func NewPostgres(connString string) (*Postgres, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Healthy verifies database connectivity.
func (p *Postgres) Healthy(ctx context.Context) bool {
	if p == nil || p.db == nil {
		return false
	}
	return p.db.PingContext(ctx) == nil
}

// Close closes the underlying pool.
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Migrate creates the schema when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS users (
		id          BIGSERIAL PRIMARY KEY,
		username    TEXT UNIQUE NOT NULL,
		password    TEXT NOT NULL,
		role        TEXT NOT NULL,
		name        TEXT NOT NULL,
		email       TEXT NOT NULL,
		department  TEXT NOT NULL DEFAULT '',
		photo_url   TEXT NOT NULL DEFAULT '',
		embedding   TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id          BIGSERIAL PRIMARY KEY,
		user_id     BIGINT NOT NULL,
		name        TEXT NOT NULL,
		date        TEXT NOT NULL,
		clock_in    TIMESTAMPTZ,
		clock_out   TIMESTAMPTZ,
		status      TEXT NOT NULL,
		remark      TEXT NOT NULL DEFAULT '',
		UNIQUE (user_id, date)
	);

	CREATE TABLE IF NOT EXISTS announcements (
		id          BIGSERIAL PRIMARY KEY,
		title       TEXT NOT NULL,
		content     TEXT NOT NULL,
		date        TEXT NOT NULL,
		priority    TEXT NOT NULL DEFAULT 'normal'
	);

	CREATE INDEX IF NOT EXISTS idx_records_user ON attendance_records(user_id);
	CREATE INDEX IF NOT EXISTS idx_records_date ON attendance_records(date);
	`)
	return err
}

func (p *Postgres) CreateUser(ctx context.Context, u *model.User) error {
	emb, err := marshalEmbedding(u.Embedding)
	if err != nil {
		return err
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password, role, name, email, department, photo_url, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, u.Username, u.Password, u.Role, u.Name, u.Email, u.Department, u.PhotoURL, emb)
	if err := row.Scan(&u.ID); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		return err
	}
	return nil
}

func (p *Postgres) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, username, password, role, name, email, department, photo_url, embedding
		FROM users WHERE id = $1
	`, id))
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, username, password, role, name, email, department, photo_url, embedding
		FROM users WHERE username = $1
	`, username))
}

func (p *Postgres) UpdateUser(ctx context.Context, u model.User) error {
	emb, err := marshalEmbedding(u.Embedding)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET username = $2, password = $3, role = $4, name = $5, email = $6,
		    department = $7, photo_url = $8, embedding = $9
		WHERE id = $1
	`, u.ID, u.Username, u.Password, u.Role, u.Name, u.Email, u.Department, u.PhotoURL, emb)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		return err
	}
	return requireRow(res)
}

func (p *Postgres) DeleteUser(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, username, password, role, name, email, department, photo_url, embedding
		FROM users ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (p *Postgres) CreateRecord(ctx context.Context, r *model.AttendanceRecord) error {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (user_id, name, date, clock_in, clock_out, status, remark)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, r.UserID, r.Name, r.Date, r.ClockIn, r.ClockOut, r.Status, r.Remark)
	if err := row.Scan(&r.ID); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRecord
		}
		return err
	}
	return nil
}

func (p *Postgres) UpdateRecord(ctx context.Context, r model.AttendanceRecord) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET clock_in = $2, clock_out = $3, status = $4, remark = $5
		WHERE id = $1
	`, r.ID, r.ClockIn, r.ClockOut, r.Status, r.Remark)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) LatestRecordForUser(ctx context.Context, userID int64) (*model.AttendanceRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, date, clock_in, clock_out, status, remark
		FROM attendance_records
		WHERE user_id = $1
		ORDER BY date DESC, id DESC
		LIMIT 1
	`, userID)
	var r model.AttendanceRecord
	if err := row.Scan(&r.ID, &r.UserID, &r.Name, &r.Date, &r.ClockIn, &r.ClockOut, &r.Status, &r.Remark); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) ListRecords(ctx context.Context, f RecordFilter) ([]model.AttendanceRecord, error) {
	query := `
		SELECT id, user_id, name, date, clock_in, clock_out, status, remark
		FROM attendance_records
		WHERE ($1 = 0 OR user_id = $1) AND ($2 = '' OR date = $2)
		ORDER BY date DESC, id DESC
	`
	rows, err := p.db.QueryContext(ctx, query, f.UserID, f.Date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AttendanceRecord
	for rows.Next() {
		var r model.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.Date, &r.ClockIn, &r.ClockOut, &r.Status, &r.Remark); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) ListAnnouncements(ctx context.Context) ([]model.Announcement, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, date, priority FROM announcements ORDER BY date DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Announcement
	for rows.Next() {
		var a model.Announcement
		if err := rows.Scan(&a.ID, &a.Title, &a.Content, &a.Date, &a.Priority); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *Postgres) scanUser(row rowScanner) (*model.User, error) {
	u, err := scanUserRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func scanUserRow(row rowScanner) (*model.User, error) {
	var u model.User
	var emb sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Role, &u.Name, &u.Email, &u.Department, &u.PhotoURL, &emb); err != nil {
		return nil, err
	}
	if emb.Valid && emb.String != "" {
		if err := json.Unmarshal([]byte(emb.String), &u.Embedding); err != nil {
			return nil, err
		}
	}
	u.Enrolled = len(u.Embedding) > 0
	return &u, nil
}

func marshalEmbedding(e model.Embedding) (any, error) {
	if len(e) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
