package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"ocr-service/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // For migrations
}

func NewStorage(dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

func (s *Storage) CreateUser(ctx context.Context, email, hashedPassword string) (*models.User, error) {
	const op = "storage.CreateUser"

	var u models.User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, hashed_password)
		 VALUES ($1, $2)
		 RETURNING id, email, hashed_password, is_active, created_at, updated_at`,
		email, hashedPassword).
		Scan(&u.ID, &u.Email, &u.HashedPassword, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return &u, nil
}

func (s *Storage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.GetUser"

	u, err := s.scanUser(ctx, `WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return u, nil
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"

	u, err := s.scanUser(ctx, `WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return u, nil
}

func (s *Storage) scanUser(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, hashed_password, is_active, created_at, updated_at FROM users `+where,
		arg).
		Scan(&u.ID, &u.Email, &u.HashedPassword, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Storage) GetJobRecord(ctx context.Context, imageID int64) (*models.JobRecord, error) {
	const op = "storage.GetJobRecord"

	var r models.JobRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, image_id, user_id, text, status, error_message, created_at, updated_at
		 FROM image_text WHERE image_id = $1`,
		imageID).
		Scan(&r.ID, &r.ImageID, &r.UserID, &r.Text, &r.Status, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return &r, nil
}

// UpsertJobRecord creates a pending job record for the image, or resets an
// existing one to pending with text and error_message cleared. user_id is
// never changed on conflict; ownership is checked by the caller before the
// reset path is taken.
func (s *Storage) UpsertJobRecord(ctx context.Context, imageID, userID int64) error {
	const op = "storage.UpsertJobRecord"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO image_text (image_id, user_id, status)
		 VALUES ($1, $2, 'pending')
		 ON CONFLICT (image_id) DO UPDATE
		 SET status = 'pending', text = NULL, error_message = NULL, updated_at = now()`,
		imageID, userID)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

// UpdateJobRecord applies a partial update to the record for imageID. It
// always sets a whole new field value, never a partial merge.
func (s *Storage) UpdateJobRecord(ctx context.Context, imageID int64, upd models.JobUpdate) error {
	const op = "storage.UpdateJobRecord"

	set := []string{"updated_at = now()"}
	args := []any{imageID}

	add := func(col string, val any) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Text != nil {
		add("text", *upd.Text)
	} else if upd.ClearText {
		set = append(set, "text = NULL")
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	} else if upd.ClearError {
		set = append(set, "error_message = NULL")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE image_text SET `+strings.Join(set, ", ")+` WHERE image_id = $1`, args...)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) DeleteJobRecord(ctx context.Context, imageID int64) (bool, error) {
	const op = "storage.DeleteJobRecord"

	tag, err := s.pool.Exec(ctx, `DELETE FROM image_text WHERE image_id = $1`, imageID)
	if err != nil {
		return false, fmt.Errorf("%s: %v", op, err)
	}
	return tag.RowsAffected() > 0, nil
}

// FailStaleProcessing marks records stuck in processing longer than maxAge as
// failed. Covers workers killed by the channel's hard deadline before they
// could write a terminal state.
func (s *Storage) FailStaleProcessing(ctx context.Context, maxAge time.Duration) (int64, error) {
	const op = "storage.FailStaleProcessing"

	cutoff := time.Now().Add(-maxAge)
	tag, err := s.pool.Exec(ctx,
		`UPDATE image_text
		 SET status = 'failed', error_message = 'processing deadline exceeded', updated_at = now()
		 WHERE status = 'processing' AND COALESCE(updated_at, created_at) < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", op, err)
	}
	return tag.RowsAffected(), nil
}
