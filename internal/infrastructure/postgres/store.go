package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/example/tee-scheduler/internal/domain/teetime"
	"github.com/example/tee-scheduler/internal/infrastructure/crypto"
)

var ErrNotFound = errors.New("not found")

// Attempt is one recorded row of the booking attempt history.
type Attempt struct {
	ID               int64     `json:"id"`
	CorrelationID    string    `json:"correlation_id"`
	Attempt          int       `json:"attempt"`
	Success          bool      `json:"success"`
	Slot             string    `json:"slot,omitempty"`
	ConfirmationCode string    `json:"confirmation_code,omitempty"`
	Message          string    `json:"message,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Credentials is a decrypted provider login pair. Username doubles as the
// email for browser-backed platforms.
type Credentials struct {
	Platform  string
	Username  string
	Password  string
	UpdatedAt time.Time
}

// Store persists attempt history and encrypted provider credentials.
type Store struct {
	pool   *pgxpool.Pool
	sealer *crypto.Sealer
}

func NewStore(pool *pgxpool.Pool, sealer *crypto.Sealer) *Store {
	return &Store{pool: pool, sealer: sealer}
}

func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return pool, nil
}

// RecordAttempt satisfies the engine's history collaborator.
func (s *Store) RecordAttempt(ctx context.Context, correlationID string, attempt int, outcome teetime.BookingOutcome) error {
	slot := ""
	if outcome.Slot != nil {
		slot = outcome.Slot.String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attempts (correlation_id, attempt, success, slot, confirmation_code, message, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, correlationID, attempt, outcome.Success, slot, outcome.ConfirmationCode, outcome.Message, outcome.Err)
	return err
}

func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, correlation_id, attempt, success, slot, confirmation_code, message, error, created_at
		FROM attempts ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.CorrelationID, &a.Attempt, &a.Success, &a.Slot, &a.ConfirmationCode, &a.Message, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveCredentials encrypts and upserts one platform's login pair.
func (s *Store) SaveCredentials(ctx context.Context, c Credentials) error {
	userEnc, err := s.sealer.Seal(c.Username)
	if err != nil {
		return err
	}
	passEnc, err := s.sealer.Seal(c.Password)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO provider_credentials (platform, username_enc, password_enc)
		VALUES ($1,$2,$3)
		ON CONFLICT (platform) DO UPDATE
		SET username_enc=$2, password_enc=$3, updated_at=now()
	`, c.Platform, userEnc, passEnc)
	return err
}

func (s *Store) LoadCredentials(ctx context.Context, platform string) (Credentials, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT username_enc, password_enc, updated_at
		FROM provider_credentials WHERE platform=$1
	`, platform)
	var userEnc, passEnc string
	c := Credentials{Platform: platform}
	if err := row.Scan(&userEnc, &passEnc, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, err
	}
	var err error
	if c.Username, err = s.sealer.Open(userEnc); err != nil {
		return Credentials{}, errors.Wrap(err, "decrypt username")
	}
	if c.Password, err = s.sealer.Open(passEnc); err != nil {
		return Credentials{}, errors.Wrap(err, "decrypt password")
	}
	return c, nil
}
