package profile

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// ErrDuplicateUID is returned when creating a profile with a badge UID that is already taken.
var ErrDuplicateUID = errors.New("rfid uid already registered")

// Repository persists profiles in Postgres. Embeddings live in a pgvector column.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new profile. The badge UID is stored normalized and is
// immutable afterwards.
func (r *Repository) Create(ctx context.Context, p *Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.RFIDUID = NormalizeUID(p.RFIDUID)
	if p.RFIDUID == "" {
		return errors.New("rfid uid required")
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, rfid_uid, name, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.RFIDUID, p.Name, p.ImageURL, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateUID
		}
		return err
	}
	return nil
}

// GetByUID returns the profile for a normalized badge UID, or nil when unknown.
func (r *Repository) GetByUID(ctx context.Context, uid string) (*Profile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, rfid_uid, name, image_url, embedding, created_at, updated_at
		FROM profiles WHERE rfid_uid = $1
	`, NormalizeUID(uid))
	return scanProfile(row)
}

// GetByID returns a profile by primary key, or nil when unknown.
func (r *Repository) GetByID(ctx context.Context, id string) (*Profile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, rfid_uid, name, image_url, embedding, created_at, updated_at
		FROM profiles WHERE id = $1
	`, id)
	return scanProfile(row)
}

func scanProfile(row *sql.Row) (*Profile, error) {
	var p Profile
	var emb sql.Null[pgvector.Vector]
	err := row.Scan(&p.ID, &p.RFIDUID, &p.Name, &p.ImageURL, &emb, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if emb.Valid {
		p.Embedding = emb.V.Slice()
		p.FaceEnrolled = true
	}
	return &p, nil
}

// List returns all profiles ordered by badge UID. Embeddings are not loaded.
func (r *Repository) List(ctx context.Context) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rfid_uid, name, image_url, embedding IS NOT NULL, created_at, updated_at
		FROM profiles ORDER BY rfid_uid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.RFIDUID, &p.Name, &p.ImageURL, &p.FaceEnrolled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SetEmbedding stores the reference embedding once. The scoped update touches
// only the embedding column and is a no-op when an embedding already exists,
// so the first writer wins and re-enrollment never overwrites.
func (r *Repository) SetEmbedding(ctx context.Context, id string, embedding []float32) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE profiles
		SET embedding = $2, updated_at = NOW()
		WHERE id = $1 AND embedding IS NULL
	`, id, pgvector.NewVector(embedding))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetImageURL updates the stored reference image location.
func (r *Repository) SetImageURL(ctx context.Context, id, imageURL string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE profiles SET image_url = $2, updated_at = NOW() WHERE id = $1
	`, id, imageURL)
	return err
}

// Delete removes a profile by badge UID. Attendance records cascade.
func (r *Repository) Delete(ctx context.Context, uid string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE rfid_uid = $1`, NormalizeUID(uid))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
