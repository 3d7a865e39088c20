package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("job not found")

type Store interface {
	List(ctx context.Context) ([]Job, error)
	Get(ctx context.Context, id string) (Job, error)
	Create(ctx context.Context, input JobInput, createdBy string) (Job, error)
	Update(ctx context.Context, id string, input JobInput) (Job, error)
	Delete(ctx context.Context, id string) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const jobColumns = `id, title, company, location, description, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j         Job
		createdBy sql.NullString
	)
	if err := row.Scan(&j.ID, &j.Title, &j.Company, &j.Location, &j.Description, &createdBy, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return Job{}, err
	}
	if createdBy.Valid {
		j.CreatedBy = &createdBy.String
	}
	return j, nil
}

func (r *Repository) List(ctx context.Context) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("select job: %w", err)
	}
	return j, nil
}

func (r *Repository) Create(ctx context.Context, input JobInput, createdBy string) (Job, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Job{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	j := Job{
		ID:          id.String(),
		Title:       input.Title,
		Company:     input.Company,
		Location:    input.Location,
		Description: input.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if createdBy != "" {
		j.CreatedBy = &createdBy
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, title, company, location, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, j.ID, j.Title, j.Company, j.Location, j.Description, j.CreatedBy, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return Job{}, fmt.Errorf("insert job: %w", err)
	}

	return j, nil
}

func (r *Repository) Update(ctx context.Context, id string, input JobInput) (Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET title = $2, company = $3, location = $4, description = $5, updated_at = $6
		WHERE id = $1
		RETURNING `+jobColumns,
		id, input.Title, input.Company, input.Location, input.Description, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("update job: %w", err)
	}
	return j, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
