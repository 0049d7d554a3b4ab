package consumers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo читает проекты и бригады, которыми владеет основное приложение.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) ProjectExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, id)
}

func (r *Repo) CrewExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM crews WHERE id = $1)`, id)
}

func (r *Repo) exists(ctx context.Context, q string, id uuid.UUID) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, q, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// GetProject возвращает (nil, nil), если проекта нет.
func (r *Repo) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, created_at FROM projects WHERE id = $1
	`, id)
	var p Project
	if err := row.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repo) GetCrew(ctx context.Context, id uuid.UUID) (*Crew, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, project_id, created_at FROM crews WHERE id = $1
	`, id)
	var c Crew
	if err := row.Scan(&c.ID, &c.Name, &c.ProjectID, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
