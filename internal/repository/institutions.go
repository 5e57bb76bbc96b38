package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/institution-ratings/internal/domain"
)

// InstitutionsRepository provides persistence helpers for institutions.
type InstitutionsRepository struct {
	pool *pgxpool.Pool
}

// InstitutionCreateParams bundles the fields required to register an institution.
type InstitutionCreateParams struct {
	Name  string
	Type  string
	Email string
}

const institutionColumns = `id, name, type, email, created_at`

// Create inserts a new institution row and returns the stored entity.
func (r *InstitutionsRepository) Create(ctx context.Context, params InstitutionCreateParams) (domain.Institution, error) {
	const query = `
        INSERT INTO institutions (name, type, email)
        VALUES ($1,$2,$3)
        RETURNING ` + institutionColumns

	return scanInstitution(r.pool.QueryRow(ctx, query, params.Name, params.Type, params.Email))
}

// GetByID fetches an institution by its identifier.
func (r *InstitutionsRepository) GetByID(ctx context.Context, id int64) (domain.Institution, error) {
	const query = `SELECT ` + institutionColumns + ` FROM institutions WHERE id = $1`
	inst, err := scanInstitution(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Institution{}, ErrNotFound
		}
		return domain.Institution{}, err
	}
	return inst, nil
}

func scanInstitution(row pgx.Row) (domain.Institution, error) {
	var inst domain.Institution
	err := row.Scan(&inst.ID, &inst.Name, &inst.Type, &inst.Email, &inst.CreatedAt)
	if err != nil {
		return domain.Institution{}, err
	}
	return inst, nil
}
