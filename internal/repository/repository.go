package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/institution-ratings/internal/store"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrLimitReached is returned by a strict ballot insert when the client
	// already holds the maximum number of rows.
	ErrLimitReached = errors.New("repository: client limit reached")
)

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Institutions *InstitutionsRepository
	Ratings      *RatingsRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		Institutions: &InstitutionsRepository{pool: pool},
		Ratings:      &RatingsRepository{pool: pool},
	}
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
