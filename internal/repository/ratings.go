package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/institution-ratings/internal/domain"
)

// RatingsRepository is the append-only ledger of criterion ratings.
type RatingsRepository struct {
	pool *pgxpool.Pool
}

// BallotInsertParams captures one vote: its rows are written in the given order
// and only the first one carries the comment.
type BallotInsertParams struct {
	InstitutionID int64
	ClientAddress string
	Comment       *string
	Ratings       []domain.CriterionRating
	// RowLimit, when positive, re-checks the client's row count inside the
	// write transaction under an advisory lock keyed by the client address.
	RowLimit int64
}

// CountByClient returns the number of rating rows written from addr.
func (r *RatingsRepository) CountByClient(ctx context.Context, addr string) (int64, error) {
	const query = `SELECT COUNT(*)::int8 FROM ratings WHERE ip_address = $1`
	var n int64
	if err := r.pool.QueryRow(ctx, query, addr).Scan(&n); err != nil {
		return 0, fmt.Errorf("count client ratings: %w", err)
	}
	return n, nil
}

// CountByInstitution returns the number of rating rows for an institution.
func (r *RatingsRepository) CountByInstitution(ctx context.Context, institutionID int64) (int64, error) {
	const query = `SELECT COUNT(*)::int8 FROM ratings WHERE institution_id = $1`
	var n int64
	if err := r.pool.QueryRow(ctx, query, institutionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count institution ratings: %w", err)
	}
	return n, nil
}

// InsertBallot writes every row of a ballot in one transaction and returns the
// ballot id shared by the rows. Rows share created_at because now() is fixed
// for the duration of the transaction.
func (r *RatingsRepository) InsertBallot(ctx context.Context, params BallotInsertParams) (string, error) {
	if len(params.Ratings) == 0 {
		return "", fmt.Errorf("insert ballot: no ratings")
	}
	ballotID := uuid.NewString()

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if params.RowLimit > 0 {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, params.ClientAddress); err != nil {
				return fmt.Errorf("lock client: %w", err)
			}
			var n int64
			if err := tx.QueryRow(ctx, `SELECT COUNT(*)::int8 FROM ratings WHERE ip_address = $1`, params.ClientAddress).Scan(&n); err != nil {
				return fmt.Errorf("recount client ratings: %w", err)
			}
			if n >= params.RowLimit {
				return ErrLimitReached
			}
		}

		const insert = `
            INSERT INTO ratings (ballot_id, institution_id, criterion_key, rating_value, comment, ip_address)
            VALUES ($1,$2,$3,$4,$5,$6)
        `
		for i, rating := range params.Ratings {
			var comment *string
			if i == 0 {
				comment = params.Comment
			}
			if _, err := tx.Exec(ctx, insert, ballotID, params.InstitutionID, rating.Key, rating.Value, comment, params.ClientAddress); err != nil {
				if isForeignKeyViolation(err) {
					return ErrNotFound
				}
				return fmt.Errorf("insert rating %q: %w", rating.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return ballotID, nil
}

// Aggregate reads the row count, overall mean and per-criterion means for an
// institution from a single snapshot.
func (r *RatingsRepository) Aggregate(ctx context.Context, institutionID int64) (domain.RatingAggregate, error) {
	agg := domain.RatingAggregate{CriteriaMean: make(map[string]float64)}

	txOpts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, r.pool, txOpts, func(tx pgx.Tx) error {
		const global = `
            SELECT COUNT(*)::int8, AVG(rating_value)::float8
            FROM ratings
            WHERE institution_id = $1
        `
		if err := tx.QueryRow(ctx, global, institutionID).Scan(&agg.RowCount, &agg.Mean); err != nil {
			return fmt.Errorf("aggregate ratings: %w", err)
		}

		const detailed = `
            SELECT criterion_key, AVG(rating_value)::float8
            FROM ratings
            WHERE institution_id = $1
            GROUP BY criterion_key
        `
		rows, err := tx.Query(ctx, detailed, institutionID)
		if err != nil {
			return fmt.Errorf("aggregate criteria: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var mean float64
			if err := rows.Scan(&key, &mean); err != nil {
				return err
			}
			agg.CriteriaMean[key] = mean
		}
		return rows.Err()
	})
	if err != nil {
		return domain.RatingAggregate{}, err
	}
	return agg, nil
}

// ListByBallot returns the rows of one ballot ordered by insertion.
func (r *RatingsRepository) ListByBallot(ctx context.Context, ballotID string) ([]domain.Rating, error) {
	const query = `
        SELECT id, ballot_id::text, institution_id, criterion_key, rating_value, comment, ip_address, created_at
        FROM ratings
        WHERE ballot_id = $1
        ORDER BY id
    `
	rows, err := r.pool.Query(ctx, query, ballotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Rating
	for rows.Next() {
		var (
			rating domain.Rating
			value  int16
		)
		if err := rows.Scan(&rating.ID, &rating.BallotID, &rating.InstitutionID, &rating.CriterionKey, &value, &rating.Comment, &rating.ClientAddress, &rating.CreatedAt); err != nil {
			return nil, err
		}
		rating.Value = int(value)
		out = append(out, rating)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}
