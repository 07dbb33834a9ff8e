package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"cocowallet-sync/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertToken inserts or refreshes a token row. It reports whether the row
// was newly created.
func (s *Store) UpsertToken(ctx context.Context, t models.Token) (bool, error) {
	// xmax = 0 distinguishes a fresh insert from a conflict update.
	var created bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tokens (chain, address, name, symbol, decimals, logo_uri, is_native, is_verified, is_visible, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (chain, address) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals,
			logo_uri = EXCLUDED.logo_uri,
			is_native = EXCLUDED.is_native,
			is_verified = EXCLUDED.is_verified,
			is_visible = EXCLUDED.is_visible,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`, t.Chain, t.Address, t.Name, t.Symbol, t.Decimals, t.LogoURI, t.IsNative, t.IsVerified, t.IsVisible).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert token %s: %w", t.Address, err)
	}
	return created, nil
}

// UpsertIndexEntry inserts or refreshes one graded index row. The returned
// flag is true for a fresh insert.
func (s *Store) UpsertIndexEntry(ctx context.Context, e models.TokenIndexEntry) (bool, error) {
	var created bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO token_index (chain, address, name, symbol, decimals, is_native, is_verified,
			daily_volume, holder_count, liquidity, market_cap, price, grade, score, grade_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		ON CONFLICT (chain, address) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals,
			is_native = EXCLUDED.is_native,
			is_verified = EXCLUDED.is_verified,
			daily_volume = EXCLUDED.daily_volume,
			holder_count = EXCLUDED.holder_count,
			liquidity = EXCLUDED.liquidity,
			market_cap = EXCLUDED.market_cap,
			price = EXCLUDED.price,
			grade = EXCLUDED.grade,
			score = EXCLUDED.score,
			grade_reason = EXCLUDED.grade_reason,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`, e.Chain, e.Address, e.Name, e.Symbol, e.Decimals, e.IsNative, e.IsVerified,
		e.Metrics.DailyVolume, e.Metrics.HolderCount, e.Metrics.Liquidity, e.Metrics.MarketCap, e.Metrics.Price,
		e.Grade, e.Score, e.GradeReason).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert index entry %s: %w", e.Address, err)
	}
	return created, nil
}

// InsertIndexReport records the summary of one index sync run.
func (s *Store) InsertIndexReport(ctx context.Context, r models.IndexReport) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_index_reports (total_tokens, grade_a_count, grade_b_count, grade_c_count,
			new_tokens, updated_tokens, failed, skipped, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, r.TotalTokens, r.GradeA, r.GradeB, r.GradeC, r.Created, r.Updated, r.Failed, r.Skipped)
	if err != nil {
		return fmt.Errorf("insert index report: %w", err)
	}
	return nil
}

// TokensWithLogos returns visible tokens that have a logo URI, for mirroring.
func (s *Store) TokensWithLogos(ctx context.Context, limit int) ([]models.Token, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain, address, name, symbol, decimals, logo_uri, is_native, is_verified, is_visible, created_at, updated_at
		FROM tokens
		WHERE is_visible AND logo_uri <> ''
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query logo tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		var t models.Token
		if err := rows.Scan(&t.Chain, &t.Address, &t.Name, &t.Symbol, &t.Decimals, &t.LogoURI,
			&t.IsNative, &t.IsVerified, &t.IsVisible, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
