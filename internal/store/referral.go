package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"cocowallet-sync/internal/models"
	"cocowallet-sync/internal/referral"
)

// The Store satisfies referral.Store so the referral service can run on
// Postgres in production and on the in-memory store in tests.

func (s *Store) GetOrCreateLink(ctx context.Context, deviceID, code string) (models.ReferralLink, bool, error) {
	var link models.ReferralLink
	err := s.pool.QueryRow(ctx, `
		SELECT code, device_id, clicks, is_active, created_at
		FROM referral_links WHERE device_id = $1
	`, deviceID).Scan(&link.Code, &link.DeviceID, &link.Clicks, &link.IsActive, &link.CreatedAt)
	if err == nil {
		return link, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.ReferralLink{}, false, fmt.Errorf("query link: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO referral_links (code, device_id, clicks, is_active, created_at)
		VALUES ($1, $2, 0, TRUE, NOW())
		ON CONFLICT (device_id) DO UPDATE SET device_id = EXCLUDED.device_id
		RETURNING code, device_id, clicks, is_active, created_at
	`, code, deviceID).Scan(&link.Code, &link.DeviceID, &link.Clicks, &link.IsActive, &link.CreatedAt)
	if err != nil {
		return models.ReferralLink{}, false, fmt.Errorf("create link: %w", err)
	}
	return link, link.Code == code, nil
}

func (s *Store) LinkByCode(ctx context.Context, code string) (models.ReferralLink, error) {
	var link models.ReferralLink
	err := s.pool.QueryRow(ctx, `
		SELECT code, device_id, clicks, is_active, created_at
		FROM referral_links WHERE code = $1 AND is_active
	`, code).Scan(&link.Code, &link.DeviceID, &link.Clicks, &link.IsActive, &link.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReferralLink{}, referral.ErrLinkNotFound
	}
	if err != nil {
		return models.ReferralLink{}, fmt.Errorf("query link by code: %w", err)
	}
	return link, nil
}

func (s *Store) IncrementClicks(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE referral_links SET clicks = clicks + 1 WHERE code = $1
	`, code)
	if err != nil {
		return fmt.Errorf("increment clicks: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return referral.ErrLinkNotFound
	}
	return nil
}

func (s *Store) Relationship(ctx context.Context, referrer, referred string) (models.ReferralRelationship, bool, error) {
	var rel models.ReferralRelationship
	err := s.pool.QueryRow(ctx, `
		SELECT referrer_device_id, referred_device_id, download_completed, wallet_created,
			download_points_awarded, wallet_points_awarded, created_at
		FROM referral_relationships
		WHERE referrer_device_id = $1 AND referred_device_id = $2
	`, referrer, referred).Scan(&rel.ReferrerDeviceID, &rel.ReferredDeviceID, &rel.DownloadCompleted,
		&rel.WalletCreated, &rel.DownloadPointsAwarded, &rel.WalletPointsAwarded, &rel.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReferralRelationship{}, false, nil
	}
	if err != nil {
		return models.ReferralRelationship{}, false, fmt.Errorf("query relationship: %w", err)
	}
	return rel, true, nil
}

func (s *Store) RelationshipByReferred(ctx context.Context, referred string) (models.ReferralRelationship, bool, error) {
	var rel models.ReferralRelationship
	err := s.pool.QueryRow(ctx, `
		SELECT referrer_device_id, referred_device_id, download_completed, wallet_created,
			download_points_awarded, wallet_points_awarded, created_at
		FROM referral_relationships
		WHERE referred_device_id = $1
		ORDER BY created_at
		LIMIT 1
	`, referred).Scan(&rel.ReferrerDeviceID, &rel.ReferredDeviceID, &rel.DownloadCompleted,
		&rel.WalletCreated, &rel.DownloadPointsAwarded, &rel.WalletPointsAwarded, &rel.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReferralRelationship{}, false, nil
	}
	if err != nil {
		return models.ReferralRelationship{}, false, fmt.Errorf("query relationship by referred: %w", err)
	}
	return rel, true, nil
}

func (s *Store) SaveRelationship(ctx context.Context, rel models.ReferralRelationship) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO referral_relationships (referrer_device_id, referred_device_id,
			download_completed, wallet_created, download_points_awarded, wallet_points_awarded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (referrer_device_id, referred_device_id) DO UPDATE SET
			download_completed = EXCLUDED.download_completed,
			wallet_created = EXCLUDED.wallet_created,
			download_points_awarded = EXCLUDED.download_points_awarded,
			wallet_points_awarded = EXCLUDED.wallet_points_awarded
	`, rel.ReferrerDeviceID, rel.ReferredDeviceID, rel.DownloadCompleted, rel.WalletCreated,
		rel.DownloadPointsAwarded, rel.WalletPointsAwarded)
	if err != nil {
		return fmt.Errorf("save relationship: %w", err)
	}
	return nil
}

// AddPoints appends a ledger entry and bumps the running balance in one
// transaction.
func (s *Store) AddPoints(ctx context.Context, entry models.PointsEntry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	_, err = tx.Exec(ctx, `
		INSERT INTO points_history (device_id, points, action_type, description, related_device_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, entry.DeviceID, entry.Points, entry.ActionType, entry.Description, entry.RelatedDeviceID)
	if err != nil {
		return fmt.Errorf("insert points history: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_points (device_id, total_points, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (device_id) DO UPDATE SET
			total_points = user_points.total_points + EXCLUDED.total_points,
			updated_at = NOW()
	`, entry.DeviceID, entry.Points)
	if err != nil {
		return fmt.Errorf("update points balance: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) Points(ctx context.Context, deviceID string) (models.UserPoints, error) {
	var p models.UserPoints
	err := s.pool.QueryRow(ctx, `
		SELECT device_id, total_points, updated_at FROM user_points WHERE device_id = $1
	`, deviceID).Scan(&p.DeviceID, &p.TotalPoints, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserPoints{DeviceID: deviceID}, nil
	}
	if err != nil {
		return models.UserPoints{}, fmt.Errorf("query points: %w", err)
	}
	return p, nil
}

func (s *Store) PointsHistory(ctx context.Context, deviceID string, offset, limit int) ([]models.PointsEntry, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM points_history WHERE device_id = $1
	`, deviceID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count points history: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT device_id, points, action_type, description, related_device_id, created_at
		FROM points_history
		WHERE device_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3
	`, deviceID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query points history: %w", err)
	}
	defer rows.Close()

	var entries []models.PointsEntry
	for rows.Next() {
		var e models.PointsEntry
		if err := rows.Scan(&e.DeviceID, &e.Points, &e.ActionType, &e.Description, &e.RelatedDeviceID, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan points entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func (s *Store) PointsByAction(ctx context.Context, deviceID, action string) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(points), 0) FROM points_history
		WHERE device_id = $1 AND action_type = $2
	`, deviceID, action).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum points by action: %w", err)
	}
	return sum, nil
}

func (s *Store) Referrals(ctx context.Context, referrer string, offset, limit int) ([]models.ReferralRelationship, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM referral_relationships WHERE referrer_device_id = $1
	`, referrer).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count referrals: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT referrer_device_id, referred_device_id, download_completed, wallet_created,
			download_points_awarded, wallet_points_awarded, created_at
		FROM referral_relationships
		WHERE referrer_device_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3
	`, referrer, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query referrals: %w", err)
	}
	defer rows.Close()

	var rels []models.ReferralRelationship
	for rows.Next() {
		var rel models.ReferralRelationship
		if err := rows.Scan(&rel.ReferrerDeviceID, &rel.ReferredDeviceID, &rel.DownloadCompleted,
			&rel.WalletCreated, &rel.DownloadPointsAwarded, &rel.WalletPointsAwarded, &rel.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan referral: %w", err)
		}
		rels = append(rels, rel)
	}
	return rels, total, rows.Err()
}

func (s *Store) ReferralCounts(ctx context.Context, referrer string) (int, int, error) {
	var total, completed int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE wallet_created)
		FROM referral_relationships WHERE referrer_device_id = $1
	`, referrer).Scan(&total, &completed)
	if err != nil {
		return 0, 0, fmt.Errorf("count referrals: %w", err)
	}
	return total, completed, nil
}
