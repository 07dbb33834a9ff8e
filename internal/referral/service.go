package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cocowallet-sync/internal/models"
)

var (
	// ErrLinkNotFound is returned when a referral code does not resolve to
	// an active link.
	ErrLinkNotFound = errors.New("referral link not found")
	// ErrSelfReferral is returned when a device tries to refer itself.
	ErrSelfReferral = errors.New("cannot refer yourself")
	// ErrMissingParam is returned when a required identifier is empty.
	ErrMissingParam = errors.New("missing required parameter")
)

// Store is the persistence surface the referral service needs.
type Store interface {
	GetOrCreateLink(ctx context.Context, deviceID, code string) (models.ReferralLink, bool, error)
	LinkByCode(ctx context.Context, code string) (models.ReferralLink, error)
	IncrementClicks(ctx context.Context, code string) error

	Relationship(ctx context.Context, referrer, referred string) (models.ReferralRelationship, bool, error)
	RelationshipByReferred(ctx context.Context, referred string) (models.ReferralRelationship, bool, error)
	SaveRelationship(ctx context.Context, rel models.ReferralRelationship) error

	AddPoints(ctx context.Context, entry models.PointsEntry) error
	Points(ctx context.Context, deviceID string) (models.UserPoints, error)
	PointsHistory(ctx context.Context, deviceID string, offset, limit int) ([]models.PointsEntry, int, error)
	PointsByAction(ctx context.Context, deviceID, action string) (int64, error)

	Referrals(ctx context.Context, referrer string, offset, limit int) ([]models.ReferralRelationship, int, error)
	ReferralCounts(ctx context.Context, referrer string) (total, completed int, err error)
}

// Service implements the referral program: share links, click tracking,
// and once-only point awards for downloads and wallet creations.
type Service struct {
	store Store
	log   zerolog.Logger
}

// NewService builds a referral service on top of a store.
func NewService(store Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Link returns the device's share link, creating one on first use.
func (s *Service) Link(ctx context.Context, deviceID string) (models.ReferralLink, error) {
	if deviceID == "" {
		return models.ReferralLink{}, fmt.Errorf("%w: device_id", ErrMissingParam)
	}
	link, created, err := s.store.GetOrCreateLink(ctx, deviceID, newCode())
	if err != nil {
		return models.ReferralLink{}, fmt.Errorf("get or create link: %w", err)
	}
	if created {
		s.log.Info().Str("device_id", deviceID).Str("code", link.Code).Msg("referral link created")
	}
	return link, nil
}

// TrackClick records one click against an active link.
func (s *Service) TrackClick(ctx context.Context, code string) error {
	if code == "" {
		return fmt.Errorf("%w: code", ErrMissingParam)
	}
	if _, err := s.store.LinkByCode(ctx, code); err != nil {
		return err
	}
	if err := s.store.IncrementClicks(ctx, code); err != nil {
		return fmt.Errorf("increment clicks: %w", err)
	}
	return nil
}

// RecordDownload marks that the referred device downloaded the app and
// awards the referrer the download points, at most once per pair.
func (s *Service) RecordDownload(ctx context.Context, referrerCode, referredDeviceID string) error {
	if referrerCode == "" || referredDeviceID == "" {
		return fmt.Errorf("%w: referrer_code and device_id", ErrMissingParam)
	}
	link, err := s.store.LinkByCode(ctx, referrerCode)
	if err != nil {
		return err
	}
	if link.DeviceID == referredDeviceID {
		return ErrSelfReferral
	}

	rel, found, err := s.store.Relationship(ctx, link.DeviceID, referredDeviceID)
	if err != nil {
		return fmt.Errorf("load relationship: %w", err)
	}
	if !found {
		rel = models.ReferralRelationship{
			ReferrerDeviceID: link.DeviceID,
			ReferredDeviceID: referredDeviceID,
		}
	}
	rel.DownloadCompleted = true

	if !rel.DownloadPointsAwarded {
		err := s.store.AddPoints(ctx, models.PointsEntry{
			DeviceID:        link.DeviceID,
			Points:          models.DownloadReferralPoints,
			ActionType:      models.ActionDownloadReferral,
			Description:     fmt.Sprintf("device %s downloaded the app through your referral", referredDeviceID),
			RelatedDeviceID: referredDeviceID,
		})
		if err != nil {
			return fmt.Errorf("award download points: %w", err)
		}
		rel.DownloadPointsAwarded = true
	}

	if err := s.store.SaveRelationship(ctx, rel); err != nil {
		return fmt.Errorf("save relationship: %w", err)
	}
	return nil
}

// RecordWalletCreation awards the referrer the wallet-creation points when
// the referred device creates its first wallet. A device without a referral
// relationship is not an error; nothing is awarded.
func (s *Service) RecordWalletCreation(ctx context.Context, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, fmt.Errorf("%w: device_id", ErrMissingParam)
	}
	rel, found, err := s.store.RelationshipByReferred(ctx, deviceID)
	if err != nil {
		return false, fmt.Errorf("load relationship: %w", err)
	}
	if !found || !rel.DownloadCompleted {
		s.log.Debug().Str("device_id", deviceID).Msg("wallet created without referral relationship")
		return false, nil
	}

	rel.WalletCreated = true
	awarded := false
	if !rel.WalletPointsAwarded {
		err := s.store.AddPoints(ctx, models.PointsEntry{
			DeviceID:        rel.ReferrerDeviceID,
			Points:          models.WalletReferralPoints,
			ActionType:      models.ActionWalletReferral,
			Description:     fmt.Sprintf("device %s created a wallet through your referral", deviceID),
			RelatedDeviceID: deviceID,
		})
		if err != nil {
			return false, fmt.Errorf("award wallet points: %w", err)
		}
		rel.WalletPointsAwarded = true
		awarded = true
	}

	if err := s.store.SaveRelationship(ctx, rel); err != nil {
		return false, fmt.Errorf("save relationship: %w", err)
	}
	return awarded, nil
}

// Points returns the device's current balance.
func (s *Service) Points(ctx context.Context, deviceID string) (models.UserPoints, error) {
	if deviceID == "" {
		return models.UserPoints{}, fmt.Errorf("%w: device_id", ErrMissingParam)
	}
	return s.store.Points(ctx, deviceID)
}

// PointsHistory returns one page of the points ledger plus the total count.
func (s *Service) PointsHistory(ctx context.Context, deviceID string, page, pageSize int) ([]models.PointsEntry, int, error) {
	if deviceID == "" {
		return nil, 0, fmt.Errorf("%w: device_id", ErrMissingParam)
	}
	offset, limit := pageBounds(page, pageSize)
	return s.store.PointsHistory(ctx, deviceID, offset, limit)
}

// Referrals returns one page of the device's referral relationships.
func (s *Service) Referrals(ctx context.Context, deviceID string, page, pageSize int) ([]models.ReferralRelationship, int, error) {
	if deviceID == "" {
		return nil, 0, fmt.Errorf("%w: device_id", ErrMissingParam)
	}
	offset, limit := pageBounds(page, pageSize)
	return s.store.Referrals(ctx, deviceID, offset, limit)
}

// Stats aggregates the device's referral standing.
func (s *Service) Stats(ctx context.Context, deviceID string) (models.ReferralStats, error) {
	if deviceID == "" {
		return models.ReferralStats{}, fmt.Errorf("%w: device_id", ErrMissingParam)
	}
	total, completed, err := s.store.ReferralCounts(ctx, deviceID)
	if err != nil {
		return models.ReferralStats{}, fmt.Errorf("referral counts: %w", err)
	}
	points, err := s.store.Points(ctx, deviceID)
	if err != nil {
		return models.ReferralStats{}, fmt.Errorf("points: %w", err)
	}
	downloadPoints, err := s.store.PointsByAction(ctx, deviceID, models.ActionDownloadReferral)
	if err != nil {
		return models.ReferralStats{}, fmt.Errorf("download points: %w", err)
	}
	walletPoints, err := s.store.PointsByAction(ctx, deviceID, models.ActionWalletReferral)
	if err != nil {
		return models.ReferralStats{}, fmt.Errorf("wallet points: %w", err)
	}

	return models.ReferralStats{
		TotalReferrals:     total,
		CompletedReferrals: completed,
		PendingReferrals:   total - completed,
		TotalPoints:        points.TotalPoints,
		DownloadPoints:     downloadPoints,
		WalletPoints:       walletPoints,
	}, nil
}

func pageBounds(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return (page - 1) * pageSize, pageSize
}

// newCode derives a short share code from a UUID.
func newCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
