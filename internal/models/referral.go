package models

import "time"

// Points action types recorded in the history ledger.
const (
	ActionDownloadReferral = "DOWNLOAD_REFERRAL"
	ActionWalletReferral   = "WALLET_REFERRAL"
)

// Points awarded per referral action.
const (
	DownloadReferralPoints = 1
	WalletReferralPoints   = 5
)

// ReferralLink maps a short share code to the device that owns it.
type ReferralLink struct {
	Code      string    `json:"code"`
	DeviceID  string    `json:"device_id"`
	Clicks    int64     `json:"clicks"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferralRelationship ties a referred device to its referrer, with
// once-only award flags for each milestone.
type ReferralRelationship struct {
	ReferrerDeviceID      string    `json:"referrer_device_id"`
	ReferredDeviceID      string    `json:"referred_device_id"`
	DownloadCompleted     bool      `json:"download_completed"`
	WalletCreated         bool      `json:"wallet_created"`
	DownloadPointsAwarded bool      `json:"download_points_awarded"`
	WalletPointsAwarded   bool      `json:"wallet_points_awarded"`
	CreatedAt             time.Time `json:"created_at"`
}

// UserPoints is the running balance for one device.
type UserPoints struct {
	DeviceID    string    `json:"device_id"`
	TotalPoints int64     `json:"total_points"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PointsEntry is one row of the points history ledger.
type PointsEntry struct {
	DeviceID        string    `json:"device_id"`
	Points          int64     `json:"points"`
	ActionType      string    `json:"action_type"`
	Description     string    `json:"description"`
	RelatedDeviceID string    `json:"related_device_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ReferralStats aggregates a referrer's standing.
type ReferralStats struct {
	TotalReferrals     int   `json:"total_referrals"`
	CompletedReferrals int   `json:"completed_referrals"`
	PendingReferrals   int   `json:"pending_referrals"`
	TotalPoints        int64 `json:"total_points"`
	DownloadPoints     int64 `json:"download_points"`
	WalletPoints       int64 `json:"wallet_points"`
}
