package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SyncStarted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "wallet_sync_started_total", Help: "Sync jobs started"})
	SyncSucceeded     = prometheus.NewCounter(prometheus.CounterOpts{Name: "wallet_sync_succeeded_total", Help: "Sync jobs completed successfully"})
	SyncFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "wallet_sync_failed_total", Help: "Sync jobs that ended in error"})
	SyncRejected      = prometheus.NewCounter(prometheus.CounterOpts{Name: "wallet_sync_rejected_total", Help: "Sync starts rejected because the job was already running"})
	ReferralClicks    = prometheus.NewCounter(prometheus.CounterOpts{Name: "wallet_referral_clicks_total", Help: "Referral link clicks recorded"})
	ReferralDownloads = prometheus.NewCounter(prometheus.CounterOpts{Name: "wallet_referral_downloads_total", Help: "Referral downloads recorded"})
	WalletCreations   = prometheus.NewCounter(prometheus.CounterOpts{Name: "wallet_referral_wallets_total", Help: "Referred wallet creations recorded"})
	DownloadRedirects = prometheus.NewCounter(prometheus.CounterOpts{Name: "wallet_download_redirects_total", Help: "Store redirects served by the download endpoint"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "wallet_rate_limit_rejects_total", Help: "Requests rejected by the rate limiter"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SyncStarted,
			SyncSucceeded,
			SyncFailed,
			SyncRejected,
			ReferralClicks,
			ReferralDownloads,
			WalletCreations,
			DownloadRedirects,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
