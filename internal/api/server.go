package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"cocowallet-sync/internal/config"
	"cocowallet-sync/internal/ratelimit"
	"cocowallet-sync/internal/referral"
	"cocowallet-sync/internal/runner"
	"cocowallet-sync/internal/status"
	"cocowallet-sync/internal/telemetry"
)

// Server wires the HTTP handlers for the admin sync and referral APIs.
type Server struct {
	cfg       config.Config
	runner    *runner.Runner
	statuses  *status.Store
	referrals *referral.Service
	limiter   *ratelimit.Limiter
	log       zerolog.Logger
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, rn *runner.Runner, statuses *status.Store, refs *referral.Service, limiter *ratelimit.Limiter, log zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		runner:    rn,
		statuses:  statuses,
		referrals: refs,
		limiter:   limiter,
		log:       log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/admin/{resource}/sync/", s.handleSyncStart)
	r.Get("/admin/{resource}/sync-status/", s.handleSyncStatus)

	r.Route("/api/referral", func(r chi.Router) {
		r.Get("/link", s.handleLink)
		r.Get("/click", s.rateLimited(s.handleClick))
		r.Post("/download", s.rateLimited(s.handleDownload))
		r.Post("/wallet-created", s.rateLimited(s.handleWalletCreated))
		r.Get("/points", s.handlePoints)
		r.Get("/points/history", s.handlePointsHistory)
		r.Get("/referrals", s.handleReferrals)
		r.Get("/stats", s.handleStats)
	})

	r.Get("/download", s.handleDownloadRedirect)
	return r
}

func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	if !s.runner.Has(resource) {
		errorJSON(w, http.StatusNotFound, "unknown sync resource")
		return
	}

	started, err := s.runner.Start(resource)
	if err != nil {
		errorJSON(w, http.StatusNotFound, err.Error())
		return
	}
	if !started {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "already_running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	if !s.runner.Has(resource) {
		errorJSON(w, http.StatusNotFound, "unknown sync resource")
		return
	}

	snap, err := s.statuses.Get(r.Context(), resource)
	if err != nil {
		s.log.Error().Str("resource", resource).Err(err).Msg("read sync status")
		errorJSON(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.referrals.Link(r.Context(), r.URL.Query().Get("device_id"))
	if err != nil {
		s.referralError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	if err := s.referrals.TrackClick(r.Context(), r.URL.Query().Get("code")); err != nil {
		s.referralError(w, err)
		return
	}
	telemetry.ReferralClicks.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type downloadRequest struct {
	ReferrerCode string `json:"referrer_code"`
	DeviceID     string `json:"device_id"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.referrals.RecordDownload(r.Context(), req.ReferrerCode, req.DeviceID); err != nil {
		s.referralError(w, err)
		return
	}
	telemetry.ReferralDownloads.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type walletCreatedRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleWalletCreated(w http.ResponseWriter, r *http.Request) {
	var req walletCreatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid json")
		return
	}
	awarded, err := s.referrals.RecordWalletCreation(r.Context(), req.DeviceID)
	if err != nil {
		s.referralError(w, err)
		return
	}
	if awarded {
		telemetry.WalletCreations.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "points_awarded": awarded})
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	points, err := s.referrals.Points(r.Context(), r.URL.Query().Get("device_id"))
	if err != nil {
		s.referralError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handlePointsHistory(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	entries, total, err := s.referrals.PointsHistory(r.Context(), r.URL.Query().Get("device_id"), page, pageSize)
	if err != nil {
		s.referralError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": emptyIfNil(entries),
		"total": total,
		"page":  page,
	})
}

func (s *Server) handleReferrals(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	rels, total, err := s.referrals.Referrals(r.Context(), r.URL.Query().Get("device_id"), page, pageSize)
	if err != nil {
		s.referralError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": emptyIfNil(rels),
		"total": total,
		"page":  page,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.referrals.Stats(r.Context(), r.URL.Query().Get("device_id"))
	if err != nil {
		s.referralError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleDownloadRedirect captures an optional referral click and sends the
// visitor to the store matching their device, or a JSON landing payload when
// the user agent is neither iOS nor Android.
func (s *Server) handleDownloadRedirect(w http.ResponseWriter, r *http.Request) {
	if code := r.URL.Query().Get("ref"); code != "" {
		if err := s.referrals.TrackClick(r.Context(), code); err != nil {
			s.log.Debug().Str("code", code).Err(err).Msg("download click not tracked")
		} else {
			telemetry.ReferralClicks.Inc()
		}
	}

	ua := strings.ToLower(r.UserAgent())
	switch {
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		telemetry.DownloadRedirects.Inc()
		http.Redirect(w, r, s.cfg.AppStoreURL, http.StatusFound)
	case strings.Contains(ua, "android"):
		telemetry.DownloadRedirects.Inc()
		http.Redirect(w, r, s.cfg.PlayStoreURL, http.StatusFound)
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"app_store":  s.cfg.AppStoreURL,
			"play_store": s.cfg.PlayStoreURL,
		})
	}
}

// rateLimited wraps a handler with the per-client token bucket.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			allowed, _, err := s.limiter.Allow(r.Context(), "referral:"+clientIP(r))
			if err != nil {
				s.log.Error().Err(err).Msg("rate limit check")
				errorJSON(w, http.StatusInternalServerError, "rate limit error")
				return
			}
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				errorJSON(w, http.StatusTooManyRequests, "too many requests")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) referralError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, referral.ErrMissingParam), errors.Is(err, referral.ErrSelfReferral):
		errorJSON(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, referral.ErrLinkNotFound):
		errorJSON(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error().Err(err).Msg("referral request failed")
		errorJSON(w, http.StatusInternalServerError, "internal error")
	}
}

func clientIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return strings.TrimSpace(strings.Split(v, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func pageParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	return page, pageSize
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorJSON(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"status": "error", "message": message})
}
