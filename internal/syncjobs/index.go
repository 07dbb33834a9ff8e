package syncjobs

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cocowallet-sync/internal/config"
	"cocowallet-sync/internal/models"
	"cocowallet-sync/internal/runner"
)

// IndexStore persists graded index rows and run reports. UpsertIndexEntry
// reports whether the row was freshly inserted.
type IndexStore interface {
	UpsertIndexEntry(ctx context.Context, e models.TokenIndexEntry) (bool, error)
	InsertIndexReport(ctx context.Context, r models.IndexReport) error
}

// IndexSync refreshes the graded token index from the upstream list and
// metrics endpoints.
type IndexSync struct {
	cfg   config.Config
	store IndexStore
	fetch *fetcher
	log   zerolog.Logger
}

// NewIndexSync builds the token index sync job.
func NewIndexSync(cfg config.Config, store IndexStore, log zerolog.Logger) *IndexSync {
	return &IndexSync{
		cfg:   cfg,
		store: store,
		fetch: newFetcher(cfg.HTTPTimeout, cfg.FetchRetries, cfg.MaxResponseBytes),
		log:   log,
	}
}

type indexStats struct {
	total, processed, created, updated, failed, skipped int
	gradeA, gradeB, gradeC                              int
}

func (st indexStats) message(progress int) string {
	return fmt.Sprintf("processed %d/%d tokens (%d%%), new: %d, updated: %d, A: %d, B: %d, C: %d, failed: %d, skipped: %d",
		st.processed, st.total, progress, st.created, st.updated, st.gradeA, st.gradeB, st.gradeC, st.failed, st.skipped)
}

type metricsResponse struct {
	Data map[string]metricsPayload `json:"data"`
}

type metricsPayload struct {
	Price       float64 `json:"price"`
	Volume24h   float64 `json:"volume24h"`
	HolderCount int     `json:"holderCount"`
	Liquidity   float64 `json:"liquidity"`
	MarketCap   float64 `json:"marketCap"`
}

// Run implements runner.JobFunc.
func (s *IndexSync) Run(ctx context.Context, report runner.ProgressFunc) error {
	report(0, "fetching token list")

	var listed []listedToken
	if err := s.fetch.getJSON(ctx, s.cfg.TokenListURL, &listed); err != nil {
		return fmt.Errorf("fetch token list: %w", err)
	}
	if len(listed) == 0 {
		return fmt.Errorf("token list is empty")
	}

	stats := indexStats{total: len(listed)}
	batchSize := s.cfg.TokenBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	for start := 0; start < len(listed); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + batchSize
		if end > len(listed) {
			end = len(listed)
		}
		s.processBatch(ctx, listed[start:end], &stats)

		progress := end * 100 / stats.total
		report(progress, stats.message(progress))
	}

	if err := s.store.InsertIndexReport(ctx, models.IndexReport{
		TotalTokens: stats.total,
		GradeA:      stats.gradeA,
		GradeB:      stats.gradeB,
		GradeC:      stats.gradeC,
		Created:     stats.created,
		Updated:     stats.updated,
		Failed:      stats.failed,
		Skipped:     stats.skipped,
		RecordedAt:  time.Now().UTC(),
	}); err != nil {
		s.log.Error().Err(err).Msg("insert index report")
	}

	report(100, stats.message(100))
	return nil
}

func (s *IndexSync) processBatch(ctx context.Context, batch []listedToken, stats *indexStats) {
	addresses := make([]string, 0, len(batch))
	for _, tok := range batch {
		if tok.Address == "" {
			stats.skipped++
			continue
		}
		addresses = append(addresses, tok.Address)
	}
	if len(addresses) == 0 {
		return
	}

	metrics := s.fetchMetrics(ctx, addresses)

	for _, tok := range batch {
		if tok.Address == "" {
			continue
		}
		m := models.TokenMetrics{
			DailyVolume: metrics[tok.Address].Volume24h,
			HolderCount: metrics[tok.Address].HolderCount,
			Liquidity:   metrics[tok.Address].Liquidity,
			MarketCap:   metrics[tok.Address].MarketCap,
			Price:       metrics[tok.Address].Price,
		}
		grade, score, reason := gradeToken(m)
		switch grade {
		case "A":
			stats.gradeA++
		case "B":
			stats.gradeB++
		default:
			stats.gradeC++
		}

		created, err := s.store.UpsertIndexEntry(ctx, models.TokenIndexEntry{
			Chain:       "SOL",
			Address:     tok.Address,
			Name:        defaultString(tok.Name, "Unknown Token"),
			Symbol:      defaultString(tok.Symbol, "Unknown"),
			Decimals:    tok.Decimals,
			IsNative:    tok.Address == models.NativeSOLAddress,
			IsVerified:  tok.Verified,
			Metrics:     m,
			Grade:       grade,
			Score:       score,
			GradeReason: reason,
		})
		if err != nil {
			s.log.Error().Str("address", tok.Address).Err(err).Msg("upsert index entry")
			stats.failed++
			stats.processed++
			continue
		}
		if created {
			stats.created++
		} else {
			stats.updated++
		}
		stats.processed++
	}
}

// fetchMetrics queries the metrics endpoint for a batch of addresses. A
// failed fetch degrades to zero metrics rather than failing the run.
func (s *IndexSync) fetchMetrics(ctx context.Context, addresses []string) map[string]metricsPayload {
	u := s.cfg.TokenMetricsURL + "?ids=" + url.QueryEscape(strings.Join(addresses, ","))
	var resp metricsResponse
	if err := s.fetch.getJSON(ctx, u, &resp); err != nil {
		s.log.Warn().Err(err).Int("batch", len(addresses)).Msg("fetch token metrics")
		return map[string]metricsPayload{}
	}
	if resp.Data == nil {
		return map[string]metricsPayload{}
	}
	return resp.Data
}

// gradeToken scores a token on holders, daily volume, and liquidity.
// A requires a score of at least 80, B at least 50.
func gradeToken(m models.TokenMetrics) (string, int, string) {
	score := 0
	var reasons []string

	switch {
	case m.HolderCount >= 10000:
		score += 30
		reasons = append(reasons, "holders>=10000")
	case m.HolderCount >= 1000:
		score += 20
		reasons = append(reasons, "holders>=1000")
	case m.HolderCount >= 100:
		score += 10
		reasons = append(reasons, "holders>=100")
	}

	switch {
	case m.DailyVolume >= 100000:
		score += 30
		reasons = append(reasons, "volume>=100000 USD")
	case m.DailyVolume >= 10000:
		score += 20
		reasons = append(reasons, "volume>=10000 USD")
	case m.DailyVolume >= 1000:
		score += 10
		reasons = append(reasons, "volume>=1000 USD")
	}

	switch {
	case m.Liquidity >= 1000000:
		score += 40
		reasons = append(reasons, "liquidity>=1000000 USD")
	case m.Liquidity >= 100000:
		score += 30
		reasons = append(reasons, "liquidity>=100000 USD")
	case m.Liquidity >= 10000:
		score += 20
		reasons = append(reasons, "liquidity>=10000 USD")
	}

	grade := "C"
	if score >= 80 {
		grade = "A"
	} else if score >= 50 {
		grade = "B"
	}
	return grade, score, strings.Join(reasons, ", ")
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
