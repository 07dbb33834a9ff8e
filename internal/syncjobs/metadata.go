package syncjobs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"cocowallet-sync/internal/config"
	"cocowallet-sync/internal/models"
	"cocowallet-sync/internal/runner"
)

// TokenStore persists token rows.
type TokenStore interface {
	UpsertToken(ctx context.Context, t models.Token) (bool, error)
}

// MetadataSync pulls the upstream token list and refreshes the tokens table.
type MetadataSync struct {
	cfg   config.Config
	store TokenStore
	fetch *fetcher
	log   zerolog.Logger
}

// NewMetadataSync builds the token metadata sync job.
func NewMetadataSync(cfg config.Config, store TokenStore, log zerolog.Logger) *MetadataSync {
	return &MetadataSync{
		cfg:   cfg,
		store: store,
		fetch: newFetcher(cfg.HTTPTimeout, cfg.FetchRetries, cfg.MaxResponseBytes),
		log:   log,
	}
}

// Run implements runner.JobFunc. The list fetch accounts for the first 10%
// of progress, the upsert loop for the rest.
func (s *MetadataSync) Run(ctx context.Context, report runner.ProgressFunc) error {
	var listed []listedToken
	if err := s.fetch.getJSON(ctx, s.cfg.TokenListURL, &listed); err != nil {
		return fmt.Errorf("fetch token list: %w", err)
	}
	if len(listed) == 0 {
		return fmt.Errorf("token list is empty")
	}
	report(10, fmt.Sprintf("fetched %d tokens", len(listed)))

	processed, created, updated, failed := 0, 0, 0, 0
	for i, tok := range listed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tok.Address == "" {
			continue
		}
		fresh, err := s.store.UpsertToken(ctx, models.Token{
			Chain:      "SOL",
			Address:    tok.Address,
			Name:       tok.Name,
			Symbol:     tok.Symbol,
			Decimals:   tok.Decimals,
			LogoURI:    tok.LogoURI,
			IsNative:   tok.Address == models.NativeSOLAddress,
			IsVerified: tok.Verified,
			IsVisible:  true,
		})
		if err != nil {
			s.log.Error().Str("address", tok.Address).Err(err).Msg("upsert token")
			failed++
			continue
		}
		if fresh {
			created++
		} else {
			updated++
		}
		processed++

		progress := 10 + (i+1)*90/len(listed)
		report(progress, fmt.Sprintf("processed %d/%d tokens", processed, len(listed)))
	}

	report(100, fmt.Sprintf("processed %d/%d tokens (%d new, %d updated, %d failed)",
		processed, len(listed), created, updated, failed))
	return nil
}
