// Copyright 2024-2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package refresh walks every scheme currently held in any position and
// re-fetches its NAV from the provider, throttled so the provider is not
// hammered. Only one run may be in flight per process.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/navstore"
	"github.com/fundbook/mf-api/quote"
)

var (
	ErrAlreadyRunning = errors.New("nav refresh already running")
)

const (
	DefaultBatchSize    = 10
	DefaultRequestDelay = 300 * time.Millisecond
	DefaultBatchDelay   = 2 * time.Second
)

// SchemeFailure records one scheme the sweep could not refresh
type SchemeFailure struct {
	SchemeCode int    `json:"schemeCode"`
	Error      string `json:"error"`
}

// RunSummary reports the outcome of one refresh sweep: which schemes
// refreshed, which failed and why.
type RunSummary struct {
	Total      int             `json:"total"`
	Successes  []int           `json:"successes"`
	Failures   []SchemeFailure `json:"failures"`
	StartedAt  time.Time       `json:"startedAt"`
	DurationMS int64           `json:"durationMs"`
}

// QuoteClient is the slice of the provider client the sweep needs
type QuoteClient interface {
	FetchLatest(ctx context.Context, schemeCode int) (*quote.Quote, error)
}

// Engine runs NAV refresh sweeps. The running flag is the scheduling
// sentinel: a tick that arrives while a sweep is still in flight is
// dropped, not queued.
type Engine struct {
	quotes  QuoteClient
	navs    *navstore.Store
	running sync.Mutex
}

func NewEngine(quotes QuoteClient, navs *navstore.Store) *Engine {
	return &Engine{quotes: quotes, navs: navs}
}

func batchSize() int {
	n := viper.GetInt("nav.batch_size")
	if n <= 0 {
		n = DefaultBatchSize
	}
	return n
}

func requestDelay() time.Duration {
	ms := viper.GetInt("nav.request_delay_ms")
	if ms <= 0 {
		return DefaultRequestDelay
	}
	return time.Duration(ms) * time.Millisecond
}

func batchDelay() time.Duration {
	ms := viper.GetInt("nav.batch_delay_ms")
	if ms <= 0 {
		return DefaultBatchDelay
	}
	return time.Duration(ms) * time.Millisecond
}

// heldSchemes returns the distinct scheme codes with an open position
func heldSchemes(ctx context.Context) ([]int, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := trx.Query(ctx, `SELECT DISTINCT scheme_code FROM position ORDER BY scheme_code`)
	if err != nil {
		if rbErr := trx.Rollback(ctx); rbErr != nil {
			log.Error().Stack().Err(rbErr).Msg("could not rollback transaction")
		}
		return nil, err
	}

	schemes := []int{}
	for rows.Next() {
		var schemeCode int
		if err := rows.Scan(&schemeCode); err != nil {
			return nil, err
		}
		schemes = append(schemes, schemeCode)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return schemes, nil
}

// Run performs one complete refresh sweep. It returns ErrAlreadyRunning
// if a sweep is already in flight. A failed scheme is counted and skipped;
// only context cancellation stops the sweep early.
func (engine *Engine) Run(ctx context.Context) (*RunSummary, error) {
	if !engine.running.TryLock() {
		log.Warn().Msg("nav refresh requested while a sweep is in flight; skipping")
		return nil, ErrAlreadyRunning
	}
	defer engine.running.Unlock()

	return engine.sweep(ctx)
}

// RunAsync claims the sentinel synchronously and performs the sweep in the
// background. The caller learns immediately whether the sweep was accepted.
func (engine *Engine) RunAsync(ctx context.Context) error {
	if !engine.running.TryLock() {
		log.Warn().Msg("nav refresh requested while a sweep is in flight; skipping")
		return ErrAlreadyRunning
	}

	go func() {
		defer engine.running.Unlock()
		if _, err := engine.sweep(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("background nav refresh failed")
		}
	}()

	return nil
}

func (engine *Engine) sweep(ctx context.Context) (*RunSummary, error) {
	summary := RunSummary{
		StartedAt: time.Now().UTC(),
		Successes: []int{},
		Failures:  []SchemeFailure{},
	}

	schemes, err := heldSchemes(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not enumerate held schemes")
		return nil, err
	}
	summary.Total = len(schemes)
	log.Info().Int("NumSchemes", len(schemes)).Msg("starting nav refresh sweep")

	size := batchSize()
	for start := 0; start < len(schemes); start += size {
		end := start + size
		if end > len(schemes) {
			end = len(schemes)
		}

		for _, schemeCode := range schemes[start:end] {
			if err := ctx.Err(); err != nil {
				summary.DurationMS = time.Since(summary.StartedAt).Milliseconds()
				return &summary, err
			}

			if err := engine.refreshScheme(ctx, schemeCode); err != nil {
				log.Warn().Err(err).Int("SchemeCode", schemeCode).Msg("nav refresh failed for scheme")
				summary.Failures = append(summary.Failures, SchemeFailure{
					SchemeCode: schemeCode,
					Error:      err.Error(),
				})
			} else {
				summary.Successes = append(summary.Successes, schemeCode)
			}

			if err := sleepCtx(ctx, requestDelay()); err != nil {
				summary.DurationMS = time.Since(summary.StartedAt).Milliseconds()
				return &summary, err
			}
		}

		if end < len(schemes) {
			if err := sleepCtx(ctx, batchDelay()); err != nil {
				summary.DurationMS = time.Since(summary.StartedAt).Milliseconds()
				return &summary, err
			}
		}
	}

	summary.DurationMS = time.Since(summary.StartedAt).Milliseconds()
	log.Info().
		Int("Total", summary.Total).
		Ints("Successes", summary.Successes).
		Int("NumFailures", len(summary.Failures)).
		Int64("DurationMs", summary.DurationMS).
		Msg("nav refresh sweep finished")
	return &summary, nil
}

func (engine *Engine) refreshScheme(ctx context.Context, schemeCode int) error {
	q, err := engine.quotes.FetchLatest(ctx, schemeCode)
	if err != nil {
		return err
	}
	if err := engine.navs.PutLatest(ctx, schemeCode, q.Nav, q.Date); err != nil {
		return err
	}

	// a scheme entering its first sweep has no stored series yet; pull
	// the provider's full history before recording today's point
	if entries, err := engine.navs.History(ctx, schemeCode, 1); err == nil && len(entries) == 0 {
		if err := engine.navs.BackfillHistory(ctx, schemeCode); err != nil {
			log.Warn().Err(err).Int("SchemeCode", schemeCode).Msg("could not backfill nav history")
		}
	}

	return engine.navs.PutHistoryPoint(ctx, schemeCode, q.Date, q.Nav)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
