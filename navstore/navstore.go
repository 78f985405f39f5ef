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

package navstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/fundbook/mf-api/common"
	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/quote"
	"github.com/fundbook/mf-api/scheme"
)

var (
	ErrNavUnavailable = errors.New("nav unavailable")
	ErrNoHistory      = errors.New("no nav history for scheme")
)

const DefaultHistoryCap = 30

// LatestNav is the most recently observed authoritative NAV for a scheme
type LatestNav struct {
	SchemeCode int             `json:"schemeCode"`
	Nav        decimal.Decimal `json:"nav"`
	AsOf       time.Time       `json:"asOf"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// HistoryEntry is one day of the bounded per-scheme NAV series
type HistoryEntry struct {
	Date time.Time       `json:"date"`
	Nav  decimal.Decimal `json:"nav"`
}

// QuoteClient is the portion of the provider client the store reads through to
type QuoteClient interface {
	FetchLatest(ctx context.Context, schemeCode int) (*quote.Quote, error)
	FetchHistory(ctx context.Context, schemeCode int) ([]quote.NavPoint, error)
}

// Store persists the latest NAV and a bounded history per scheme. All
// users share it; it is keyed by scheme code only.
type Store struct {
	quotes QuoteClient
}

func NewStore(quotes QuoteClient) *Store {
	return &Store{quotes: quotes}
}

// HistoryCap returns the maximum number of retained history entries per scheme
func HistoryCap() int {
	capN := viper.GetInt("nav.history_cap")
	if capN <= 0 {
		capN = DefaultHistoryCap
	}
	return capN
}

func cacheKey(schemeCode int) string {
	return fmt.Sprintf("nav:latest:%d", schemeCode)
}

// GetLatest returns the latest NAV for a scheme. Order of preference:
// hot cache, latest_nav row, read-through to the provider (which also
// populates both stores and the scheme catalog).
func (store *Store) GetLatest(ctx context.Context, schemeCode int) (*LatestNav, error) {
	if raw, err := common.CacheGet(cacheKey(schemeCode)); err == nil && len(raw) > 0 {
		latest := LatestNav{}
		if err := json.Unmarshal(raw, &latest); err == nil {
			return &latest, nil
		}
	}

	latest, err := store.getLatestRow(ctx, schemeCode)
	if err == nil {
		store.cachePut(latest)
		return latest, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// cache miss is not an error; read through to the provider
	q, err := store.quotes.FetchLatest(ctx, schemeCode)
	if err != nil {
		log.Warn().Err(err).Int("SchemeCode", schemeCode).Msg("provider fetch failed on read-through")
		return nil, fmt.Errorf("%w: %s", ErrNavUnavailable, err)
	}

	if err := store.PutLatest(ctx, schemeCode, q.Nav, q.Date); err != nil {
		return nil, err
	}
	if err := store.PutHistoryPoint(ctx, schemeCode, q.Date, q.Nav); err != nil {
		return nil, err
	}
	if err := scheme.UpsertFromMeta(ctx, q.Meta, schemeCode); err != nil {
		log.Warn().Err(err).Int("SchemeCode", schemeCode).Msg("could not record scheme metadata")
	}

	return &LatestNav{
		SchemeCode: schemeCode,
		Nav:        q.Nav,
		AsOf:       q.Date,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

func (store *Store) getLatestRow(ctx context.Context, schemeCode int) (*LatestNav, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	latest := LatestNav{SchemeCode: schemeCode}
	var navStr string
	sql := `SELECT nav::text, as_of, updated_at FROM latest_nav WHERE scheme_code=$1`
	err = trx.QueryRow(ctx, sql, schemeCode).Scan(&navStr, &latest.AsOf, &latest.UpdatedAt)
	if err != nil {
		if rbErr := trx.Rollback(ctx); rbErr != nil {
			log.Error().Stack().Err(rbErr).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if latest.Nav, err = decimal.NewFromString(navStr); err != nil {
		if rbErr := trx.Rollback(ctx); rbErr != nil {
			log.Error().Stack().Err(rbErr).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return &latest, nil
}

func (store *Store) cachePut(latest *LatestNav) {
	raw, err := json.Marshal(latest)
	if err != nil {
		return
	}
	if err := common.CacheSet(cacheKey(latest.SchemeCode), raw); err != nil {
		log.Warn().Err(err).Int("SchemeCode", latest.SchemeCode).Msg("could not cache latest nav")
	}
}

// PutLatest upserts the latest NAV row. A write with an as-of date older
// than the stored row does not regress the stored value.
func (store *Store) PutLatest(ctx context.Context, schemeCode int, nav decimal.Decimal, asOf time.Time) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	sql := `INSERT INTO latest_nav (scheme_code, nav, as_of, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (scheme_code) DO UPDATE SET nav=EXCLUDED.nav, as_of=EXCLUDED.as_of, updated_at=now()
		WHERE latest_nav.as_of <= EXCLUDED.as_of`
	if _, err := trx.Exec(ctx, sql, schemeCode, nav.String(), asOf); err != nil {
		log.Warn().Stack().Err(err).Int("SchemeCode", schemeCode).Msg("could not upsert latest nav")
		if rbErr := trx.Rollback(ctx); rbErr != nil {
			log.Error().Stack().Err(rbErr).Msg("could not rollback transaction")
		}
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		return err
	}

	common.CacheDelete(cacheKey(schemeCode))
	return nil
}

// PutHistoryPoint inserts or replaces the history entry for a date and
// evicts the oldest entries beyond the history cap.
func (store *Store) PutHistoryPoint(ctx context.Context, schemeCode int, date time.Time, nav decimal.Decimal) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	sql := `INSERT INTO nav_history (scheme_code, nav_date, nav) VALUES ($1, $2, $3)
		ON CONFLICT (scheme_code, nav_date) DO UPDATE SET nav=EXCLUDED.nav`
	if _, err := trx.Exec(ctx, sql, schemeCode, date, nav.String()); err != nil {
		log.Warn().Stack().Err(err).Int("SchemeCode", schemeCode).Msg("could not upsert nav history")
		if rbErr := trx.Rollback(ctx); rbErr != nil {
			log.Error().Stack().Err(rbErr).Msg("could not rollback transaction")
		}
		return err
	}

	trimSQL := `DELETE FROM nav_history WHERE scheme_code=$1 AND nav_date NOT IN
		(SELECT nav_date FROM nav_history WHERE scheme_code=$1 ORDER BY nav_date DESC LIMIT $2)`
	if _, err := trx.Exec(ctx, trimSQL, schemeCode, HistoryCap()); err != nil {
		log.Warn().Stack().Err(err).Int("SchemeCode", schemeCode).Msg("could not trim nav history")
		if rbErr := trx.Rollback(ctx); rbErr != nil {
			log.Error().Stack().Err(rbErr).Msg("could not rollback transaction")
		}
		return err
	}

	return trx.Commit(ctx)
}

// History returns up to n entries for a scheme, newest first
func (store *Store) History(ctx context.Context, schemeCode int, n int) ([]HistoryEntry, error) {
	if n <= 0 || n > HistoryCap() {
		n = HistoryCap()
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	sql := `SELECT nav_date, nav::text FROM nav_history WHERE scheme_code=$1 ORDER BY nav_date DESC LIMIT $2`
	rows, err := trx.Query(ctx, sql, schemeCode, n)
	if err != nil {
		if rbErr := trx.Rollback(ctx); rbErr != nil {
			log.Error().Stack().Err(rbErr).Msg("could not rollback transaction")
		}
		return nil, err
	}

	entries := make([]HistoryEntry, 0, n)
	for rows.Next() {
		entry := HistoryEntry{}
		var navStr string
		if err := rows.Scan(&entry.Date, &navStr); err != nil {
			log.Warn().Stack().Err(err).Msg("nav history scan failed")
			continue
		}
		if entry.Nav, err = decimal.NewFromString(navStr); err != nil {
			log.Warn().Stack().Err(err).Str("Nav", navStr).Msg("bad nav in history row")
			continue
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		if rbErr := trx.Rollback(ctx); rbErr != nil {
			log.Error().Stack().Err(rbErr).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return entries, nil
}

// BackfillHistory pulls the provider's full series and stores the most
// recent entries up to the history cap
func (store *Store) BackfillHistory(ctx context.Context, schemeCode int) error {
	points, err := store.quotes.FetchHistory(ctx, schemeCode)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNavUnavailable, err)
	}
	if len(points) == 0 {
		return ErrNoHistory
	}

	capN := HistoryCap()
	if len(points) > capN {
		points = points[:capN]
	}

	// points arrive newest first; write oldest first so trimming keeps
	// the newest entries
	for i := len(points) - 1; i >= 0; i-- {
		if err := store.PutHistoryPoint(ctx, schemeCode, points[i].Date, points[i].Nav); err != nil {
			return err
		}
	}
	return nil
}
