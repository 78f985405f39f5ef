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

package portfolio

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/navstore"
)

const (
	DefaultHistoryDays = 30
	MaxHistoryDays     = 365
)

// ValuationItem is one holding marked to the latest NAV. When the NAV
// cannot be resolved the holding is valued at its average purchase NAV
// and flagged navMissing rather than dropped from the report.
type ValuationItem struct {
	SchemeCode    int             `json:"schemeCode"`
	SchemeName    string          `json:"schemeName"`
	TotalUnits    decimal.Decimal `json:"totalUnits"`
	InvestedValue decimal.Decimal `json:"investedValue"`
	AvgNav        decimal.Decimal `json:"avgNav"`
	CurrentNav    decimal.Decimal `json:"currentNav"`
	NavAsOf       *time.Time      `json:"navAsOf,omitempty"`
	NavMissing    bool            `json:"navMissing"`
	CurrentValue  decimal.Decimal `json:"currentValue"`
	UnrealizedPL  decimal.Decimal `json:"unrealizedPL"`
}

// Valuation is a whole-portfolio mark-to-market report
type Valuation struct {
	Items             []*ValuationItem `json:"items"`
	TotalInvested     decimal.Decimal  `json:"totalInvested"`
	TotalValue        decimal.Decimal  `json:"totalValue"`
	TotalUnrealizedPL decimal.Decimal  `json:"totalUnrealizedPL"`
	AsOf              time.Time        `json:"asOf"`
}

// HistoryPoint is the portfolio's total value on one day
type HistoryPoint struct {
	Date          time.Time       `json:"date"`
	Value         decimal.Decimal `json:"totalValue"`
	InvestedValue decimal.Decimal `json:"investedValue"`
	UnrealizedPL  decimal.Decimal `json:"unrealizedPL"`
}

// Value marks every open position to the latest NAV. A NAV miss on one
// scheme degrades that line item; it never fails the report.
func (engine *Engine) Value(ctx context.Context, userID string) (*Valuation, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	positions, err := ListPositions(ctx, trx, userID)
	if err != nil {
		rollback(ctx, trx)
		return nil, err
	}
	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}

	report := Valuation{
		Items:             make([]*ValuationItem, 0, len(positions)),
		TotalInvested:     decimal.Zero,
		TotalValue:        decimal.Zero,
		TotalUnrealizedPL: decimal.Zero,
		AsOf:              time.Now().UTC(),
	}

	for _, pos := range positions {
		item := ValuationItem{
			SchemeCode:    pos.SchemeCode,
			SchemeName:    pos.SchemeName,
			TotalUnits:    pos.TotalUnits,
			InvestedValue: pos.InvestedValue,
			AvgNav:        pos.AvgNav,
		}

		latest, err := engine.navs.GetLatest(ctx, pos.SchemeCode)
		if err != nil {
			log.Warn().Err(err).Int("SchemeCode", pos.SchemeCode).Msg("valuing position at average nav; latest nav unavailable")
			item.CurrentNav = pos.AvgNav
			item.NavMissing = true
		} else {
			item.CurrentNav = latest.Nav
			asOf := latest.AsOf
			item.NavAsOf = &asOf
		}

		item.CurrentValue = item.TotalUnits.Mul(item.CurrentNav)
		item.UnrealizedPL = item.CurrentValue.Sub(item.InvestedValue)

		report.TotalInvested = report.TotalInvested.Add(item.InvestedValue)
		report.TotalValue = report.TotalValue.Add(item.CurrentValue)
		report.TotalUnrealizedPL = report.TotalUnrealizedPL.Add(item.UnrealizedPL)
		report.Items = append(report.Items, &item)
	}

	return &report, nil
}

// History computes the portfolio's value for each calendar day in
// [from, to]. Days price at the NAV dated on-or-before the day; days with
// no usable NAV fall back to each holding's average purchase NAV.
func (engine *Engine) History(ctx context.Context, userID string, from, to time.Time) ([]HistoryPoint, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	from = dateOnly(from)
	to = dateOnly(to)
	if to.IsZero() {
		to = dateOnly(time.Now().UTC())
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -(DefaultHistoryDays - 1))
	}
	if from.After(to) || to.Sub(from) > time.Duration(MaxHistoryDays)*24*time.Hour {
		return nil, ErrInvalidDateRange
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	portfolios, err := listPortfolios(ctx, trx, userID)
	if err != nil {
		rollback(ctx, trx)
		return nil, err
	}

	logs := make(map[int][]*Transaction, len(portfolios))
	for _, p := range portfolios {
		if logs[p.SchemeCode], err = loadTransactions(ctx, trx, p.ID); err != nil {
			rollback(ctx, trx)
			return nil, err
		}
	}
	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}

	// one history load per scheme; individual days then resolve in memory
	histories := make(map[int][]navstore.HistoryEntry, len(portfolios))
	for _, p := range portfolios {
		entries, err := engine.navs.History(ctx, p.SchemeCode, 0)
		if err != nil {
			log.Warn().Err(err).Int("SchemeCode", p.SchemeCode).Msg("could not load nav history for valuation series")
			entries = nil
		}
		histories[p.SchemeCode] = entries
	}

	series := []HistoryPoint{}
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		point := HistoryPoint{Date: day, Value: decimal.Zero, InvestedValue: decimal.Zero}
		for _, p := range portfolios {
			transactions := logs[p.SchemeCode]
			units := UnitsAtDate(transactions, day)
			if units.IsZero() {
				continue
			}

			avgNav := avgNavAtDate(transactions, day)
			nav := navOnOrBefore(histories[p.SchemeCode], day)
			if nav == nil {
				nav = &avgNav
			}

			point.Value = point.Value.Add(units.Mul(*nav))
			point.InvestedValue = point.InvestedValue.Add(units.Mul(avgNav))
		}
		point.UnrealizedPL = point.Value.Sub(point.InvestedValue)
		series = append(series, point)
	}

	return series, nil
}

func listPortfolios(ctx context.Context, trx pgx.Tx, userID string) ([]*Portfolio, error) {
	rows, err := trx.Query(ctx, `SELECT id, scheme_code, opened_at, opening_nav::text FROM portfolio WHERE user_id=$1 ORDER BY scheme_code`, userID)
	if err != nil {
		return nil, err
	}

	portfolios := []*Portfolio{}
	for rows.Next() {
		p := Portfolio{UserID: userID}
		var openingNavStr string
		if err := rows.Scan(&p.ID, &p.SchemeCode, &p.OpenedAt, &openingNavStr); err != nil {
			return nil, err
		}
		if p.OpeningNav, err = decimal.NewFromString(openingNavStr); err != nil {
			return nil, err
		}
		portfolios = append(portfolios, &p)
	}
	return portfolios, rows.Err()
}

// navOnOrBefore scans a newest-first history slice for the latest entry
// dated on or before `day`
func navOnOrBefore(entries []navstore.HistoryEntry, day time.Time) *decimal.Decimal {
	cutoff := day.AddDate(0, 0, 1)
	for _, entry := range entries {
		if entry.Date.Before(cutoff) {
			nav := entry.Nav
			return &nav
		}
	}
	return nil
}

// avgNavAtDate replays the log through the end of `day` and returns the
// average purchase NAV held at that instant
func avgNavAtDate(transactions []*Transaction, day time.Time) decimal.Decimal {
	cutoff := day.AddDate(0, 0, 1)
	truncated := make([]*Transaction, 0, len(transactions))
	for _, trx := range transactions {
		if !trx.EventTime.Before(cutoff) {
			break
		}
		truncated = append(truncated, trx)
	}
	if len(truncated) == 0 {
		return decimal.Zero
	}
	return ReplayPosition(truncated[0].PortfolioID, 0, truncated).AvgNav
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
