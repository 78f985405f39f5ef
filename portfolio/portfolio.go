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
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyUserID       = errors.New("user id empty")
	ErrInvalidUnits      = errors.New("units must be positive")
	ErrNoPosition        = errors.New("no position for scheme")
	ErrInsufficientUnits = errors.New("insufficient units")
	ErrHasTransactions   = errors.New("portfolio has transactions")
	ErrLotsOutOfSync     = errors.New("open lots and transactions are out-of-sync")
	ErrInvalidDateRange  = errors.New("invalid date range")
)

// Epsilon absorbs rounding on the last unit digit; comparisons treat
// quantities within Epsilon as equal.
var Epsilon = decimal.New(1, -6)

// Portfolio is the logical handle for a (user, scheme) pair. It is
// created on first BUY and at most one exists per pair.
type Portfolio struct {
	ID         uuid.UUID       `json:"id"`
	UserID     string          `json:"userId"`
	SchemeCode int             `json:"schemeCode"`
	OpenedAt   time.Time       `json:"openedAt"`
	OpeningNav decimal.Decimal `json:"openingNav"`
}

// Position is the cached aggregate over a portfolio's transaction log.
// It is a projection: the log is the source of truth and the cache is
// rebuilt whenever it drifts from a replay.
type Position struct {
	PortfolioID   uuid.UUID       `json:"portfolioId"`
	SchemeCode    int             `json:"schemeCode"`
	TotalUnits    decimal.Decimal `json:"totalUnits"`
	InvestedValue decimal.Decimal `json:"investedValue"`
	AvgNav        decimal.Decimal `json:"avgNav"`
}

func getPortfolio(ctx context.Context, trx pgx.Tx, userID string, schemeCode int) (*Portfolio, error) {
	p := Portfolio{UserID: userID, SchemeCode: schemeCode}
	var openingNavStr string
	sql := `SELECT id, opened_at, opening_nav::text FROM portfolio WHERE user_id=$1 AND scheme_code=$2`
	err := trx.QueryRow(ctx, sql, userID, schemeCode).Scan(&p.ID, &p.OpenedAt, &openingNavStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPosition
		}
		return nil, err
	}
	if p.OpeningNav, err = decimal.NewFromString(openingNavStr); err != nil {
		return nil, err
	}
	return &p, nil
}

// getOrCreatePortfolio resolves the portfolio for (user, scheme), creating
// it when this is the first BUY. The unique index on (user_id, scheme_code)
// guards concurrent creation; the losing side loads the existing row.
func getOrCreatePortfolio(ctx context.Context, trx pgx.Tx, userID string, schemeCode int, openingNav decimal.Decimal, openedAt time.Time) (*Portfolio, error) {
	sql := `INSERT INTO portfolio (id, user_id, scheme_code, opened_at, opening_nav) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, scheme_code) DO NOTHING`
	if _, err := trx.Exec(ctx, sql, uuid.New(), userID, schemeCode, openedAt, openingNav.String()); err != nil {
		return nil, err
	}
	return getPortfolio(ctx, trx, userID, schemeCode)
}

func getPosition(ctx context.Context, trx pgx.Tx, portfolioID uuid.UUID) (*Position, error) {
	pos := Position{PortfolioID: portfolioID}
	var unitsStr, investedStr, avgStr string
	sql := `SELECT scheme_code, total_units::text, invested_value::text, avg_nav::text FROM position WHERE portfolio_id=$1`
	err := trx.QueryRow(ctx, sql, portfolioID).Scan(&pos.SchemeCode, &unitsStr, &investedStr, &avgStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPosition
		}
		return nil, err
	}

	if pos.TotalUnits, err = decimal.NewFromString(unitsStr); err != nil {
		return nil, err
	}
	if pos.InvestedValue, err = decimal.NewFromString(investedStr); err != nil {
		return nil, err
	}
	if pos.AvgNav, err = decimal.NewFromString(avgStr); err != nil {
		return nil, err
	}
	return &pos, nil
}

func savePosition(ctx context.Context, trx pgx.Tx, pos *Position) error {
	sql := `INSERT INTO position (portfolio_id, scheme_code, total_units, invested_value, avg_nav) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (portfolio_id) DO UPDATE SET total_units=EXCLUDED.total_units,
		invested_value=EXCLUDED.invested_value, avg_nav=EXCLUDED.avg_nav`
	_, err := trx.Exec(ctx, sql, pos.PortfolioID, pos.SchemeCode, pos.TotalUnits.String(), pos.InvestedValue.String(), pos.AvgNav.String())
	return err
}

func deletePosition(ctx context.Context, trx pgx.Tx, portfolioID uuid.UUID) error {
	_, err := trx.Exec(ctx, `DELETE FROM position WHERE portfolio_id=$1`, portfolioID)
	return err
}

// loadPositionChecked loads the cached position and verifies it against a
// replay of the transaction log. A divergence beyond Epsilon is a
// recoverable integrity event: the replay wins and the cache is rewritten.
func loadPositionChecked(ctx context.Context, trx pgx.Tx, p *Portfolio) (*Position, []*Transaction, error) {
	transactions, err := loadTransactions(ctx, trx, p.ID)
	if err != nil {
		return nil, nil, err
	}

	replayed := ReplayPosition(p.ID, p.SchemeCode, transactions)

	cached, err := getPosition(ctx, trx, p.ID)
	if err != nil {
		if !errors.Is(err, ErrNoPosition) {
			return nil, nil, err
		}
		if replayed.TotalUnits.LessThanOrEqual(Epsilon) {
			return nil, transactions, ErrNoPosition
		}
		// torn write: the log has units but the cache row is gone
		cached = nil
	}

	if cached != nil &&
		cached.TotalUnits.Sub(replayed.TotalUnits).Abs().LessThanOrEqual(Epsilon) &&
		cached.InvestedValue.Sub(replayed.InvestedValue).Abs().LessThanOrEqual(Epsilon) {
		return cached, transactions, nil
	}

	log.Warn().
		Str("PortfolioID", p.ID.String()).
		Str("ReplayUnits", replayed.TotalUnits.String()).
		Msg("position cache diverged from replay; rebuilding")

	if err := savePosition(ctx, trx, replayed); err != nil {
		return nil, nil, err
	}
	return replayed, transactions, nil
}

// ListPositions returns all open positions for a user with scheme names
// attached. Reads are lock-free and may trail the latest commit.
func ListPositions(ctx context.Context, trx pgx.Tx, userID string) ([]*PositionView, error) {
	sql := `SELECT p.id, p.scheme_code, COALESCE(s.scheme_name, ''), pos.total_units::text, pos.invested_value::text, pos.avg_nav::text
		FROM position pos
		JOIN portfolio p ON p.id = pos.portfolio_id
		LEFT JOIN scheme s ON s.scheme_code = p.scheme_code
		WHERE p.user_id=$1
		ORDER BY p.scheme_code`
	rows, err := trx.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}

	views := []*PositionView{}
	for rows.Next() {
		v := PositionView{}
		var unitsStr, investedStr, avgStr string
		if err := rows.Scan(&v.PortfolioID, &v.SchemeCode, &v.SchemeName, &unitsStr, &investedStr, &avgStr); err != nil {
			log.Warn().Stack().Err(err).Msg("position scan failed")
			continue
		}
		if v.TotalUnits, err = decimal.NewFromString(unitsStr); err != nil {
			continue
		}
		if v.InvestedValue, err = decimal.NewFromString(investedStr); err != nil {
			continue
		}
		if v.AvgNav, err = decimal.NewFromString(avgStr); err != nil {
			continue
		}
		views = append(views, &v)
	}

	return views, rows.Err()
}

// PositionView is a position joined with catalog metadata for display
type PositionView struct {
	PortfolioID   uuid.UUID       `json:"portfolioId"`
	SchemeCode    int             `json:"schemeCode"`
	SchemeName    string          `json:"schemeName"`
	TotalUnits    decimal.Decimal `json:"totalUnits"`
	InvestedValue decimal.Decimal `json:"investedValue"`
	AvgNav        decimal.Decimal `json:"avgNav"`
}
