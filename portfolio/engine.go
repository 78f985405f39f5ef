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

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/messenger"
	"github.com/fundbook/mf-api/navstore"
)

// Engine applies portfolio mutations. Each mutation resolves the NAV
// first, then runs as a single database transaction under a per-pair
// lock, so the log and the position cache commit or fail together.
type Engine struct {
	navs  *navstore.Store
	locks *locker
}

func NewEngine(navs *navstore.Store) *Engine {
	return &Engine{
		navs:  navs,
		locks: newLocker(),
	}
}

func validateOrder(userID string, units decimal.Decimal) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if units.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidUnits
	}
	return nil
}

func rollback(ctx context.Context, trx pgx.Tx) {
	if err := trx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		log.Error().Stack().Err(err).Msg("could not rollback transaction")
	}
}

// Buy purchases `units` of a scheme at the current NAV. The portfolio is
// created on first purchase. NAV resolution failure aborts before any
// write.
func (engine *Engine) Buy(ctx context.Context, userID string, schemeCode int, units decimal.Decimal, eventTime time.Time) (*Transaction, error) {
	if err := validateOrder(userID, units); err != nil {
		return nil, err
	}

	latest, err := engine.navs.GetLatest(ctx, schemeCode)
	if err != nil {
		return nil, err
	}

	unlock := engine.locks.Lock(userID, schemeCode)
	defer unlock()

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	p, err := getOrCreatePortfolio(ctx, trx, userID, schemeCode, latest.Nav, eventTime)
	if err != nil {
		rollback(ctx, trx)
		return nil, err
	}

	t := newTransaction(p.ID, BuyTransaction, units, latest.Nav, eventTime)
	if err := appendTransaction(ctx, trx, t); err != nil {
		rollback(ctx, trx)
		return nil, err
	}

	// the log is the source of truth; the cached position is rebuilt
	// from it so the two can never commit apart
	transactions, err := loadTransactions(ctx, trx, p.ID)
	if err != nil {
		rollback(ctx, trx)
		return nil, err
	}
	if err := savePosition(ctx, trx, ReplayPosition(p.ID, schemeCode, transactions)); err != nil {
		rollback(ctx, trx)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit buy transaction")
		return nil, err
	}

	messenger.PublishTransaction(&messenger.TransactionEvent{
		UserID:     userID,
		SchemeCode: schemeCode,
		Kind:       t.Kind,
		Units:      t.Units.String(),
		Nav:        t.Nav.String(),
		Amount:     t.Amount.String(),
		EventTime:  t.EventTime.Format(time.RFC3339),
		SourceID:   t.SourceIDString(),
	})

	log.Info().Str("UserID", userID).Int("SchemeCode", schemeCode).Str("Units", units.String()).Str("Nav", latest.Nav.String()).Msg("buy recorded")
	return t, nil
}

// Sell redeems `units` at the current NAV, consuming open lots oldest
// first and recording the realized gain on the SELL entry. Selling the
// whole position (within Epsilon) removes the cached position; the log
// and the portfolio survive.
func (engine *Engine) Sell(ctx context.Context, userID string, schemeCode int, units decimal.Decimal, eventTime time.Time) (*Transaction, error) {
	if err := validateOrder(userID, units); err != nil {
		return nil, err
	}

	latest, err := engine.navs.GetLatest(ctx, schemeCode)
	if err != nil {
		return nil, err
	}

	unlock := engine.locks.Lock(userID, schemeCode)
	defer unlock()

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	p, err := getPortfolio(ctx, trx, userID, schemeCode)
	if err != nil {
		rollback(ctx, trx)
		return nil, err
	}

	pos, transactions, err := loadPositionChecked(ctx, trx, p)
	if err != nil {
		rollback(ctx, trx)
		return nil, err
	}

	if pos.TotalUnits.Add(Epsilon).LessThan(units) {
		rollback(ctx, trx)
		return nil, ErrInsufficientUnits
	}

	lots, err := OpenLots(transactions)
	if err != nil {
		rollback(ctx, trx)
		return nil, err
	}
	realized, _, err := ConsumeLots(lots, units, latest.Nav)
	if err != nil {
		rollback(ctx, trx)
		return nil, err
	}

	t := newTransaction(p.ID, SellTransaction, units, latest.Nav, eventTime)
	t.RealizedPL = realized
	t.HasRealized = true
	if err := appendTransaction(ctx, trx, t); err != nil {
		rollback(ctx, trx)
		return nil, err
	}

	remainingUnits := pos.TotalUnits.Sub(units)
	if remainingUnits.LessThanOrEqual(Epsilon) {
		if err := deletePosition(ctx, trx, p.ID); err != nil {
			rollback(ctx, trx)
			return nil, err
		}
	} else {
		pos.TotalUnits = remainingUnits
		pos.InvestedValue = remainingUnits.Mul(pos.AvgNav)
		if err := savePosition(ctx, trx, pos); err != nil {
			rollback(ctx, trx)
			return nil, err
		}
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit sell transaction")
		return nil, err
	}

	messenger.PublishTransaction(&messenger.TransactionEvent{
		UserID:     userID,
		SchemeCode: schemeCode,
		Kind:       t.Kind,
		Units:      t.Units.String(),
		Nav:        t.Nav.String(),
		Amount:     t.Amount.String(),
		EventTime:  t.EventTime.Format(time.RFC3339),
		SourceID:   t.SourceIDString(),
	})

	log.Info().Str("UserID", userID).Int("SchemeCode", schemeCode).Str("Units", units.String()).Str("RealizedPL", realized.String()).Msg("sell recorded")
	return t, nil
}

// Remove deletes a portfolio that has never traded. A portfolio with any
// log entries is immutable history and cannot be removed.
func (engine *Engine) Remove(ctx context.Context, userID string, schemeCode int) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	unlock := engine.locks.Lock(userID, schemeCode)
	defer unlock()

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	p, err := getPortfolio(ctx, trx, userID, schemeCode)
	if err != nil {
		rollback(ctx, trx)
		return err
	}

	var numTransactions int
	if err := trx.QueryRow(ctx, `SELECT count(*) FROM mf_transaction WHERE portfolio_id=$1`, p.ID).Scan(&numTransactions); err != nil {
		rollback(ctx, trx)
		return err
	}
	if numTransactions > 0 {
		rollback(ctx, trx)
		return ErrHasTransactions
	}

	if err := deletePosition(ctx, trx, p.ID); err != nil {
		rollback(ctx, trx)
		return err
	}
	if _, err := trx.Exec(ctx, `DELETE FROM portfolio WHERE id=$1`, p.ID); err != nil {
		rollback(ctx, trx)
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit remove")
		return err
	}

	log.Info().Str("UserID", userID).Int("SchemeCode", schemeCode).Msg("portfolio removed")
	return nil
}
