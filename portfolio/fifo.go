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
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Lot is an open purchase lot. Sells consume lots oldest first.
type Lot struct {
	Units     decimal.Decimal `json:"units"`
	Nav       decimal.Decimal `json:"nav"`
	EventTime time.Time       `json:"time"`
	TxID      int64           `json:"txId"`
}

// OpenLots derives the open lot queue from the transaction log. BUYs push
// a lot onto the tail; SELLs consume from the head. Lots whose remainder
// falls within Epsilon of zero are dropped.
func OpenLots(transactions []*Transaction) ([]*Lot, error) {
	lots := []*Lot{}
	for _, trx := range transactions {
		switch trx.Kind {
		case BuyTransaction:
			lots = append(lots, &Lot{
				Units:     trx.Units,
				Nav:       trx.Nav,
				EventTime: trx.EventTime,
				TxID:      trx.TxID,
			})
		case SellTransaction:
			var err error
			if _, lots, err = ConsumeLots(lots, trx.Units, trx.Nav); err != nil {
				log.Error().Stack().Err(err).Int64("TxID", trx.TxID).Msg("transaction log sells more units than open lots hold")
				return nil, ErrLotsOutOfSync
			}
		}
	}
	return lots, nil
}

// ConsumeLots removes `units` from the front of the lot queue and returns
// the realized gain at `sellNav` along with the remaining queue. The input
// slice is not modified. Requesting more than the queue holds (beyond
// Epsilon) returns ErrInsufficientUnits.
func ConsumeLots(lots []*Lot, units, sellNav decimal.Decimal) (decimal.Decimal, []*Lot, error) {
	remaining := make([]*Lot, 0, len(lots))
	realized := decimal.Zero
	toSell := units

	for idx, lot := range lots {
		if toSell.LessThanOrEqual(Epsilon) {
			remaining = append(remaining, lots[idx:]...)
			toSell = decimal.Zero
			break
		}

		if lot.Units.LessThanOrEqual(toSell) {
			// whole lot consumed
			realized = realized.Add(sellNav.Sub(lot.Nav).Mul(lot.Units))
			toSell = toSell.Sub(lot.Units)
			continue
		}

		// partial lot
		realized = realized.Add(sellNav.Sub(lot.Nav).Mul(toSell))
		remainder := lot.Units.Sub(toSell)
		toSell = decimal.Zero
		if remainder.GreaterThan(Epsilon) {
			remaining = append(remaining, &Lot{
				Units:     remainder,
				Nav:       lot.Nav,
				EventTime: lot.EventTime,
				TxID:      lot.TxID,
			})
		}
	}

	if toSell.GreaterThan(Epsilon) {
		return decimal.Zero, nil, ErrInsufficientUnits
	}

	return realized, remaining, nil
}

// ReplayPosition folds the transaction log into a position aggregate.
//
// BUY adds units and cost and re-derives the average NAV; SELL reduces
// units and re-prices the invested value at the surviving average so the
// average NAV itself never moves on a sale.
func ReplayPosition(portfolioID uuid.UUID, schemeCode int, transactions []*Transaction) *Position {
	pos := &Position{
		PortfolioID:   portfolioID,
		SchemeCode:    schemeCode,
		TotalUnits:    decimal.Zero,
		InvestedValue: decimal.Zero,
		AvgNav:        decimal.Zero,
	}

	for _, trx := range transactions {
		switch trx.Kind {
		case BuyTransaction:
			pos.TotalUnits = pos.TotalUnits.Add(trx.Units)
			pos.InvestedValue = pos.InvestedValue.Add(trx.Amount)
			if pos.TotalUnits.GreaterThan(Epsilon) {
				pos.AvgNav = pos.InvestedValue.Div(pos.TotalUnits)
			}
		case SellTransaction:
			pos.TotalUnits = pos.TotalUnits.Sub(trx.Units)
			if pos.TotalUnits.LessThanOrEqual(Epsilon) {
				pos.TotalUnits = decimal.Zero
				pos.InvestedValue = decimal.Zero
			} else {
				pos.InvestedValue = pos.TotalUnits.Mul(pos.AvgNav)
			}
		}
	}

	return pos
}

// UnitsAtDate replays the log up to the end of `date` (inclusive) and
// returns the units held at that instant.
func UnitsAtDate(transactions []*Transaction, date time.Time) decimal.Decimal {
	cutoff := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
	units := decimal.Zero
	for _, trx := range transactions {
		if trx.EventTime.After(cutoff) {
			break
		}
		switch trx.Kind {
		case BuyTransaction:
			units = units.Add(trx.Units)
		case SellTransaction:
			units = units.Sub(trx.Units)
		}
	}
	if units.LessThanOrEqual(Epsilon) {
		return decimal.Zero
	}
	return units
}
