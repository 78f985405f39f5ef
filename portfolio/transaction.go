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
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/zeebo/blake3"
)

const (
	BuyTransaction  = "BUY"
	SellTransaction = "SELL"
)

var (
	ErrGenerateHash = errors.New("could not create transaction hash")
)

// Transaction is one append-only log entry. Entries are never updated or
// deleted; per portfolio they are totally ordered by (event_time, tx_id).
type Transaction struct {
	TxID        int64           `json:"txId"`
	PortfolioID uuid.UUID       `json:"portfolioId"`
	Kind        string          `json:"kind"`
	Units       decimal.Decimal `json:"units"`
	Nav         decimal.Decimal `json:"nav"`
	Amount      decimal.Decimal `json:"amount"`
	EventTime   time.Time       `json:"time"`
	RealizedPL  decimal.Decimal `json:"realizedPL"`
	HasRealized bool            `json:"-"`
	SourceID    []byte          `json:"-"`
}

// computeSourceID generates a stable hash of the transaction's identifying
// fields. Replaying the same logical event yields the same source id.
func computeSourceID(trx *Transaction) error {
	h := blake3.New()
	payload := fmt.Sprintf("%s:%s:%s:%s:%d",
		trx.PortfolioID.String(), trx.Kind, trx.Units.String(), trx.Nav.String(), trx.EventTime.UnixNano())
	if _, err := h.Write([]byte(payload)); err != nil {
		return ErrGenerateHash
	}
	trx.SourceID = h.Sum(nil)
	return nil
}

func newTransaction(portfolioID uuid.UUID, kind string, units, nav decimal.Decimal, eventTime time.Time) *Transaction {
	t := &Transaction{
		PortfolioID: portfolioID,
		Kind:        kind,
		Units:       units,
		Nav:         nav,
		Amount:      units.Mul(nav),
		EventTime:   eventTime,
	}
	if err := computeSourceID(t); err != nil {
		log.Warn().Stack().Err(err).Str("PortfolioID", portfolioID.String()).Str("Kind", kind).Msg("couldn't compute source id for transaction")
	}
	return t
}

// appendTransaction appends to the log inside the caller's database
// transaction and fills in the assigned tx id.
func appendTransaction(ctx context.Context, trx pgx.Tx, t *Transaction) error {
	var realized interface{}
	if t.HasRealized {
		realized = t.RealizedPL.String()
	}

	sql := `INSERT INTO mf_transaction (portfolio_id, kind, units, nav, amount, event_time, realized_pl, source_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING tx_id`
	return trx.QueryRow(ctx, sql,
		t.PortfolioID, t.Kind, t.Units.String(), t.Nav.String(), t.Amount.String(),
		t.EventTime, realized, t.SourceID).Scan(&t.TxID)
}

// loadTransactions returns the complete log for a portfolio in ascending
// (event_time, tx_id) order; ties on time break by insertion order.
func loadTransactions(ctx context.Context, trx pgx.Tx, portfolioID uuid.UUID) ([]*Transaction, error) {
	sql := `SELECT tx_id, kind, units::text, nav::text, amount::text, event_time, realized_pl::text
		FROM mf_transaction WHERE portfolio_id=$1 ORDER BY event_time ASC, tx_id ASC`
	rows, err := trx.Query(ctx, sql, portfolioID)
	if err != nil {
		return nil, err
	}

	transactions := []*Transaction{}
	for rows.Next() {
		t := Transaction{PortfolioID: portfolioID}
		var unitsStr, navStr, amountStr string
		var realizedStr *string
		if err := rows.Scan(&t.TxID, &t.Kind, &unitsStr, &navStr, &amountStr, &t.EventTime, &realizedStr); err != nil {
			return nil, err
		}
		if t.Units, err = decimal.NewFromString(unitsStr); err != nil {
			return nil, err
		}
		if t.Nav, err = decimal.NewFromString(navStr); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, err
		}
		if realizedStr != nil {
			if t.RealizedPL, err = decimal.NewFromString(*realizedStr); err != nil {
				return nil, err
			}
			t.HasRealized = true
		}
		transactions = append(transactions, &t)
	}

	return transactions, rows.Err()
}

// TransactionPage is one page of a user's transaction history
type TransactionPage struct {
	Transactions []*TransactionView `json:"transactions"`
	Page         int                `json:"page"`
	Limit        int                `json:"limit"`
	Total        int                `json:"total"`
}

// TransactionView adorns a log entry with its scheme for display
type TransactionView struct {
	Transaction
	SchemeCode int    `json:"schemeCode"`
	SchemeName string `json:"schemeName"`
}

// ListTransactions returns a page of the user's transactions, newest
// first, optionally filtered by scheme code and kind.
func ListTransactions(ctx context.Context, trx pgx.Tx, userID string, schemeCode int, kind string, page, limit int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	where := `p.user_id=$1`
	args := []interface{}{userID}
	if schemeCode != 0 {
		args = append(args, schemeCode)
		where += fmt.Sprintf(` AND p.scheme_code=$%d`, len(args))
	}
	if kind != "" {
		args = append(args, kind)
		where += fmt.Sprintf(` AND t.kind=$%d`, len(args))
	}

	countSQL := `SELECT count(*) FROM mf_transaction t JOIN portfolio p ON p.id = t.portfolio_id WHERE ` + where
	result := TransactionPage{Page: page, Limit: limit, Transactions: []*TransactionView{}}
	if err := trx.QueryRow(ctx, countSQL, args...).Scan(&result.Total); err != nil {
		return nil, err
	}

	args = append(args, limit, (page-1)*limit)
	listSQL := fmt.Sprintf(`SELECT t.tx_id, t.portfolio_id, t.kind, t.units::text, t.nav::text, t.amount::text,
		t.event_time, t.realized_pl::text, p.scheme_code, COALESCE(s.scheme_name, '')
		FROM mf_transaction t
		JOIN portfolio p ON p.id = t.portfolio_id
		LEFT JOIN scheme s ON s.scheme_code = p.scheme_code
		WHERE %s ORDER BY t.event_time DESC, t.tx_id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := trx.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		v := TransactionView{}
		var unitsStr, navStr, amountStr string
		var realizedStr *string
		if err := rows.Scan(&v.TxID, &v.PortfolioID, &v.Kind, &unitsStr, &navStr, &amountStr,
			&v.EventTime, &realizedStr, &v.SchemeCode, &v.SchemeName); err != nil {
			return nil, err
		}
		if v.Units, err = decimal.NewFromString(unitsStr); err != nil {
			return nil, err
		}
		if v.Nav, err = decimal.NewFromString(navStr); err != nil {
			return nil, err
		}
		if v.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, err
		}
		if realizedStr != nil {
			if v.RealizedPL, err = decimal.NewFromString(*realizedStr); err != nil {
				return nil, err
			}
			v.HasRealized = true
		}
		result.Transactions = append(result.Transactions, &v)
	}

	return &result, rows.Err()
}

// SourceIDString returns the hex encoded source id
func (trx *Transaction) SourceIDString() string {
	return hex.EncodeToString(trx.SourceID)
}
