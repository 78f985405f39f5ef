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

package portfolio_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock"

	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/navstore"
	"github.com/fundbook/mf-api/pgxmockhelper"
	"github.com/fundbook/mf-api/portfolio"
)

var _ = Describe("Portfolio valuation history", func() {
	var (
		dbPool pgxmock.PgxConnIface
		engine *portfolio.Engine
		ctx    context.Context
		err    error
	)

	day := func(d int) time.Time {
		return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
	}

	BeforeEach(func() {
		ctx = context.Background()
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
		engine = portfolio.NewEngine(navstore.NewStore(nil))
	})

	It("serializes valuation items and history points with their wire names", func() {
		raw, err := json.Marshal(portfolio.ValuationItem{NavMissing: true})
		Expect(err).To(BeNil())
		Expect(string(raw)).To(ContainSubstring(`"navMissing":true`))

		raw, err = json.Marshal(portfolio.HistoryPoint{Date: day(5)})
		Expect(err).To(BeNil())
		Expect(string(raw)).To(ContainSubstring(`"totalValue"`))
		Expect(string(raw)).To(ContainSubstring(`"unrealizedPL"`))
	})

	It("rejects an inverted date range", func() {
		_, err := engine.History(ctx, "U1", day(10), day(4))
		Expect(err).To(MatchError(portfolio.ErrInvalidDateRange))
	})

	It("prices each day at the nav on or before it", func() {
		portfolioID := uuid.New()
		buyTime := time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC)

		dbPool.ExpectBegin()
		dbPool.ExpectQuery("SELECT id, scheme_code, opened_at, opening_nav::text FROM portfolio").
			WithArgs("U1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "scheme_code", "opened_at", "opening_nav"}).
				AddRow(portfolioID, 152090, buyTime, "10"))
		dbPool.ExpectQuery("SELECT tx_id, kind, units::text, nav::text, amount::text, event_time, realized_pl::text").
			WithArgs(portfolioID).
			WillReturnRows(pgxmock.NewRows([]string{"tx_id", "kind", "units", "nav", "amount", "event_time", "realized_pl"}).
				AddRow(int64(1), portfolio.BuyTransaction, "100", "10", "1000", buyTime, nil))
		dbPool.ExpectCommit()

		// history only covers Jan 5-7; later days degrade to the Jan 7 nav
		pgxmockhelper.MockNavHistory(dbPool, 152090,
			[]time.Time{day(7), day(6), day(5)},
			[]string{"12", "11", "10"})

		series, err := engine.History(ctx, "U1", day(4), day(10))
		Expect(err).To(BeNil())
		Expect(series).To(HaveLen(7))

		Expect(series[0].Date).To(Equal(day(4)))
		Expect(series[0].Value.IsZero()).To(BeTrue())

		Expect(series[1].Value.Equal(dec("1000"))).To(BeTrue())
		Expect(series[2].Value.Equal(dec("1100"))).To(BeTrue())
		Expect(series[3].Value.Equal(dec("1200"))).To(BeTrue())

		for idx := 4; idx <= 6; idx++ {
			Expect(series[idx].Value.Equal(dec("1200"))).To(BeTrue())
		}

		Expect(series[1].InvestedValue.Equal(dec("1000"))).To(BeTrue())
		Expect(series[1].UnrealizedPL.IsZero()).To(BeTrue())
		Expect(series[3].UnrealizedPL.Equal(dec("200"))).To(BeTrue())
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("falls back to the average purchase nav when no history exists", func() {
		portfolioID := uuid.New()
		buyTime := time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC)

		dbPool.ExpectBegin()
		dbPool.ExpectQuery("SELECT id, scheme_code, opened_at, opening_nav::text FROM portfolio").
			WithArgs("U1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "scheme_code", "opened_at", "opening_nav"}).
				AddRow(portfolioID, 152091, buyTime, "10"))
		dbPool.ExpectQuery("SELECT tx_id, kind, units::text, nav::text, amount::text, event_time, realized_pl::text").
			WithArgs(portfolioID).
			WillReturnRows(pgxmock.NewRows([]string{"tx_id", "kind", "units", "nav", "amount", "event_time", "realized_pl"}).
				AddRow(int64(1), portfolio.BuyTransaction, "100", "10", "1000", buyTime, nil))
		dbPool.ExpectCommit()

		pgxmockhelper.MockNavHistory(dbPool, 152091, nil, nil)

		series, err := engine.History(ctx, "U1", day(5), day(6))
		Expect(err).To(BeNil())
		Expect(series).To(HaveLen(2))
		Expect(series[0].Value.Equal(dec("1000"))).To(BeTrue())
		Expect(series[1].Value.Equal(dec("1000"))).To(BeTrue())
	})
})
