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

package navstore_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/navstore"
	"github.com/fundbook/mf-api/pgxmockhelper"
	"github.com/fundbook/mf-api/quote"
)

type stubQuotes struct {
	latest  *quote.Quote
	history []quote.NavPoint
	err     error
}

func (s *stubQuotes) FetchLatest(_ context.Context, _ int) (*quote.Quote, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.latest, nil
}

func (s *stubQuotes) FetchHistory(_ context.Context, _ int) ([]quote.NavPoint, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.history, nil
}

var _ = Describe("NavStore", func() {
	var (
		dbPool pgxmock.PgxConnIface
		quotes *stubQuotes
		store  *navstore.Store
		ctx    context.Context
		err    error
	)

	BeforeEach(func() {
		ctx = context.Background()
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		quotes = &stubQuotes{}
		store = navstore.NewStore(quotes)
	})

	Describe("history cap", func() {
		It("defaults to 30 days", func() {
			viper.Set("nav.history_cap", 0)
			Expect(navstore.HistoryCap()).To(Equal(navstore.DefaultHistoryCap))
		})

		It("honors the configured cap", func() {
			viper.Set("nav.history_cap", 7)
			Expect(navstore.HistoryCap()).To(Equal(7))
			viper.Set("nav.history_cap", 0)
		})
	})

	Describe("GetLatest", func() {
		It("serves the stored latest nav", func() {
			asOf := time.Date(2024, time.August, 21, 0, 0, 0, 0, time.UTC)
			pgxmockhelper.MockLatestNav(dbPool, 152001, "123.4567", asOf, asOf)

			latest, err := store.GetLatest(ctx, 152001)
			Expect(err).To(BeNil())
			Expect(latest.Nav.Equal(decimal.RequireFromString("123.4567"))).To(BeTrue())
			Expect(latest.AsOf).To(Equal(asOf))
		})

		It("caches the stored row for subsequent lookups", func() {
			asOf := time.Date(2024, time.August, 21, 0, 0, 0, 0, time.UTC)
			pgxmockhelper.MockLatestNav(dbPool, 152002, "55.5", asOf, asOf)

			_, err := store.GetLatest(ctx, 152002)
			Expect(err).To(BeNil())

			// no further database expectations; the second read is cache-only
			latest, err := store.GetLatest(ctx, 152002)
			Expect(err).To(BeNil())
			Expect(latest.Nav.Equal(decimal.RequireFromString("55.5"))).To(BeTrue())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})

		It("reads through to the provider on a store miss", func() {
			asOf := time.Date(2024, time.August, 21, 0, 0, 0, 0, time.UTC)
			quotes.latest = &quote.Quote{
				SchemeCode: 152003,
				Nav:        decimal.RequireFromString("99.25"),
				Date:       asOf,
				Meta:       quote.Meta{SchemeName: "Test Growth Fund", FundHouse: "Test AMC"},
			}

			pgxmockhelper.MockLatestNavMiss(dbPool, 152003)
			pgxmockhelper.MockLatestNavUpsert(dbPool)
			pgxmockhelper.MockHistoryUpsert(dbPool)
			pgxmockhelper.MockSchemeUpsert(dbPool)

			latest, err := store.GetLatest(ctx, 152003)
			Expect(err).To(BeNil())
			Expect(latest.Nav.Equal(decimal.RequireFromString("99.25"))).To(BeTrue())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})

		It("reports the nav as unavailable when the provider also fails", func() {
			quotes.err = quote.ErrTransport

			pgxmockhelper.MockLatestNavMiss(dbPool, 152004)

			_, err := store.GetLatest(ctx, 152004)
			Expect(errors.Is(err, navstore.ErrNavUnavailable)).To(BeTrue())
		})
	})

	Describe("History", func() {
		It("returns entries newest first", func() {
			dates := []time.Time{
				time.Date(2024, time.August, 21, 0, 0, 0, 0, time.UTC),
				time.Date(2024, time.August, 20, 0, 0, 0, 0, time.UTC),
				time.Date(2024, time.August, 19, 0, 0, 0, 0, time.UTC),
			}
			pgxmockhelper.MockNavHistory(dbPool, 152005, dates, []string{"12.3", "12.1", "12.0"})

			entries, err := store.History(ctx, 152005, 3)
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(3))
			Expect(entries[0].Date.After(entries[1].Date)).To(BeTrue())
			Expect(entries[2].Nav.Equal(decimal.RequireFromString("12.0"))).To(BeTrue())
		})
	})

	Describe("BackfillHistory", func() {
		It("stores the capped series oldest first", func() {
			viper.Set("nav.history_cap", 2)
			defer viper.Set("nav.history_cap", 0)

			quotes.history = []quote.NavPoint{
				{Date: time.Date(2024, time.August, 21, 0, 0, 0, 0, time.UTC), Nav: decimal.RequireFromString("12.3")},
				{Date: time.Date(2024, time.August, 20, 0, 0, 0, 0, time.UTC), Nav: decimal.RequireFromString("12.1")},
				{Date: time.Date(2024, time.August, 19, 0, 0, 0, 0, time.UTC), Nav: decimal.RequireFromString("12.0")},
			}

			// only the two newest entries are written
			pgxmockhelper.MockHistoryUpsert(dbPool)
			pgxmockhelper.MockHistoryUpsert(dbPool)

			Expect(store.BackfillHistory(ctx, 152008)).To(Succeed())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})

		It("reports an empty provider series", func() {
			quotes.history = []quote.NavPoint{}
			Expect(store.BackfillHistory(ctx, 152009)).To(MatchError(navstore.ErrNoHistory))
		})
	})
})
