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

package refresh_test

import (
	"context"
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
	"github.com/fundbook/mf-api/refresh"
)

type flakyQuotes struct {
	failing map[int]error
	history []quote.NavPoint
	calls   []int
}

func (f *flakyQuotes) FetchLatest(_ context.Context, schemeCode int) (*quote.Quote, error) {
	f.calls = append(f.calls, schemeCode)
	if err, ok := f.failing[schemeCode]; ok {
		return nil, err
	}
	return &quote.Quote{
		SchemeCode: schemeCode,
		Nav:        decimal.RequireFromString("101.5"),
		Date:       time.Date(2024, time.August, 21, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (f *flakyQuotes) FetchHistory(_ context.Context, _ int) ([]quote.NavPoint, error) {
	if len(f.history) == 0 {
		return nil, quote.ErrNoData
	}
	return f.history, nil
}

var _ = Describe("Refresh engine", func() {
	var (
		dbPool pgxmock.PgxConnIface
		quotes *flakyQuotes
		engine *refresh.Engine
		err    error
	)

	navDate := time.Date(2024, time.August, 21, 0, 0, 0, 0, time.UTC)

	// one fully refreshed scheme: latest upsert, series check that finds a
	// stored row, then today's history point
	mockSchemeRefresh := func(schemeCode int) {
		pgxmockhelper.MockLatestNavUpsert(dbPool)
		pgxmockhelper.MockNavHistory(dbPool, schemeCode,
			[]time.Time{navDate}, []string{"101.5"})
		pgxmockhelper.MockHistoryUpsert(dbPool)
	}

	BeforeEach(func() {
		viper.Set("nav.request_delay_ms", 1)
		viper.Set("nav.batch_delay_ms", 1)
		viper.Set("nav.batch_size", 2)

		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		quotes = &flakyQuotes{failing: map[int]error{}}
		engine = refresh.NewEngine(quotes, navstore.NewStore(quotes))
	})

	AfterEach(func() {
		viper.Set("nav.request_delay_ms", 0)
		viper.Set("nav.batch_delay_ms", 0)
		viper.Set("nav.batch_size", 0)
	})

	It("refreshes every held scheme", func() {
		pgxmockhelper.MockHeldSchemes(dbPool, []int{152001, 152002, 152003})
		mockSchemeRefresh(152001)
		mockSchemeRefresh(152002)
		mockSchemeRefresh(152003)

		summary, err := engine.Run(context.Background())
		Expect(err).To(BeNil())
		Expect(summary.Total).To(Equal(3))
		Expect(summary.Successes).To(Equal([]int{152001, 152002, 152003}))
		Expect(summary.Failures).To(BeEmpty())
		Expect(quotes.calls).To(Equal([]int{152001, 152002, 152003}))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("counts a failed scheme and keeps sweeping", func() {
		pgxmockhelper.MockHeldSchemes(dbPool, []int{152001, 152002, 152003})
		quotes.failing[152002] = quote.ErrTransport

		// schemes 152001 and 152003 still refresh in full
		mockSchemeRefresh(152001)
		mockSchemeRefresh(152003)

		summary, err := engine.Run(context.Background())
		Expect(err).To(BeNil())
		Expect(summary.Total).To(Equal(3))
		Expect(summary.Successes).To(Equal([]int{152001, 152003}))
		Expect(summary.Failures).To(Equal([]refresh.SchemeFailure{
			{SchemeCode: 152002, Error: quote.ErrTransport.Error()},
		}))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("backfills history for a scheme with no stored series", func() {
		pgxmockhelper.MockHeldSchemes(dbPool, []int{152001})
		quotes.history = []quote.NavPoint{
			{Date: navDate, Nav: decimal.RequireFromString("101.5")},
			{Date: navDate.AddDate(0, 0, -1), Nav: decimal.RequireFromString("100.25")},
		}

		pgxmockhelper.MockLatestNavUpsert(dbPool)
		pgxmockhelper.MockNavHistory(dbPool, 152001, nil, nil)
		// backfill writes the provider series, then the sweep records
		// today's point
		pgxmockhelper.MockHistoryUpsert(dbPool)
		pgxmockhelper.MockHistoryUpsert(dbPool)
		pgxmockhelper.MockHistoryUpsert(dbPool)

		summary, err := engine.Run(context.Background())
		Expect(err).To(BeNil())
		Expect(summary.Successes).To(Equal([]int{152001}))
		Expect(summary.Failures).To(BeEmpty())
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("does nothing when no positions are open", func() {
		pgxmockhelper.MockHeldSchemes(dbPool, []int{})

		summary, err := engine.Run(context.Background())
		Expect(err).To(BeNil())
		Expect(summary.Total).To(Equal(0))
	})

	It("stops early when the context is cancelled", func() {
		pgxmockhelper.MockHeldSchemes(dbPool, []int{152001, 152002})
		mockSchemeRefresh(152001)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			// let the first scheme complete, then cancel during its delay
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()

		viper.Set("nav.request_delay_ms", 250)
		summary, err := engine.Run(ctx)
		Expect(err).To(MatchError(context.Canceled))
		Expect(summary.Successes).To(Equal([]int{152001}))
	})

	It("stops an asynchronous sweep once its context is cancelled", func() {
		pgxmockhelper.MockHeldSchemes(dbPool, []int{152001})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(engine.RunAsync(ctx)).To(Succeed())

		// the background sweep exits without fetching and releases the
		// sentinel; a follow-up synchronous run then gets past it
		pgxmockhelper.MockHeldSchemes(dbPool, []int{152001})
		Eventually(func() error {
			_, err := engine.Run(ctx)
			return err
		}).ShouldNot(MatchError(refresh.ErrAlreadyRunning))

		Expect(quotes.calls).To(BeEmpty())
	})
})

var _ = Describe("Refresh schedule", func() {
	It("parses a five field cron spec", func() {
		schedule, err := refresh.ParseSchedule("30 23 * * *")
		Expect(err).To(BeNil())
		Expect(schedule.TimeSpec).To(Equal("30 23 * * *"))

		next := schedule.NextRun(time.Date(2024, time.August, 21, 12, 0, 0, 0, schedule.Timezone))
		Expect(next.Hour()).To(Equal(23))
		Expect(next.Minute()).To(Equal(30))
	})

	It("falls back to the nightly default", func() {
		viper.Set("cron.schedule", "")
		schedule, err := refresh.ParseSchedule("")
		Expect(err).To(BeNil())
		Expect(schedule.TimeSpec).To(Equal(refresh.DefaultSchedule))
	})

	It("rejects malformed specs", func() {
		_, err := refresh.ParseSchedule("not a cron line")
		Expect(err).ToNot(BeNil())
	})
})
