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

package scheme_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/jackc/pgx/v4"
	"github.com/pashagolub/pgxmock"

	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/pgxmockhelper"
	"github.com/fundbook/mf-api/quote"
	"github.com/fundbook/mf-api/scheme"
)

type stubLister struct {
	funds []quote.Fund
	err   error
}

func (s *stubLister) ListFunds(_ context.Context) ([]quote.Fund, error) {
	return s.funds, s.err
}

var _ = Describe("Scheme catalog", func() {
	var (
		dbPool pgxmock.PgxConnIface
		ctx    context.Context
		err    error
	)

	BeforeEach(func() {
		ctx = context.Background()
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
	})

	Describe("Get", func() {
		It("loads a catalog entry", func() {
			pgxmockhelper.MockSchemeGet(dbPool, 152075, "Test Growth Fund", "Test AMC", "Open Ended", "Equity")

			s, err := scheme.Get(ctx, 152075)
			Expect(err).To(BeNil())
			Expect(s.SchemeName).To(Equal("Test Growth Fund"))
			Expect(s.FundHouse).To(Equal("Test AMC"))
		})

		It("reports a missing scheme", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT scheme_code, scheme_name, fund_house, scheme_type, scheme_category FROM scheme").
				WithArgs(999999).
				WillReturnError(pgx.ErrNoRows)
			dbPool.ExpectRollback()

			_, err := scheme.Get(ctx, 999999)
			Expect(err).To(MatchError(scheme.ErrNotFound))
		})
	})

	Describe("SeedFromProvider", func() {
		It("filters out codes outside the provider namespace", func() {
			lister := &stubLister{funds: []quote.Fund{
				{SchemeCode: 152075, SchemeName: "Test Growth Fund", FundHouse: "Test AMC"},
				{SchemeCode: 42, SchemeName: "Bogus", FundHouse: "Nobody"},
				{SchemeCode: 100027, SchemeName: "Another Fund", FundHouse: "Other AMC"},
			}}

			dbPool.ExpectBegin()
			dbPool.ExpectExec("INSERT INTO scheme").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO scheme").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			numSchemes, err := scheme.SeedFromProvider(ctx, lister)
			Expect(err).To(BeNil())
			Expect(numSchemes).To(Equal(2))
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})

		It("propagates provider failures", func() {
			lister := &stubLister{err: quote.ErrTransport}
			_, err := scheme.SeedFromProvider(ctx, lister)
			Expect(err).To(MatchError(quote.ErrTransport))
		})
	})
})
