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

// Package pgxmockhelper wires common expectation patterns for the store
// packages. Each store call runs Begin / work / Commit, so every helper
// brackets its expectations the same way.
package pgxmockhelper

import (
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/pashagolub/pgxmock"
)

// MockLatestNav expects a latest_nav lookup and returns one row
func MockLatestNav(db pgxmock.PgxConnIface, schemeCode int, nav string, asOf, updatedAt time.Time) {
	db.ExpectBegin()
	db.ExpectQuery("SELECT nav::text, as_of, updated_at FROM latest_nav").
		WithArgs(schemeCode).
		WillReturnRows(pgxmock.NewRows([]string{"nav", "as_of", "updated_at"}).
			AddRow(nav, asOf, updatedAt))
	db.ExpectCommit()
}

// MockLatestNavMiss expects a latest_nav lookup that finds nothing
func MockLatestNavMiss(db pgxmock.PgxConnIface, schemeCode int) {
	db.ExpectBegin()
	db.ExpectQuery("SELECT nav::text, as_of, updated_at FROM latest_nav").
		WithArgs(schemeCode).
		WillReturnError(pgx.ErrNoRows)
	db.ExpectRollback()
}

// MockLatestNavUpsert expects the monotone latest_nav write
func MockLatestNavUpsert(db pgxmock.PgxConnIface) {
	db.ExpectBegin()
	db.ExpectExec("INSERT INTO latest_nav").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	db.ExpectCommit()
}

// MockHistoryUpsert expects a nav_history write followed by the trim
func MockHistoryUpsert(db pgxmock.PgxConnIface) {
	db.ExpectBegin()
	db.ExpectExec("INSERT INTO nav_history").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	db.ExpectExec("DELETE FROM nav_history").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	db.ExpectCommit()
}

// MockSchemeUpsert expects one catalog upsert
func MockSchemeUpsert(db pgxmock.PgxConnIface) {
	db.ExpectBegin()
	db.ExpectExec("INSERT INTO scheme").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	db.ExpectCommit()
}

// MockNavHistory expects a history read and returns the supplied series.
// dates and navs run parallel and should be ordered newest first.
func MockNavHistory(db pgxmock.PgxConnIface, schemeCode int, dates []time.Time, navs []string) {
	rows := pgxmock.NewRows([]string{"nav_date", "nav"})
	for idx := range dates {
		rows.AddRow(dates[idx], navs[idx])
	}
	db.ExpectBegin()
	db.ExpectQuery("SELECT nav_date, nav::text FROM nav_history").
		WillReturnRows(rows)
	db.ExpectCommit()
}

// MockHeldSchemes expects the refresh sweep's position scan
func MockHeldSchemes(db pgxmock.PgxConnIface, schemeCodes []int) {
	rows := pgxmock.NewRows([]string{"scheme_code"})
	for _, schemeCode := range schemeCodes {
		rows.AddRow(schemeCode)
	}
	db.ExpectBegin()
	db.ExpectQuery("SELECT DISTINCT scheme_code FROM position").
		WillReturnRows(rows)
	db.ExpectCommit()
}

// MockSchemeGet expects a catalog read and returns one scheme row
func MockSchemeGet(db pgxmock.PgxConnIface, schemeCode int, name, fundHouse, schemeType, category string) {
	db.ExpectBegin()
	db.ExpectQuery("SELECT scheme_code, scheme_name, fund_house, scheme_type, scheme_category FROM scheme").
		WithArgs(schemeCode).
		WillReturnRows(pgxmock.NewRows([]string{"scheme_code", "scheme_name", "fund_house", "scheme_type", "scheme_category"}).
			AddRow(schemeCode, name, fundHouse, schemeType, category))
	db.ExpectCommit()
}
