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

package quote

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransport = errors.New("provider request failed")
	ErrParse     = errors.New("could not parse provider payload")
	ErrNoData    = errors.New("provider returned no data")
	ErrBadScheme = errors.New("scheme code out of range")
)

// Meta is fund metadata as reported by the provider
type Meta struct {
	FundHouse      string `json:"fund_house"`
	SchemeType     string `json:"scheme_type"`
	SchemeCategory string `json:"scheme_category"`
	SchemeName     string `json:"scheme_name"`
	SchemeCode     int    `json:"scheme_code"`
}

// NavPoint is a single published NAV for a trading day
type NavPoint struct {
	Date time.Time
	Nav  decimal.Decimal
}

// Quote is the latest published NAV for a scheme
type Quote struct {
	SchemeCode int
	Nav        decimal.Decimal
	Date       time.Time
	Meta       Meta
}

// Fund is an entry of the provider's full fund listing
type Fund struct {
	SchemeCode int    `json:"schemeCode"`
	SchemeName string `json:"schemeName"`
	FundHouse  string `json:"fundHouse"`
}

// parseNavDate normalizes the provider's DD-MM-YYYY dates to UTC midnight
func parseNavDate(s string) (time.Time, error) {
	dt, err := time.Parse("02-01-2006", s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(dt.Year(), dt.Month(), dt.Day(), 0, 0, 0, 0, time.UTC), nil
}
