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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fundbook/mf-api/portfolio"
)

var _ = Describe("Valuation series metrics", func() {
	day := func(offset int) time.Time {
		return time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
	}

	It("summarizes day-over-day returns", func() {
		series := []portfolio.HistoryPoint{
			{Date: day(0), Value: dec("100")},
			{Date: day(1), Value: dec("110")},
			{Date: day(2), Value: dec("99")},
			{Date: day(3), Value: dec("108.9")},
		}

		metrics := portfolio.ComputeMetrics(series)
		Expect(metrics.NumDays).To(Equal(4))
		Expect(metrics.MeanDailyReturn).To(BeNumerically("~", 0.0333, 0.001))
		Expect(metrics.BestDay).To(BeNumerically("~", 0.1, 1e-9))
		Expect(metrics.WorstDay).To(BeNumerically("~", -0.1, 1e-9))
		Expect(metrics.MaxDrawDown).To(BeNumerically("~", -0.1, 1e-9))
		Expect(metrics.TotalReturn).To(BeNumerically("~", 0.089, 1e-9))
		Expect(metrics.Volatility).To(BeNumerically(">", 0))
	})

	It("skips days before the portfolio held anything", func() {
		series := []portfolio.HistoryPoint{
			{Date: day(0), Value: dec("0")},
			{Date: day(1), Value: dec("0")},
			{Date: day(2), Value: dec("100")},
			{Date: day(3), Value: dec("105")},
		}

		metrics := portfolio.ComputeMetrics(series)
		Expect(metrics.NumDays).To(Equal(2))
		Expect(metrics.TotalReturn).To(BeNumerically("~", 0.05, 1e-9))
	})

	It("reports zeros for a series too short to have returns", func() {
		metrics := portfolio.ComputeMetrics([]portfolio.HistoryPoint{{Date: day(0), Value: dec("100")}})
		Expect(metrics.NumDays).To(Equal(1))
		Expect(metrics.MeanDailyReturn).To(BeZero())
		Expect(metrics.Volatility).To(BeZero())
	})
})
