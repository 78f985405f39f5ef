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
	"math"

	"gonum.org/v1/gonum/stat"
)

// SeriesMetrics summarizes a daily valuation series. Returns are simple
// day-over-day percentage changes; volatility is their sample standard
// deviation. All values are fractions, not percentages.
type SeriesMetrics struct {
	MeanDailyReturn float64 `json:"meanDailyReturn"`
	Volatility      float64 `json:"volatility"`
	MaxDrawDown     float64 `json:"maxDrawDown"`
	BestDay         float64 `json:"bestDay"`
	WorstDay        float64 `json:"worstDay"`
	TotalReturn     float64 `json:"totalReturn"`
	NumDays         int     `json:"numDays"`
}

// ComputeMetrics derives summary statistics from a valuation series.
// Days valued at zero (nothing held yet) are skipped so a portfolio's
// opening day does not register as an infinite gain.
func ComputeMetrics(series []HistoryPoint) *SeriesMetrics {
	values := make([]float64, 0, len(series))
	for _, point := range series {
		v, _ := point.Value.Float64()
		if v > 0 {
			values = append(values, v)
		}
	}

	metrics := SeriesMetrics{NumDays: len(values)}
	if len(values) < 2 {
		return &metrics
	}

	rets := make([]float64, 0, len(values)-1)
	for idx := 1; idx < len(values); idx++ {
		rets = append(rets, values[idx]/values[idx-1]-1.0)
	}

	metrics.MeanDailyReturn = stat.Mean(rets, nil)
	metrics.Volatility = stat.StdDev(rets, nil)
	metrics.TotalReturn = values[len(values)-1]/values[0] - 1.0

	metrics.BestDay = math.Inf(-1)
	metrics.WorstDay = math.Inf(1)
	for _, r := range rets {
		metrics.BestDay = math.Max(metrics.BestDay, r)
		metrics.WorstDay = math.Min(metrics.WorstDay, r)
	}

	peak := values[0]
	for _, v := range values {
		peak = math.Max(peak, v)
		dd := v/peak - 1.0
		metrics.MaxDrawDown = math.Min(metrics.MaxDrawDown, dd)
	}

	return &metrics
}
