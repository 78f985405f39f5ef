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
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundbook/mf-api/portfolio"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	Expect(err).To(BeNil())
	return d
}

var _ = Describe("FIFO lot accounting", func() {
	var (
		portfolioID uuid.UUID
		t0          time.Time
		txID        int64
	)

	buy := func(units, nav string, offsetDays int) *portfolio.Transaction {
		txID++
		return &portfolio.Transaction{
			TxID:        txID,
			PortfolioID: portfolioID,
			Kind:        portfolio.BuyTransaction,
			Units:       dec(units),
			Nav:         dec(nav),
			Amount:      dec(units).Mul(dec(nav)),
			EventTime:   t0.AddDate(0, 0, offsetDays),
		}
	}

	sell := func(units, nav string, offsetDays int) *portfolio.Transaction {
		txID++
		return &portfolio.Transaction{
			TxID:        txID,
			PortfolioID: portfolioID,
			Kind:        portfolio.SellTransaction,
			Units:       dec(units),
			Nav:         dec(nav),
			Amount:      dec(units).Mul(dec(nav)),
			EventTime:   t0.AddDate(0, 0, offsetDays),
		}
	}

	BeforeEach(func() {
		portfolioID = uuid.New()
		t0 = time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)
		txID = 0
	})

	Describe("a single buy and partial sell", func() {
		It("realizes the gain against the only lot", func() {
			lots, err := portfolio.OpenLots([]*portfolio.Transaction{buy("100", "10.00", 0)})
			Expect(err).To(BeNil())
			Expect(lots).To(HaveLen(1))

			realized, remaining, err := portfolio.ConsumeLots(lots, dec("40"), dec("12.50"))
			Expect(err).To(BeNil())
			Expect(realized.Equal(dec("100"))).To(BeTrue())
			Expect(remaining).To(HaveLen(1))
			Expect(remaining[0].Units.Equal(dec("60"))).To(BeTrue())
		})

		It("keeps the average nav across the sell", func() {
			log := []*portfolio.Transaction{buy("100", "10.00", 0), sell("40", "12.50", 31)}
			pos := portfolio.ReplayPosition(portfolioID, 152075, log)
			Expect(pos.TotalUnits.Equal(dec("60"))).To(BeTrue())
			Expect(pos.InvestedValue.Equal(dec("600"))).To(BeTrue())
			Expect(pos.AvgNav.Equal(dec("10"))).To(BeTrue())
		})
	})

	Describe("a sell spanning multiple lots", func() {
		It("consumes the oldest lot first", func() {
			lots, err := portfolio.OpenLots([]*portfolio.Transaction{
				buy("50", "10", 0),
				buy("50", "14", 1),
			})
			Expect(err).To(BeNil())
			Expect(lots).To(HaveLen(2))

			// 50 units at 10 then 20 units at 14
			realized, remaining, err := portfolio.ConsumeLots(lots, dec("70"), dec("15"))
			Expect(err).To(BeNil())
			Expect(realized.Equal(dec("270"))).To(BeTrue())
			Expect(remaining).To(HaveLen(1))
			Expect(remaining[0].Units.Equal(dec("30"))).To(BeTrue())
			Expect(remaining[0].Nav.Equal(dec("14"))).To(BeTrue())
		})

		It("preserves the blended average nav in the position", func() {
			log := []*portfolio.Transaction{
				buy("50", "10", 0),
				buy("50", "14", 1),
				sell("70", "15", 2),
			}
			pos := portfolio.ReplayPosition(portfolioID, 152075, log)
			Expect(pos.TotalUnits.Equal(dec("30"))).To(BeTrue())
			// avg of the two buys is 12 and does not move on the sell
			Expect(pos.AvgNav.Equal(dec("12"))).To(BeTrue())
			Expect(pos.InvestedValue.Equal(dec("360"))).To(BeTrue())
		})

		It("derives the open queue net of earlier sells", func() {
			lots, err := portfolio.OpenLots([]*portfolio.Transaction{
				buy("50", "10", 0),
				buy("50", "14", 1),
				sell("70", "15", 2),
			})
			Expect(err).To(BeNil())
			Expect(lots).To(HaveLen(1))
			Expect(lots[0].Units.Equal(dec("30"))).To(BeTrue())
			Expect(lots[0].Nav.Equal(dec("14"))).To(BeTrue())
		})
	})

	Describe("overselling", func() {
		It("is rejected without consuming anything", func() {
			lots, err := portfolio.OpenLots([]*portfolio.Transaction{buy("30", "10", 0)})
			Expect(err).To(BeNil())

			_, _, err = portfolio.ConsumeLots(lots, dec("31"), dec("12"))
			Expect(err).To(MatchError(portfolio.ErrInsufficientUnits))
			Expect(lots[0].Units.Equal(dec("30"))).To(BeTrue())
		})

		It("tolerates a request within epsilon of the holdings", func() {
			lots, err := portfolio.OpenLots([]*portfolio.Transaction{buy("30", "10", 0)})
			Expect(err).To(BeNil())

			_, remaining, err := portfolio.ConsumeLots(lots, dec("30.0000005"), dec("12"))
			Expect(err).To(BeNil())
			Expect(remaining).To(BeEmpty())
		})
	})

	Describe("selling the whole position", func() {
		It("zeroes out the position", func() {
			log := []*portfolio.Transaction{
				buy("10", "20", 0),
				sell("10", "25", 1),
			}
			pos := portfolio.ReplayPosition(portfolioID, 152075, log)
			Expect(pos.TotalUnits.IsZero()).To(BeTrue())
			Expect(pos.InvestedValue.IsZero()).To(BeTrue())
		})
	})

	Describe("fractional units over a long chain", func() {
		It("does not accumulate rounding drift", func() {
			log := []*portfolio.Transaction{}
			for i := 0; i < 200; i++ {
				log = append(log, buy("0.333", "10.1234", i))
			}
			for i := 0; i < 100; i++ {
				log = append(log, sell("0.333", "11.5", 200+i))
			}

			pos := portfolio.ReplayPosition(portfolioID, 152075, log)
			Expect(pos.TotalUnits.Sub(dec("33.3")).Abs().LessThanOrEqual(portfolio.Epsilon)).To(BeTrue())

			lots, err := portfolio.OpenLots(log)
			Expect(err).To(BeNil())
			total := decimal.Zero
			for _, lot := range lots {
				total = total.Add(lot.Units)
			}
			Expect(total.Sub(pos.TotalUnits).Abs().LessThanOrEqual(portfolio.Epsilon)).To(BeTrue())
		})
	})

	Describe("units held on a date", func() {
		It("replays only transactions up to the end of the day", func() {
			log := []*portfolio.Transaction{
				buy("100", "10", 0),
				sell("40", "12", 10),
			}

			Expect(portfolio.UnitsAtDate(log, t0.AddDate(0, 0, -1)).IsZero()).To(BeTrue())
			Expect(portfolio.UnitsAtDate(log, t0).Equal(dec("100"))).To(BeTrue())
			Expect(portfolio.UnitsAtDate(log, t0.AddDate(0, 0, 5)).Equal(dec("100"))).To(BeTrue())
			Expect(portfolio.UnitsAtDate(log, t0.AddDate(0, 0, 10)).Equal(dec("60"))).To(BeTrue())
		})
	})
})
