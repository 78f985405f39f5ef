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

package handler

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/portfolio"
)

// Portfolio holds the portfolio route handlers and their collaborators
type Portfolio struct {
	Engine *portfolio.Engine
}

type orderRequest struct {
	SchemeCode int             `json:"schemeCode"`
	Units      decimal.Decimal `json:"units"`
}

func parseOrder(c *fiber.Ctx) (*orderRequest, error) {
	req := orderRequest{}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// AddHolding records a BUY at the current NAV, creating the portfolio on
// first purchase
func (h *Portfolio) AddHolding(c *fiber.Ctx) error {
	req, err := parseOrder(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "malformed request body")
	}

	trx, err := h.Engine.Buy(c.Context(), userID(c), req.SchemeCode, req.Units, time.Now().UTC())
	if err != nil {
		return domainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": trx})
}

// SellHolding records a SELL at the current NAV and reports the realized
// gain
func (h *Portfolio) SellHolding(c *fiber.Ctx) error {
	req, err := parseOrder(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "malformed request body")
	}

	trx, err := h.Engine.Sell(c.Context(), userID(c), req.SchemeCode, req.Units, time.Now().UTC())
	if err != nil {
		return domainError(c, err)
	}

	return dataResponse(c, fiber.Map{
		"transaction": trx,
		"realizedPL":  trx.RealizedPL,
	})
}

// RemoveHolding deletes a portfolio that has no transactions
func (h *Portfolio) RemoveHolding(c *fiber.Ctx) error {
	schemeCode, err := c.ParamsInt("schemeCode")
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "scheme code must be an integer")
	}

	if err := h.Engine.Remove(c.Context(), userID(c), schemeCode); err != nil {
		return domainError(c, err)
	}

	return dataResponse(c, fiber.Map{"removed": schemeCode})
}

// Value returns the current mark-to-market valuation of all holdings
func (h *Portfolio) Value(c *fiber.Ctx) error {
	report, err := h.Engine.Value(c.Context(), userID(c))
	if err != nil {
		return domainError(c, err)
	}
	return dataResponse(c, report)
}

// List returns the user's open positions
func (h *Portfolio) List(c *fiber.Ctx) error {
	trx, err := database.Trx(c.Context())
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return domainError(c, err)
	}

	positions, err := portfolio.ListPositions(c.Context(), trx, userID(c))
	if err != nil {
		if rbErr := trx.Rollback(c.Context()); rbErr != nil {
			log.Error().Stack().Err(rbErr).Msg("could not rollback transaction")
		}
		return domainError(c, err)
	}
	if err := trx.Commit(c.Context()); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}

	return dataResponse(c, positions)
}

// History returns the portfolio's daily valuation series and summary
// statistics over it. Callers pass either days=N or an explicit
// startDate/endDate pair (YYYY-MM-DD).
func (h *Portfolio) History(c *fiber.Ctx) error {
	var from, to time.Time

	if startStr := c.Query("startDate"); startStr != "" {
		var err error
		if from, err = time.Parse("2006-01-02", startStr); err != nil {
			return errorResponse(c, fiber.StatusUnprocessableEntity, "startDate must be YYYY-MM-DD")
		}
		if endStr := c.Query("endDate"); endStr != "" {
			if to, err = time.Parse("2006-01-02", endStr); err != nil {
				return errorResponse(c, fiber.StatusUnprocessableEntity, "endDate must be YYYY-MM-DD")
			}
		} else {
			to = time.Now().UTC()
		}
	} else {
		days := queryInt(c, "days", portfolio.DefaultHistoryDays)
		if days < 1 || days > portfolio.MaxHistoryDays {
			return errorResponse(c, fiber.StatusUnprocessableEntity, "days must be between 1 and 365")
		}
		to = time.Now().UTC()
		from = to.AddDate(0, 0, -(days - 1))
	}

	series, err := h.Engine.History(c.Context(), userID(c), from, to)
	if err != nil {
		return domainError(c, err)
	}

	return dataResponse(c, fiber.Map{
		"series":  series,
		"metrics": portfolio.ComputeMetrics(series),
	})
}
