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
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/portfolio"
)

// ListTransactions returns a page of the caller's transaction log,
// newest first. Supports schemeCode, type, page and limit query params.
func ListTransactions(c *fiber.Ctx) error {
	kind := c.Query("type")
	if kind != "" && kind != portfolio.BuyTransaction && kind != portfolio.SellTransaction {
		return errorResponse(c, fiber.StatusUnprocessableEntity, "type must be BUY or SELL")
	}

	trx, err := database.Trx(c.Context())
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return domainError(c, err)
	}

	page, err := portfolio.ListTransactions(c.Context(), trx, userID(c),
		queryInt(c, "schemeCode", 0), kind, queryInt(c, "page", 1), queryInt(c, "limit", 20))
	if err != nil {
		if rbErr := trx.Rollback(c.Context()); rbErr != nil {
			log.Error().Stack().Err(rbErr).Msg("could not rollback transaction")
		}
		return domainError(c, err)
	}
	if err := trx.Commit(c.Context()); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}

	return dataResponse(c, page)
}
