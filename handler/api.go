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
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/fundbook/mf-api/navstore"
	"github.com/fundbook/mf-api/portfolio"
	"github.com/fundbook/mf-api/quote"
	"github.com/fundbook/mf-api/refresh"
	"github.com/fundbook/mf-api/scheme"
)

// Ping responds to healthchecks
func Ping(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "data": "pong"})
}

// NotFound is the fallthrough route
func NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).
		JSON(fiber.Map{"success": false, "message": "resource not found"})
}

func dataResponse(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{"success": true, "data": data})
}

func errorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "message": message})
}

// errorStatus maps domain errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, portfolio.ErrInvalidUnits),
		errors.Is(err, portfolio.ErrInvalidDateRange):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, portfolio.ErrInsufficientUnits):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, portfolio.ErrHasTransactions):
		return fiber.StatusBadRequest
	case errors.Is(err, quote.ErrBadScheme):
		return fiber.StatusBadRequest
	case errors.Is(err, portfolio.ErrNoPosition),
		errors.Is(err, scheme.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, portfolio.ErrEmptyUserID):
		return fiber.StatusUnauthorized
	case errors.Is(err, navstore.ErrNavUnavailable):
		return fiber.StatusBadGateway
	case errors.Is(err, refresh.ErrAlreadyRunning):
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func domainError(c *fiber.Ctx, err error) error {
	status := errorStatus(err)
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		message = "internal server error"
	}
	return errorResponse(c, status, message)
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("userID").(string)
	return id
}

// queryInt parses an integer query param, falling back to def when the
// param is absent or malformed
func queryInt(c *fiber.Ctx, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
