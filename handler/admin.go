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
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/fundbook/mf-api/refresh"
)

// Admin holds the admin route handlers. Ctx bounds background sweeps so
// a server shutdown cancels them.
type Admin struct {
	Refresh *refresh.Engine
	Ctx     context.Context
}

// RunNavUpdate triggers an asynchronous NAV refresh sweep. The request
// returns 202 immediately; a sweep already in flight yields 429.
func (h *Admin) RunNavUpdate(c *fiber.Ctx) error {
	ctx := h.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := h.Refresh.RunAsync(ctx); err != nil {
		return domainError(c, err)
	}

	return c.Status(fiber.StatusAccepted).
		JSON(fiber.Map{"success": true, "data": "nav refresh started"})
}
