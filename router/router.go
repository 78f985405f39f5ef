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

package router

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/fundbook/mf-api/handler"
	"github.com/fundbook/mf-api/middleware"
	"github.com/fundbook/mf-api/portfolio"
	"github.com/fundbook/mf-api/refresh"
)

// SetupRoutes wires the API route table. refreshCtx bounds the lifetime
// of admin-triggered background sweeps.
func SetupRoutes(app *fiber.App, refreshCtx context.Context, engine *portfolio.Engine, refresher *refresh.Engine) {
	app.Get("/ping", handler.Ping)

	api := app.Group("/api", middleware.Auth())

	portfolioHandler := handler.Portfolio{Engine: engine}
	pg := api.Group("/portfolio")
	pg.Post("/add", portfolioHandler.AddHolding)
	pg.Post("/sell", portfolioHandler.SellHolding)
	pg.Delete("/remove/:schemeCode", portfolioHandler.RemoveHolding)
	pg.Get("/value", portfolioHandler.Value)
	pg.Get("/list", portfolioHandler.List)
	pg.Get("/history", portfolioHandler.History)

	api.Get("/transactions", handler.ListTransactions)

	adminHandler := handler.Admin{Refresh: refresher, Ctx: refreshCtx}
	admin := api.Group("/admin", middleware.RequireRole("admin"))
	admin.Post("/cron/run-nav-update", adminHandler.RunNavUpdate)

	app.Use(handler.NotFound)
}
