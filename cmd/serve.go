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

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fundbook/mf-api/common"
	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/messenger"
	"github.com/fundbook/mf-api/middleware"
	"github.com/fundbook/mf-api/navstore"
	"github.com/fundbook/mf-api/observability/opentelemetry"
	"github.com/fundbook/mf-api/portfolio"
	"github.com/fundbook/mf-api/quote"
	"github.com/fundbook/mf-api/refresh"
	"github.com/fundbook/mf-api/router"
	"github.com/fundbook/mf-api/scheme"
)

func init() {
	viper.BindEnv("server.port", "PORT")
	serveCmd.Flags().IntP("port", "p", 3000, "Port to run application server on")
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mf-api server",
	Long:  `Run the HTTP server that implements the mutual fund portfolio API`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		common.SetupCache()

		otelShutdown, err := opentelemetry.Setup()
		if err != nil {
			log.Warn().Err(err).Msg("could not initialize opentelemetry; continuing without tracing")
		}

		if err := database.Connect(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		if err := messenger.Initialize(); err != nil {
			log.Warn().Err(err).Msg("messenger unavailable; transaction events disabled")
		}

		quotes := quote.New()
		navs := navstore.NewStore(quotes)
		engine := portfolio.NewEngine(navs)
		refresher := refresh.NewEngine(quotes, navs)

		app := fiber.New(fiber.Config{
			JSONEncoder: json.Marshal,
			JSONDecoder: json.Unmarshal,
		})

		app.Use(cors.New(cors.Config{
			AllowOrigins: viper.GetString("server.cors_origins"),
			AllowHeaders: "*",
			AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH",
		}))
		app.Use(middleware.NewLogger())

		// admin-triggered and scheduled sweeps share this context so a
		// shutdown stops both
		refreshCtx, cancelRefresh := context.WithCancel(context.Background())

		router.SetupRoutes(app, refreshCtx, engine, refresher)

		schedule, err := refresh.ParseSchedule(viper.GetString("cron.schedule"))
		if err != nil {
			log.Fatal().Err(err).Str("Schedule", viper.GetString("cron.schedule")).Msg("could not parse refresh schedule")
		}
		log.Info().Str("Schedule", schedule.TimeSpec).Time("NextRun", schedule.NextRun(time.Now())).Msg("nav refresh scheduled")

		scheduler := gocron.NewScheduler(common.GetTimezone())
		scheduler.Cron(schedule.TimeSpec).Do(func() {
			if _, err := refresher.Run(refreshCtx); err != nil {
				log.Warn().Err(err).Msg("scheduled nav refresh did not complete")
			}
		})
		scheduler.Every(24).Hours().Do(func() {
			if _, err := scheme.SeedFromProvider(refreshCtx, quotes); err != nil {
				log.Warn().Err(err).Msg("scheme catalog refresh failed")
			}
		})
		scheduler.StartAsync()

		// shutdown cleanly on interrupt
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-c
			log.Info().Str("Signal", sig.String()).Msg("received signal; shutting down")

			scheduler.Stop()
			cancelRefresh()
			database.LogOpenTransactions()

			if err := app.Shutdown(); err != nil {
				log.Error().Err(err).Msg("could not shut down server cleanly")
				os.Exit(1)
			}
		}()

		err = app.Listen(":" + viper.GetString("server.port"))

		messenger.Close()
		if otelShutdown != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("could not flush telemetry")
			}
		}

		if err != nil {
			log.Fatal().Err(err).Msg("server exited with error")
		}
	},
}
