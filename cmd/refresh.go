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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fundbook/mf-api/common"
	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/navstore"
	"github.com/fundbook/mf-api/quote"
	"github.com/fundbook/mf-api/refresh"
)

func init() {
	rootCmd.AddCommand(refreshCmd)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one NAV refresh sweep and exit",
	Long:  `Fetch the latest NAV for every held scheme, update the NAV store, and print a summary`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		common.SetupCache()

		if err := database.Connect(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-c
			cancel()
		}()

		quotes := quote.New()
		refresher := refresh.NewEngine(quotes, navstore.NewStore(quotes))

		summary, err := refresher.Run(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("nav refresh failed")
		}

		fmt.Printf("refreshed %d schemes: %d ok, %d failed in %dms\n",
			summary.Total, len(summary.Successes), len(summary.Failures), summary.DurationMS)
		for _, failure := range summary.Failures {
			fmt.Printf("  scheme %d failed: %s\n", failure.SchemeCode, failure.Error)
		}
	},
}
