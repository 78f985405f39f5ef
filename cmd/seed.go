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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fundbook/mf-api/common"
	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/quote"
	"github.com/fundbook/mf-api/scheme"
)

func init() {
	rootCmd.AddCommand(seedSchemesCmd)
}

var seedSchemesCmd = &cobra.Command{
	Use:   "seed-schemes",
	Short: "Download the provider's fund listing into the scheme catalog",
	Long:  `Fetch the complete fund listing from the NAV provider and upsert it into the scheme catalog`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()

		if err := database.Connect(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		numSchemes, err := scheme.SeedFromProvider(context.Background(), quote.New())
		if err != nil {
			log.Fatal().Err(err).Msg("could not seed scheme catalog")
		}

		fmt.Printf("seeded %d schemes\n", numSchemes)
	},
}
