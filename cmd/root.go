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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fundbook/mf-api/common"
)

func init() {
	// Database
	viper.BindEnv("database.url", "DATABASE_URL")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url"))

	// Auth
	viper.BindEnv("auth.token_secret", "MF_TOKEN_SECRET")
	rootCmd.PersistentFlags().String("token-secret", "", "HS256 signing secret for bearer tokens")
	viper.BindPFlag("auth.token_secret", rootCmd.PersistentFlags().Lookup("token-secret"))

	// NAV provider
	viper.BindEnv("provider.base_url", "MF_PROVIDER_URL")
	rootCmd.PersistentFlags().String("provider-url", "https://api.mfapi.in", "Base URL of the NAV provider")
	viper.BindPFlag("provider.base_url", rootCmd.PersistentFlags().Lookup("provider-url"))

	rootCmd.PersistentFlags().Int("nav-history-cap", 30, "Days of NAV history retained per scheme")
	viper.BindPFlag("nav.history_cap", rootCmd.PersistentFlags().Lookup("nav-history-cap"))

	rootCmd.PersistentFlags().Int("nav-retry-max", 3, "Retries per provider request")
	viper.BindPFlag("nav.retry_max", rootCmd.PersistentFlags().Lookup("nav-retry-max"))

	// Refresh schedule
	viper.BindEnv("cron.schedule", "MF_CRON_SCHEDULE")
	rootCmd.PersistentFlags().String("cron-schedule", "", "Cron spec for the nightly NAV refresh")
	viper.BindPFlag("cron.schedule", rootCmd.PersistentFlags().Lookup("cron-schedule"))

	viper.BindEnv("cron.timezone", "MF_CRON_TIMEZONE")

	// Messaging
	viper.BindEnv("nats.server", "NATS_URL")
	rootCmd.PersistentFlags().String("nats-server", "", "NATS server for transaction events (optional)")
	viper.BindPFlag("nats.server", rootCmd.PersistentFlags().Lookup("nats-server"))

	// Cache
	viper.BindEnv("cache.redis_url", "REDIS_URL")

	// Logging configuration
	viper.BindEnv("log.level", "MF_LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-level", "warning", "Logging level")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.BindEnv("log.report_caller", "MF_LOG_REPORT_CALLER")
	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	viper.BindPFlag("log.report_caller", rootCmd.PersistentFlags().Lookup("log-report-caller"))

	viper.BindEnv("log.output", "MF_LOG_OUTPUT")
	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	viper.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output"))

	rootCmd.PersistentFlags().Bool("log-pretty", false, "Print logs in human readable form")
	viper.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))

	// Telemetry
	viper.BindEnv("otlp.endpoint", "OTLP_ENDPOINT")
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "OpenTelemetry collector endpoint")
	viper.BindPFlag("otlp.endpoint", rootCmd.PersistentFlags().Lookup("otlp-endpoint"))
}

var rootCmd = &cobra.Command{
	Use:     "mfapi",
	Version: common.CurrentVersion.String(),
	Short:   "mfapi tracks mutual fund holdings",
	Long:    `A mutual fund portfolio server that records buys and sells against provider NAVs, keeps FIFO lot accounting, and serves valuations over HTTP.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
