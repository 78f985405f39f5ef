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

package common

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/spf13/viper"
)

func SetupLogging() {
	// Set level
	level := viper.GetString("log.level")
	level = strings.ToLower(level)

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	// Set report caller
	if viper.GetBool("log.report_caller") {
		log.Logger = log.With().Caller().Logger()
	}

	// Setup output
	output := viper.GetString("log.output")
	switch output {
	case "stdout", "":
		if viper.GetBool("log.pretty") {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
		} else {
			log.Logger = log.Output(os.Stdout)
		}
	case "stderr":
		if viper.GetBool("log.pretty") {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		} else {
			log.Logger = log.Output(os.Stderr)
		}
	default:
		fh, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			panic(err)
		}
		if viper.GetBool("log.pretty") {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: fh})
		} else {
			log.Logger = log.Output(fh)
		}
	}

	// setup stack marshaler
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
}

// GetTimezone returns the reference timezone for NAV publication. Indian
// mutual funds publish end-of-day NAVs against IST.
func GetTimezone() *time.Location {
	name := viper.GetString("cron.timezone")
	if name == "" {
		name = "Asia/Kolkata"
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		log.Panic().Err(err).Str("Timezone", name).Msg("could not load timezone")
	}
	return tz
}
