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

package refresh

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/fundbook/mf-api/common"
)

// DefaultSchedule fires at midnight in the configured market timezone,
// after the day's NAVs publish
const DefaultSchedule = "0 0 * * *"

// Schedule is a parsed refresh timetable pinned to the configured market
// timezone
type Schedule struct {
	TimeSpec string
	Timezone *time.Location
	schedule cron.Schedule
}

// ParseSchedule parses a standard 5-field cron spec. An empty spec falls
// back to the default nightly run.
func ParseSchedule(timeSpec string) (*Schedule, error) {
	timeSpec = strings.TrimSpace(timeSpec)
	if timeSpec == "" {
		timeSpec = viper.GetString("cron.schedule")
	}
	if timeSpec == "" {
		timeSpec = DefaultSchedule
	}

	specParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := specParser.Parse(timeSpec)
	if err != nil {
		return nil, err
	}

	return &Schedule{
		TimeSpec: timeSpec,
		Timezone: common.GetTimezone(),
		schedule: schedule,
	}, nil
}

// NextRun returns the first firing time strictly after `after`
func (s *Schedule) NextRun(after time.Time) time.Time {
	return s.schedule.Next(after.In(s.Timezone))
}
