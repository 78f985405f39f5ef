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

package messenger

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/fundbook/mf-api/common"
)

// TransactionEvent is published after a portfolio mutation commits.
// Downstream consumers (statements, alerting) subscribe per user.
type TransactionEvent struct {
	UserID     string `json:"user_id"`
	SchemeCode int    `json:"scheme_code"`
	Kind       string `json:"kind"`
	Units      string `json:"units"`
	Nav        string `json:"nav"`
	Amount     string `json:"amount"`
	EventTime  string `json:"event_time"`
	SourceID   string `json:"source_id"`
}

// PublishTransaction sends a transaction event on mf.transactions.<userID>.
// Failures are logged and swallowed; the database commit already happened
// and must not be invalidated by a messaging outage.
func PublishTransaction(event *TransactionEvent) {
	if jetStream == nil {
		return
	}

	if event.EventTime == "" {
		event.EventTime = time.Now().In(common.GetTimezone()).Format(time.RFC3339)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("could not serialize transaction event")
		return
	}

	subject := fmt.Sprintf("mf.transactions.%s", event.UserID)
	if _, err := jetStream.Publish(subject, payload); err != nil {
		log.Warn().Err(err).Str("Subject", subject).Msg("could not publish transaction event")
	}
}
