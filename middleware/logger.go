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

package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger creates a request logging middleware handler
func NewLogger() fiber.Handler {
	var (
		once       sync.Once
		errHandler fiber.ErrorHandler
	)

	return func(c *fiber.Ctx) (err error) {
		once.Do(func() {
			errHandler = c.App().Config().ErrorHandler
		})

		start := time.Now()

		chainErr := c.Next()
		if chainErr != nil {
			if err := errHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		latency := time.Since(start).Round(time.Millisecond)
		code := c.Response().StatusCode()

		var evt *zerolog.Event
		switch {
		case code >= fiber.StatusOK && code < fiber.StatusMultipleChoices:
			evt = log.Info()
		case code >= fiber.StatusMultipleChoices && code < fiber.StatusBadRequest:
			evt = log.Debug()
		case code >= fiber.StatusBadRequest && code < fiber.StatusInternalServerError:
			evt = log.Warn()
		default:
			evt = log.Error()
		}

		evt.
			Int("StatusCode", code).
			Dur("Latency", latency).
			Str("IP", c.IP()).
			Str("Method", c.Method()).
			Str("Path", c.Path()).
			Str("Protocol", c.Protocol()).
			Str("XForwardedFor", c.Get(fiber.HeaderXForwardedFor)).
			Str("Host", c.Hostname()).
			Str("UserAgent", c.Get(fiber.HeaderUserAgent)).
			Int("NumBytesReceived", len(c.Request().Body())).
			Int("NumBytesSent", len(c.Response().Body())).
			Str("Route", c.Route().Path).
			Msg("api request")

		return nil
	}
}
