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

package quote

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fundbook/mf-api/observability/opentelemetry"
)

const (
	MinSchemeCode = 100_000
	MaxSchemeCode = 999_999
)

// Client is a read-only client for the external NAV provider. It never
// writes to the NAV store; it only returns values.
type Client struct {
	baseURL  string
	retryMax int
	backoff  time.Duration
	client   *http.Client
}

type schemeJSONResponse struct {
	Meta Meta `json:"meta"`
	Data []struct {
		Date string `json:"date"`
		Nav  string `json:"nav"`
	} `json:"data"`
	Status string `json:"status"`
}

// New creates a provider client from viper configuration
func New() *Client {
	timeout := viper.GetInt("provider.timeout_ms")
	if timeout == 0 {
		timeout = 15_000
	}
	retryMax := viper.GetInt("nav.retry_max")
	if retryMax == 0 {
		retryMax = 3
	}
	return &Client{
		baseURL:  viper.GetString("provider.base_url"),
		retryMax: retryMax,
		backoff:  time.Second,
		client: &http.Client{
			Timeout: time.Duration(timeout) * time.Millisecond,
			Transport: &http.Transport{
				MaxConnsPerHost:     10,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
}

// fetch performs an HTTP GET and hands the body to decode. Transport
// failures and malformed payloads are retried up to retryMax times after
// the first attempt, with exponential backoff (1s, 2s, 4s). Backoff waits
// are cancellable through ctx. Any other decode error ends the attempt
// loop immediately.
func (c *Client) fetch(ctx context.Context, url string, decode func(body []byte) error) error {
	subLog := log.With().Str("Url", url).Logger()

	var lastErr error
	backoff := c.backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s", ErrTransport, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrTransport, err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			subLog.Warn().Err(err).Int("Attempt", attempt).Msg("provider request failed")
			lastErr = fmt.Errorf("%w: %s", ErrTransport, err)
			continue
		}

		body, err := ioutil.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			subLog.Warn().Err(err).Int("Attempt", attempt).Msg("could not read provider body")
			lastErr = fmt.Errorf("%w: %s", ErrTransport, err)
			continue
		}

		if resp.StatusCode >= 400 {
			subLog.Warn().Int("HTTPResponseStatusCode", resp.StatusCode).Int("Attempt", attempt).Msg("provider returned invalid response code")
			lastErr = fmt.Errorf("%w: HTTP status %d", ErrTransport, resp.StatusCode)
			continue
		}

		err = decode(body)
		if errors.Is(err, ErrParse) {
			// a truncated or garbled body may be transient on the
			// provider side; treat it like a transport failure
			subLog.Warn().Err(err).Int("Attempt", attempt).Msg("provider payload malformed")
			lastErr = err
			continue
		}
		return err
	}

	return lastErr
}

// FetchLatest returns the most recent published NAV for a scheme
func (c *Client) FetchLatest(ctx context.Context, schemeCode int) (*Quote, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "quote.FetchLatest")
	defer span.End()
	span.SetAttributes(attribute.Int("SchemeCode", schemeCode))

	if schemeCode < MinSchemeCode || schemeCode > MaxSchemeCode {
		return nil, ErrBadScheme
	}

	url := fmt.Sprintf("%s/mf/%d/latest", c.baseURL, schemeCode)
	q := Quote{SchemeCode: schemeCode}
	err := c.fetch(ctx, url, func(body []byte) error {
		jsonResp := schemeJSONResponse{}
		if err := json.Unmarshal(body, &jsonResp); err != nil {
			return fmt.Errorf("%w: %s", ErrParse, err)
		}
		if len(jsonResp.Data) == 0 {
			return ErrNoData
		}

		point, err := parsePoint(jsonResp.Data[0].Date, jsonResp.Data[0].Nav)
		if err != nil {
			return err
		}

		q.Nav = point.Nav
		q.Date = point.Date
		q.Meta = jsonResp.Meta
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider request failed")
		return nil, err
	}

	return &q, nil
}

// FetchHistory returns the full published NAV series for a scheme,
// newest first
func (c *Client) FetchHistory(ctx context.Context, schemeCode int) ([]NavPoint, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "quote.FetchHistory")
	defer span.End()
	span.SetAttributes(attribute.Int("SchemeCode", schemeCode))

	if schemeCode < MinSchemeCode || schemeCode > MaxSchemeCode {
		return nil, ErrBadScheme
	}

	url := fmt.Sprintf("%s/mf/%d", c.baseURL, schemeCode)
	var points []NavPoint
	err := c.fetch(ctx, url, func(body []byte) error {
		jsonResp := schemeJSONResponse{}
		if err := json.Unmarshal(body, &jsonResp); err != nil {
			return fmt.Errorf("%w: %s", ErrParse, err)
		}

		points = make([]NavPoint, 0, len(jsonResp.Data))
		for _, raw := range jsonResp.Data {
			point, err := parsePoint(raw.Date, raw.Nav)
			if err != nil {
				return err
			}
			points = append(points, *point)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider request failed")
		return nil, err
	}

	return points, nil
}

// ListFunds returns the provider's complete fund listing
func (c *Client) ListFunds(ctx context.Context) ([]Fund, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "quote.ListFunds")
	defer span.End()

	url := fmt.Sprintf("%s/mf", c.baseURL)
	funds := []Fund{}
	err := c.fetch(ctx, url, func(body []byte) error {
		if err := json.Unmarshal(body, &funds); err != nil {
			return fmt.Errorf("%w: %s", ErrParse, err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider request failed")
		return nil, err
	}

	return funds, nil
}

func parsePoint(dateStr string, navStr string) (*NavPoint, error) {
	dt, err := parseNavDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: bad date %q", ErrParse, dateStr)
	}

	nav, err := decimal.NewFromString(navStr)
	if err != nil {
		return nil, fmt.Errorf("%w: bad nav %q", ErrParse, navStr)
	}
	if nav.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive nav %q", ErrParse, navStr)
	}

	return &NavPoint{Date: dt, Nav: nav}, nil
}
