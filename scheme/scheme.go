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

package scheme

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/fundbook/mf-api/database"
	"github.com/fundbook/mf-api/quote"
)

var (
	ErrNotFound = errors.New("scheme not found")
)

// Scheme is read-mostly fund metadata. The catalog must contain every
// scheme code referenced by a transaction or position.
type Scheme struct {
	SchemeCode     int    `json:"schemeCode"`
	SchemeName     string `json:"schemeName"`
	FundHouse      string `json:"fundHouse"`
	SchemeType     string `json:"schemeType"`
	SchemeCategory string `json:"schemeCategory"`
}

// Get loads a scheme from the catalog
func Get(ctx context.Context, schemeCode int) (*Scheme, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	s := Scheme{}
	sql := `SELECT scheme_code, scheme_name, fund_house, scheme_type, scheme_category FROM scheme WHERE scheme_code=$1`
	err = trx.QueryRow(ctx, sql, schemeCode).Scan(&s.SchemeCode, &s.SchemeName, &s.FundHouse, &s.SchemeType, &s.SchemeCategory)
	if err != nil {
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, ErrNotFound
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return &s, nil
}

// Upsert inserts or refreshes catalog rows. Metadata refreshes are coarse;
// the scheme code itself is immutable.
func Upsert(ctx context.Context, schemes []*Scheme) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	sql := `INSERT INTO scheme (scheme_code, scheme_name, fund_house, scheme_type, scheme_category) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scheme_code) DO UPDATE SET scheme_name=EXCLUDED.scheme_name, fund_house=EXCLUDED.fund_house,
		scheme_type=EXCLUDED.scheme_type, scheme_category=EXCLUDED.scheme_category`
	for _, s := range schemes {
		if _, err := trx.Exec(ctx, sql, s.SchemeCode, s.SchemeName, s.FundHouse, s.SchemeType, s.SchemeCategory); err != nil {
			log.Warn().Stack().Err(err).Int("SchemeCode", s.SchemeCode).Msg("could not upsert scheme")
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return err
		}
	}

	return trx.Commit(ctx)
}

// UpsertFromMeta records the fund metadata attached to a quote so that any
// scheme with a stored NAV is also present in the catalog.
func UpsertFromMeta(ctx context.Context, meta quote.Meta, schemeCode int) error {
	return Upsert(ctx, []*Scheme{{
		SchemeCode:     schemeCode,
		SchemeName:     meta.SchemeName,
		FundHouse:      meta.FundHouse,
		SchemeType:     meta.SchemeType,
		SchemeCategory: meta.SchemeCategory,
	}})
}

// FundLister is the slice of the provider client the catalog seeder needs
type FundLister interface {
	ListFunds(ctx context.Context) ([]quote.Fund, error)
}

// SeedFromProvider downloads the provider's full fund listing and upserts
// it into the catalog. Returns the number of schemes written.
func SeedFromProvider(ctx context.Context, client FundLister) (int, error) {
	funds, err := client.ListFunds(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not list funds from provider")
		return 0, err
	}

	schemes := make([]*Scheme, 0, len(funds))
	for _, fund := range funds {
		if fund.SchemeCode < quote.MinSchemeCode || fund.SchemeCode > quote.MaxSchemeCode {
			continue
		}
		schemes = append(schemes, &Scheme{
			SchemeCode: fund.SchemeCode,
			SchemeName: fund.SchemeName,
			FundHouse:  fund.FundHouse,
		})
	}

	if err := Upsert(ctx, schemes); err != nil {
		return 0, err
	}

	log.Info().Int("NumSchemes", len(schemes)).Msg("seeded scheme catalog")
	return len(schemes), nil
}
