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

package database

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// PgxIface is the subset of pgxpool.Pool the stores rely on; pgxmock
// implements it for tests.
type PgxIface interface {
	Begin(context.Context) (pgx.Tx, error)
}

// Private

var pool PgxIface

// openTransactions is written from every request goroutine; trxMutex
// guards it.
var openTransactions map[string]string
var trxMutex sync.Mutex

func trackTrx(trxID string, caller string) {
	trxMutex.Lock()
	openTransactions[trxID] = caller
	trxMutex.Unlock()
}

func untrackTrx(trxID string) {
	trxMutex.Lock()
	delete(openTransactions, trxID)
	trxMutex.Unlock()
}

// Public

func SetPool(myPool PgxIface) {
	trxMutex.Lock()
	openTransactions = make(map[string]string)
	trxMutex.Unlock()
	pool = myPool
}

func Connect(ctx context.Context) error {
	myPool, err := pgxpool.Connect(ctx, viper.GetString("database.url"))
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to pool")
		return err
	}
	if err = myPool.Ping(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not ping database server")
		return err
	}
	SetPool(myPool)
	return nil
}

// LogOpenTransactions writes an INFO log for each open transaction
func LogOpenTransactions() {
	trxMutex.Lock()
	defer trxMutex.Unlock()
	for k, v := range openTransactions {
		log.Info().Str("TrxId", k).Str("Caller", v).Msg("open transaction")
	}
}

// Trx begins a database transaction. Transactions are tracked until
// commit or rollback to help find leaks.
func Trx(ctx context.Context) (pgx.Tx, error) {
	trx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}

	_, file, lineno, ok := runtime.Caller(1)
	caller := fmt.Sprintf("[%v] %s:%d", ok, file, lineno)
	trxID := uuid.New().String()
	trackTrx(trxID, caller)

	return &trackedTx{
		id: trxID,
		tx: trx,
	}, nil
}
