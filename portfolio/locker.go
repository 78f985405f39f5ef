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

package portfolio

import (
	"fmt"
	"sync"
)

// locker serializes mutations per (user, scheme) pair. Different pairs
// proceed concurrently; the same pair is strictly ordered.
type locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLocker() *locker {
	return &locker{locks: map[string]*sync.Mutex{}}
}

// Lock acquires the mutex for the pair and returns its unlock func.
// Mutexes are retained for the process lifetime; the key space is bounded
// by the number of active (user, scheme) pairs.
func (l *locker) Lock(userID string, schemeCode int) func() {
	key := fmt.Sprintf("%s:%d", userID, schemeCode)

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
