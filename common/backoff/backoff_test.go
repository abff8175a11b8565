// Copyright 2025 The netscale Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestBoundedBackOff(t *testing.T) {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return errors.New("not yet")
	}, NewBoundedBackOff(context.Background(), time.Millisecond, 3))

	assert.Error(t, err)
	assert.Equal(t, 4, attempts)
}

func TestBoundedBackOffSucceeds(t *testing.T) {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		if attempts < 2 {
			return errors.New("not yet")
		}
		return nil
	}, NewBoundedBackOff(context.Background(), time.Millisecond, 3))

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestPermanentStopsRetries(t *testing.T) {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return backoff.Permanent(errors.New("fatal"))
	}, NewBackOff(context.Background()))

	assert.EqualError(t, err, "fatal")
	assert.Equal(t, 1, attempts)
}

func TestBackOffCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBackOffWithInitialInterval(ctx, time.Millisecond)
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}
