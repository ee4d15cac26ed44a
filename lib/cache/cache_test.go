/*
 * Triggerr
 * Copyright (C) 2025  Triggerr, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Memory, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	c, err := NewMemory(MemoryConfig{Clock: clock})
	require.NoError(t, err)
	return c, clock
}

func TestGetPut(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t)

	_, err := c.Get(ctx, "flight:BT318:2025-07-01")
	require.True(t, trace.IsNotFound(err))

	require.NoError(t, c.Put(ctx, "flight:BT318:2025-07-01", "v1", 5*time.Minute))

	got, err := c.Get(ctx, "flight:BT318:2025-07-01")
	require.NoError(t, err)
	require.Equal(t, "v1", got)

	clock.Advance(5*time.Minute + time.Second)
	_, err = c.Get(ctx, "flight:BT318:2025-07-01")
	require.True(t, trace.IsNotFound(err))
	require.Zero(t, c.Len())
}

func TestForever(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t)

	require.NoError(t, c.Put(ctx, "k", "v", Forever))
	clock.Advance(1000 * time.Hour)

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", got)
}

func TestInvalidateByTag(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Put(ctx, "flight:BT318:2025-07-01", "f", time.Hour, "flight:BT318"))
	require.NoError(t, c.Put(ctx, "wx:RIX:2025-07-01:current", "w", time.Hour, "airport:RIX"))
	require.NoError(t, c.Put(ctx, "wx:TLL:2025-07-01:current", "w", time.Hour, "airport:TLL"))

	removed, err := c.InvalidateByTag(ctx, "flight:BT318")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = c.Get(ctx, "flight:BT318:2025-07-01")
	require.True(t, trace.IsNotFound(err))

	_, err = c.Get(ctx, "wx:RIX:2025-07-01:current")
	require.NoError(t, err)

	removed, err = c.InvalidateByTag(ctx, "no-such-tag")
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestPutReplacesTags(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Put(ctx, "k", "v1", time.Hour, "old"))
	require.NoError(t, c.Put(ctx, "k", "v2", time.Hour, "new"))

	removed, err := c.InvalidateByTag(ctx, "old")
	require.NoError(t, err)
	require.Zero(t, removed)

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v2", got)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "k" + string(rune('a'+i%4))
			for range 100 {
				_ = c.Put(ctx, key, i, time.Hour, "shared")
				_, _ = c.Get(ctx, key)
				_, _ = c.InvalidateByTag(ctx, "shared")
			}
		}()
	}
	wg.Wait()
}
