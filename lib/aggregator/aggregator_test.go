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

package aggregator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/e3o8o/triggerr-sub002/lib/cache"
	"github.com/e3o8o/triggerr-sub002/lib/canonical"
	"github.com/e3o8o/triggerr-sub002/lib/sources"
	"github.com/e3o8o/triggerr-sub002/lib/utils"
)

type fakeMode int

const (
	modeData fakeMode = iota
	modeNoData
	modeFail
	modeUnavailable
)

// fakeFlightSource implements sources.FlightSource in-process.
type fakeFlightSource struct {
	name       string
	priority   int
	confidence float64
	mode       fakeMode
	mutate     func(*canonical.Flight)
	calls      atomic.Int64
	// block, release let tests hold fetches open to force concurrency.
	block   chan struct{}
	release chan struct{}
}

func (s *fakeFlightSource) Name() string         { return s.name }
func (s *fakeFlightSource) Priority() int        { return s.priority }
func (s *fakeFlightSource) Reliability() float64 { return s.confidence }

func (s *fakeFlightSource) CheckAvailability(ctx context.Context) error {
	if s.mode == modeUnavailable {
		return trace.ConnectionProblem(nil, "%v is down", s.name)
	}
	return nil
}

func (s *fakeFlightSource) FetchFlight(ctx context.Context, q sources.FlightQuery) (*canonical.Flight, error) {
	s.calls.Add(1)
	if s.block != nil {
		s.block <- struct{}{}
		<-s.release
	}
	switch s.mode {
	case modeNoData:
		return nil, trace.NotFound("%v has no data", s.name)
	case modeFail:
		return nil, trace.ConnectionProblem(nil, "%v transport error", s.name)
	}
	return record(s.name, s.confidence, resolverNow, s.mutate), nil
}

func newTestAggregator(t *testing.T, srcs ...sources.Source) (*Flight, *sources.Router) {
	t.Helper()
	router, err := sources.NewRouter(sources.RouterConfig{Sources: srcs})
	require.NoError(t, err)
	memCache, err := cache.NewMemory(cache.MemoryConfig{})
	require.NoError(t, err)
	executor, err := utils.NewExecutor(utils.ExecutorConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
	})
	require.NoError(t, err)
	agg, err := NewFlight(FlightConfig{
		Router:   router,
		Cache:    memCache,
		Executor: executor,
	})
	require.NoError(t, err)
	return agg, router
}

func testQuery() sources.FlightQuery {
	return sources.FlightQuery{
		FlightNumber: "BT318",
		Date:         time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAggregatorMergesSources(t *testing.T) {
	ctx := context.Background()
	a := &fakeFlightSource{name: "aeroapi", priority: 95, confidence: 0.95}
	b := &fakeFlightSource{name: "avistack", priority: 85, confidence: 0.85}

	agg, _ := newTestAggregator(t, a, b)
	res, err := agg.GetFlightStatus(ctx, testQuery())
	require.NoError(t, err)
	require.False(t, res.FromCache)
	require.ElementsMatch(t, []string{"aeroapi", "avistack"}, res.SourcesUsed)
	require.Greater(t, res.QualityScore, 0.8)
	require.NoError(t, res.Flight.Check())
}

// Two successive calls within TTL return identical merged data;
// the second is served from cache with no outbound calls.
func TestAggregatorCacheIdempotence(t *testing.T) {
	ctx := context.Background()
	a := &fakeFlightSource{name: "aeroapi", priority: 95, confidence: 0.95}
	b := &fakeFlightSource{name: "avistack", priority: 85, confidence: 0.85}

	agg, _ := newTestAggregator(t, a, b)

	first, err := agg.GetFlightStatus(ctx, testQuery())
	require.NoError(t, err)
	require.False(t, first.FromCache)

	callsAfterFirst := a.calls.Load() + b.calls.Load()

	second, err := agg.GetFlightStatus(ctx, testQuery())
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, first.Flight, second.Flight)
	require.Equal(t, first.QualityScore, second.QualityScore)
	require.Equal(t, callsAfterFirst, a.calls.Load()+b.calls.Load())
}

// C concurrent misses for the same key make exactly as many
// adapter calls as a single miss would.
func TestAggregatorSingleFlight(t *testing.T) {
	ctx := context.Background()
	a := &fakeFlightSource{
		name:       "aeroapi",
		priority:   95,
		confidence: 0.95,
		block:      make(chan struct{}),
		release:    make(chan struct{}),
	}

	agg, _ := newTestAggregator(t, a)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*FlightResult, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := agg.GetFlightStatus(ctx, testQuery())
			require.NoError(t, err)
			results[i] = res
		}()
	}

	// exactly one fetch starts; release it once every caller is queued
	<-a.block
	close(a.release)
	wg.Wait()

	require.Equal(t, int64(1), a.calls.Load())
	for _, res := range results {
		require.Equal(t, results[0].Flight, res.Flight)
	}
}

// Every adapter is unavailable.
func TestAggregatorNoSources(t *testing.T) {
	ctx := context.Background()
	a := &fakeFlightSource{name: "aeroapi", priority: 95, confidence: 0.95, mode: modeUnavailable}
	b := &fakeFlightSource{name: "avistack", priority: 85, confidence: 0.85, mode: modeUnavailable}

	agg, _ := newTestAggregator(t, a, b)
	_, err := agg.GetFlightStatus(ctx, testQuery())
	require.True(t, trace.IsNotFound(err))
	require.Contains(t, err.Error(), "NO_DATA_AVAILABLE")
	require.Zero(t, a.calls.Load())
	require.Zero(t, b.calls.Load())
}

// A source that returns no data is not an error and must not trip health
// tracking; a source that keeps failing is retried and then demoted.
func TestAggregatorPartialFailure(t *testing.T) {
	ctx := context.Background()
	ok := &fakeFlightSource{name: "aeroapi", priority: 95, confidence: 0.95}
	empty := &fakeFlightSource{name: "avistack", priority: 85, confidence: 0.85, mode: modeNoData}
	broken := &fakeFlightSource{name: "skybeacon", priority: 75, confidence: 0.80, mode: modeFail}

	agg, router := newTestAggregator(t, ok, empty, broken)

	res, err := agg.GetFlightStatus(ctx, testQuery())
	require.NoError(t, err)
	require.Equal(t, []string{"aeroapi"}, res.SourcesUsed)

	// the broken source was retried (2 attempts) and demoted
	require.Equal(t, int64(2), broken.calls.Load())
	require.False(t, router.Healthy("skybeacon"))
	// the empty source was not retried and stays healthy
	require.Equal(t, int64(1), empty.calls.Load())
	require.True(t, router.Healthy("avistack"))
}

func TestAggregatorAllSourcesEmpty(t *testing.T) {
	ctx := context.Background()
	a := &fakeFlightSource{name: "aeroapi", priority: 95, confidence: 0.95, mode: modeNoData}

	agg, _ := newTestAggregator(t, a)
	_, err := agg.GetFlightStatus(ctx, testQuery())
	require.True(t, trace.IsNotFound(err))
	require.Contains(t, err.Error(), "NO_DATA_AVAILABLE")
}

func TestAggregatorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeFlightSource{
		name:       "aeroapi",
		priority:   95,
		confidence: 0.95,
		block:      make(chan struct{}),
		release:    make(chan struct{}),
	}

	agg, _ := newTestAggregator(t, a)

	done := make(chan error, 1)
	go func() {
		_, err := agg.GetFlightStatus(ctx, testQuery())
		done <- err
	}()

	<-a.block
	cancel()
	close(a.release)

	err := <-done
	require.Error(t, err)
}
