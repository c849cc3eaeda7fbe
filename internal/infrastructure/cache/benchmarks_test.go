package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salescope/dealrisk/internal/domain/benchmark"
	"github.com/salescope/dealrisk/internal/domain/deal"
)

func snapshot(t *testing.T) *benchmark.Set {
	t.Helper()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	closed := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	set, err := benchmark.Aggregate([]deal.Deal{{
		ID: "D-1", Amount: 100, Industry: "Tech", Region: "NA",
		ProductType: "Basic", LeadSource: "Web", RepID: "R1",
		Stage: "Closed", CreatedDate: created, ClosedDate: &closed,
		Outcome: deal.OutcomeWon,
	}}, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 1)
	require.NoError(t, err)
	return set
}

func TestGetHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	set := snapshot(t)
	data, err := json.Marshal(set)
	require.NoError(t, err)

	mock.ExpectGet(keyPrefix + set.Fingerprint()).SetVal(string(data))

	c := NewBenchmarkCache(client, time.Hour)
	got, ok := c.Get(context.Background(), set.Fingerprint())
	require.True(t, ok)
	assert.Equal(t, set.Fingerprint(), got.Fingerprint())
	assert.Equal(t, set.GlobalWinRate, got.GlobalWinRate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet(keyPrefix + "absent").RedisNil()

	c := NewBenchmarkCache(client, time.Hour)
	_, ok := c.Get(context.Background(), "absent")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetErrorCountsAsMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet(keyPrefix + "broken").SetErr(assert.AnError)

	c := NewBenchmarkCache(client, time.Hour)
	_, ok := c.Get(context.Background(), "broken")
	assert.False(t, ok)
}

func TestGetCorruptEntryCountsAsMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet(keyPrefix + "corrupt").SetVal("{not json")

	c := NewBenchmarkCache(client, time.Hour)
	_, ok := c.Get(context.Background(), "corrupt")
	assert.False(t, ok)
}

func TestPut(t *testing.T) {
	client, mock := redismock.NewClientMock()
	set := snapshot(t)
	data, err := json.Marshal(set)
	require.NoError(t, err)

	mock.ExpectSet(keyPrefix+set.Fingerprint(), data, time.Hour).SetVal("OK")

	c := NewBenchmarkCache(client, time.Hour)
	require.NoError(t, c.Put(context.Background(), set.Fingerprint(), set))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	set := snapshot(t)
	data, err := json.Marshal(set)
	require.NoError(t, err)

	mock.ExpectSet(keyPrefix+set.Fingerprint(), data, time.Hour).SetErr(assert.AnError)

	c := NewBenchmarkCache(client, time.Hour)
	assert.Error(t, c.Put(context.Background(), set.Fingerprint(), set))
}
