package retryqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&models.RetryQueueItem{}, &models.RetryQueueDropped{}))
	return conn
}

func newTestQueue(t *testing.T) (*Queue, *fakeClock, *gorm.DB) {
	t.Helper()
	conn := newTestDB(t)
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	q, err := New(Params{DB: conn, Clock: clock.Now})
	require.NoError(t, err)
	return q, clock, conn
}

func loadItem(t *testing.T, conn *gorm.DB, id string) models.RetryQueueItem {
	t.Helper()
	var item models.RetryQueueItem
	require.NoError(t, conn.Where("id = ?", id).First(&item).Error)
	return item
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 15*time.Minute, Backoff(0))
	assert.Equal(t, 60*time.Minute, Backoff(1))
	assert.Equal(t, 240*time.Minute, Backoff(2))
	assert.Equal(t, 15*time.Minute, Backoff(-1))
}

func TestEnqueueDefaults(t *testing.T) {
	q, clock, conn := newTestQueue(t)

	id, err := q.Enqueue(context.Background(), enums.RetryKindPayout, map[string]any{"vendor_id": 42}, errors.New("timeout"), 0)
	require.NoError(t, err)
	assert.Len(t, id, 64)

	item := loadItem(t, conn, id)
	assert.Equal(t, 0, item.Attempts)
	assert.Equal(t, 3, item.MaxAttempts)
	assert.Equal(t, "timeout", item.LastError)
	assert.True(t, item.NextRetryAt.Equal(clock.Now().Add(15*time.Minute)))
	assert.JSONEq(t, `{"vendor_id":42}`, item.Payload)
}

func TestEnqueueRejectsEmptyKind(t *testing.T) {
	q, _, _ := newTestQueue(t)
	_, err := q.Enqueue(context.Background(), "", nil, nil, 0)
	require.Error(t, err)
}

func TestBackoffGrowthAndDropAfterMaxAttempts(t *testing.T) {
	q, clock, conn := newTestQueue(t)
	ctx := context.Background()

	calls := 0
	require.NoError(t, q.Registry().Register(enums.RetryKindPayment, func(context.Context, json.RawMessage) error {
		calls++
		return errors.New("provider down")
	}))

	id, err := q.Enqueue(ctx, enums.RetryKindPayment, map[string]string{"order_id": "o-1"}, nil, 3)
	require.NoError(t, err)

	deltas := []time.Duration{}
	prev := clock.Now()
	next := loadItem(t, conn, id).NextRetryAt
	deltas = append(deltas, next.Sub(prev))

	for i := 0; i < 2; i++ {
		clock.t = next
		stats, err := q.Drain(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)
		assert.Equal(t, 1, stats.Requeued)

		item := loadItem(t, conn, id)
		assert.Equal(t, i+1, item.Attempts)
		assert.Nil(t, item.LeaseOwner)
		deltas = append(deltas, item.NextRetryAt.Sub(clock.Now()))
		next = item.NextRetryAt
	}
	assert.Equal(t, []time.Duration{15 * time.Minute, 60 * time.Minute, 240 * time.Minute}, deltas)

	clock.t = next
	stats, err := q.Drain(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, 0, stats.Requeued)
	assert.EqualValues(t, 0, stats.Remaining)
	assert.Equal(t, 3, calls)

	var count int64
	require.NoError(t, conn.Model(&models.RetryQueueItem{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	dropped, err := q.ListDropped(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	assert.Equal(t, id, dropped[0].ID)
	assert.Equal(t, 3, dropped[0].Attempts)
	assert.Equal(t, "provider down", dropped[0].LastError)
}

func TestDrainProcessesOnlyDueItems(t *testing.T) {
	q, clock, conn := newTestQueue(t)
	ctx := context.Background()

	var seen []string
	require.NoError(t, q.Registry().Register(enums.RetryKindAccountVerification, func(_ context.Context, payload json.RawMessage) error {
		var p struct {
			VendorID int64 `json:"vendor_id"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		seen = append(seen, string(payload))
		return nil
	}))

	first, err := q.Enqueue(ctx, enums.RetryKindAccountVerification, map[string]int64{"vendor_id": 1}, nil, 0)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := q.Enqueue(ctx, enums.RetryKindAccountVerification, map[string]int64{"vendor_id": 2}, nil, 0)
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	future, err := q.Enqueue(ctx, enums.RetryKindAccountVerification, map[string]int64{"vendor_id": 3}, nil, 0)
	require.NoError(t, err)
	futureBefore := loadItem(t, conn, future)

	stats, err := q.Drain(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Skipped)
	assert.EqualValues(t, 1, stats.Remaining)
	assert.Equal(t, []string{`{"vendor_id":1}`, `{"vendor_id":2}`}, seen)

	for _, id := range []string{first, second} {
		var n int64
		require.NoError(t, conn.Model(&models.RetryQueueItem{}).Where("id = ?", id).Count(&n).Error)
		assert.EqualValues(t, 0, n)
	}

	futureAfter := loadItem(t, conn, future)
	assert.True(t, futureAfter.NextRetryAt.Equal(futureBefore.NextRetryAt))
	assert.Equal(t, 0, futureAfter.Attempts)
	assert.Nil(t, futureAfter.LeaseOwner)
}

func TestDrainUnknownKindCountsAsFailure(t *testing.T) {
	q, clock, conn := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, enums.RetryOperationKind("refund"), map[string]string{"charge": "ch_1"}, nil, 0)
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)

	stats, err := q.Drain(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Requeued)
	assert.Contains(t, loadItem(t, conn, id).LastError, "no retry handler")
}

func TestDrainSkipsItemsLeasedElsewhere(t *testing.T) {
	q, clock, conn := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Registry().Register(enums.RetryKindPayout, func(context.Context, json.RawMessage) error {
		t.Fatal("leased item must not run")
		return nil
	}))

	id, err := q.Enqueue(ctx, enums.RetryKindPayout, map[string]int{"n": 1}, nil, 0)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	owner := "other-drainer"
	expires := clock.Now().Add(time.Minute)
	require.NoError(t, conn.Model(&models.RetryQueueItem{}).Where("id = ?", id).
		UpdateColumns(map[string]any{"lease_owner": owner, "lease_expires_at": expires}).Error)

	stats, err := q.Drain(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)
	assert.EqualValues(t, 1, stats.Remaining)
}

func TestClaimUsesFreshRowAfterConcurrentPass(t *testing.T) {
	q, clock, conn := newTestQueue(t)
	ctx := context.Background()
	calls := 0
	require.NoError(t, q.Registry().Register(enums.RetryKindPayout, func(context.Context, json.RawMessage) error {
		calls++
		return errors.New("provider timeout")
	}))

	id, err := q.Enqueue(ctx, enums.RetryKindPayout, map[string]int{"n": 1}, nil, 0)
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)
	now := clock.Now()

	snapshot, err := q.repo.Candidates(ctx, now, 5)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	// Another drainer runs the item to completion before this one claims it.
	stats, err := q.Drain(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Requeued)
	rescheduled := loadItem(t, conn, id)
	require.Equal(t, 1, rescheduled.Attempts)

	var late Stats
	require.NoError(t, q.claimAndProcess(ctx, snapshot[0].ID, "late-drainer", now, &late))
	assert.Equal(t, 0, late.Processed)
	assert.Equal(t, 1, late.Skipped)
	assert.Equal(t, 1, calls)

	item := loadItem(t, conn, id)
	assert.Equal(t, 1, item.Attempts)
	assert.True(t, item.NextRetryAt.Equal(rescheduled.NextRetryAt))
	assert.Nil(t, item.LeaseOwner)
}

func TestClaimIgnoresItemsFinishedElsewhere(t *testing.T) {
	q, clock, _ := newTestQueue(t)
	ctx := context.Background()
	calls := 0
	require.NoError(t, q.Registry().Register(enums.RetryKindPayout, func(context.Context, json.RawMessage) error {
		calls++
		return nil
	}))

	id, err := q.Enqueue(ctx, enums.RetryKindPayout, map[string]int{"n": 1}, nil, 0)
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)

	_, err = q.Drain(ctx, 5)
	require.NoError(t, err)

	var late Stats
	require.NoError(t, q.claimAndProcess(ctx, id, "late-drainer", clock.Now(), &late))
	assert.Equal(t, 0, late.Processed)
	assert.Equal(t, 1, calls)
}

func TestDrainRecoversHandlerPanic(t *testing.T) {
	q, clock, conn := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Registry().Register(enums.RetryKindPayout, func(context.Context, json.RawMessage) error {
		panic("nil account")
	}))

	id, err := q.Enqueue(ctx, enums.RetryKindPayout, map[string]int{"n": 1}, nil, 0)
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)

	stats, err := q.Drain(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Contains(t, loadItem(t, conn, id).LastError, "panic")
}

func TestDrainRejectsNonPositiveLimit(t *testing.T) {
	q, _, _ := newTestQueue(t)
	_, err := q.Drain(context.Background(), 0)
	require.Error(t, err)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	fn := func(context.Context, json.RawMessage) error { return nil }
	require.NoError(t, r.Register(enums.RetryKindPayment, fn))
	require.Error(t, r.Register(enums.RetryKindPayment, fn))
	require.Error(t, r.Register("", fn))
	require.Error(t, r.Register(enums.RetryKindPayout, nil))

	_, ok := r.Lookup(enums.RetryKindPayment)
	assert.True(t, ok)
}

func TestTruncateError(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncateError(string(long)), 1024)
	assert.Equal(t, "short", truncateError("short"))
}
