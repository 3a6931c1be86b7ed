package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(identityID, subject, day string) Event {
	return Event{
		IdentityID: identityID,
		Subject:    subject,
		Day:        day,
		RecordedAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		Method:     MethodBiometric,
		Status:     StatusPresent,
	}
}

func TestRecordIsIdempotentPerKey(t *testing.T) {
	repo := NewInMemRepository()
	ctx := context.Background()

	first, err := repo.Record(ctx, testEvent("s1", "Math", "2025-03-10"))
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := repo.Record(ctx, testEvent("s1", "Math", "2025-03-10"))
	require.ErrorIs(t, err, ErrAlreadyMarked)
	assert.Equal(t, first.ID, second.ID, "dedup hit must return the original event")

	third, err := repo.Record(ctx, testEvent("s1", "Math", "2025-03-10"))
	require.ErrorIs(t, err, ErrAlreadyMarked)
	assert.Equal(t, first.ID, third.ID)
}

func TestRecordDistinctKeysAllSucceed(t *testing.T) {
	repo := NewInMemRepository()
	ctx := context.Background()

	_, err := repo.Record(ctx, testEvent("s1", "Math", "2025-03-10"))
	require.NoError(t, err)
	_, err = repo.Record(ctx, testEvent("s1", "Physics", "2025-03-10"))
	require.NoError(t, err)
	_, err = repo.Record(ctx, testEvent("s1", "Math", "2025-03-11"))
	require.NoError(t, err)
	_, err = repo.Record(ctx, testEvent("s2", "Math", "2025-03-10"))
	require.NoError(t, err)

	events, err := repo.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestRecordConcurrentSameKeyExactlyOneWins(t *testing.T) {
	repo := NewInMemRepository()
	ctx := context.Background()

	const attempts = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		recorded int
		dups     int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Record(ctx, testEvent("s1", "Math", "2025-03-10"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				recorded++
			} else if assert.ErrorIs(t, err, ErrAlreadyMarked) {
				dups++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, recorded)
	assert.Equal(t, attempts-1, dups)

	events, err := repo.Query(ctx, Filter{IdentityID: "s1"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecordInSessionCapacity(t *testing.T) {
	repo := NewInMemRepository()
	ctx := context.Background()
	sid := "sess-1"

	for _, id := range []string{"s1", "s2", "s3"} {
		evt := testEvent(id, "Math", "2025-03-10")
		evt.SessionID = &sid
		evt.Method = MethodToken
		_, err := repo.RecordInSession(ctx, evt, 3)
		require.NoError(t, err)
	}

	evt := testEvent("s4", "Math", "2025-03-10")
	evt.SessionID = &sid
	_, err := repo.RecordInSession(ctx, evt, 3)
	require.ErrorIs(t, err, ErrCapacityExceeded)

	count, err := repo.CountBySession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRecordInSessionConcurrentCapacityOne(t *testing.T) {
	repo := NewInMemRepository()
	ctx := context.Background()
	sid := "sess-1"

	const attempts = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		recorded int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			evt := testEvent("s"+string(rune('a'+n)), "Math", "2025-03-10")
			evt.SessionID = &sid
			_, err := repo.RecordInSession(ctx, evt, 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				recorded++
			} else if assert.ErrorIs(t, err, ErrCapacityExceeded) {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, recorded)
	assert.Equal(t, attempts-1, rejected)

	count, err := repo.CountBySession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordInSessionDedupBeforeCapacity(t *testing.T) {
	repo := NewInMemRepository()
	ctx := context.Background()
	sid := "sess-1"

	evt := testEvent("s1", "Math", "2025-03-10")
	evt.SessionID = &sid
	first, err := repo.RecordInSession(ctx, evt, 1)
	require.NoError(t, err)

	// Re-scanning with the session full must still report already-marked,
	// not capacity.
	again, err := repo.RecordInSession(ctx, evt, 1)
	require.ErrorIs(t, err, ErrAlreadyMarked)
	assert.Equal(t, first.ID, again.ID)
}

func TestSummaryTracksTotalsAndLastSeen(t *testing.T) {
	repo := NewInMemRepository()
	ctx := context.Background()

	evt1 := testEvent("s1", "Math", "2025-03-10")
	evt2 := testEvent("s1", "Math", "2025-03-11")
	evt2.RecordedAt = evt1.RecordedAt.Add(24 * time.Hour)

	_, err := repo.Record(ctx, evt1)
	require.NoError(t, err)
	_, err = repo.Record(ctx, evt2)
	require.NoError(t, err)
	_, err = repo.Record(ctx, evt2) // dup, must not bump the summary
	require.ErrorIs(t, err, ErrAlreadyMarked)

	s, err := repo.Summary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Total)
	require.NotNil(t, s.LastSeen)
	assert.Equal(t, evt2.RecordedAt, *s.LastSeen)
}

func TestSummaryUnknownIdentityIsZero(t *testing.T) {
	repo := NewInMemRepository()
	s, err := repo.Summary(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Total)
	assert.Nil(t, s.LastSeen)
}

func TestQueryFilters(t *testing.T) {
	repo := NewInMemRepository()
	ctx := context.Background()
	sid := "sess-1"

	evtA := testEvent("s1", "Math", "2025-03-10")
	evtB := testEvent("s2", "Math", "2025-03-10")
	evtB.SessionID = &sid
	evtC := testEvent("s1", "Physics", "2025-03-11")
	for _, evt := range []Event{evtA, evtB, evtC} {
		_, err := repo.Record(ctx, evt)
		require.NoError(t, err)
	}

	bySubject, err := repo.Query(ctx, Filter{Subject: "Math"})
	require.NoError(t, err)
	assert.Len(t, bySubject, 2)

	byDay, err := repo.Query(ctx, Filter{Day: "2025-03-11"})
	require.NoError(t, err)
	assert.Len(t, byDay, 1)

	bySession, err := repo.Query(ctx, Filter{SessionID: sid})
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, "s2", bySession[0].IdentityID)

	byIdentityAndSubject, err := repo.Query(ctx, Filter{IdentityID: "s1", Subject: "Physics"})
	require.NoError(t, err)
	assert.Len(t, byIdentityAndSubject, 1)
}

func TestPurge(t *testing.T) {
	repo := NewInMemRepository()
	ctx := context.Background()

	_, err := repo.Record(ctx, testEvent("s1", "Math", "2025-03-10"))
	require.NoError(t, err)
	_, err = repo.Record(ctx, testEvent("s2", "Math", "2025-03-10"))
	require.NoError(t, err)

	_, err = repo.Purge(ctx, Filter{})
	assert.Error(t, err, "unfiltered purge must be refused")

	removed, err := repo.Purge(ctx, Filter{IdentityID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// The key is free again after an explicit purge.
	_, err = repo.Record(ctx, testEvent("s1", "Math", "2025-03-10"))
	require.NoError(t, err)
}

func TestDayOfUsesLocation(t *testing.T) {
	// 23:30 UTC on March 10 is already March 11 in Nairobi.
	at := time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)
	nairobi, err := time.LoadLocation("Africa/Nairobi")
	require.NoError(t, err)

	assert.Equal(t, "2025-03-10", DayOf(at, time.UTC))
	assert.Equal(t, "2025-03-11", DayOf(at, nairobi))
	assert.Equal(t, "2025-03-10", DayOf(at, nil))
}
