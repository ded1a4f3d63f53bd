package idem

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogersnm/griddle/internal/fault"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *RecordStore) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idempotency.db")
	records, err := OpenRecordStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })
	return NewCoordinator(records, time.Hour, nil), records
}

func TestExecute_RunsOnce(t *testing.T) {
	c, _ := newTestCoordinator(t)
	hash := HashPayload("create_entry", map[string]string{"id": "2025-01-10_roast-chicken"})

	var calls atomic.Int32
	op := func() (Result, error) {
		calls.Add(1)
		return Result{EntryID: "2025-01-10_roast-chicken", Revision: "abc123"}, nil
	}

	first, err := c.Execute(context.Background(), "tok-1", hash, op, nil)
	require.NoError(t, err)
	second, err := c.Execute(context.Background(), "tok-1", hash, op, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_EmptyToken(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.Execute(context.Background(), "", "h", func() (Result, error) {
		t.Fatal("op must not run without a token")
		return Result{}, nil
	}, nil)
	assert.True(t, fault.Is(err, fault.SchemaError))
}

func TestExecute_ConflictOnDifferentPayload(t *testing.T) {
	c, _ := newTestCoordinator(t)

	_, err := c.Execute(context.Background(), "tok-1", "hash-a", func() (Result, error) {
		return Result{EntryID: "e", Revision: "r"}, nil
	}, nil)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), "tok-1", "hash-b", func() (Result, error) {
		t.Fatal("op must not run on payload conflict")
		return Result{}, nil
	}, nil)
	assert.True(t, fault.Is(err, fault.ConflictOnRetry))
}

func TestExecute_ReplaysTerminalError(t *testing.T) {
	c, _ := newTestCoordinator(t)

	var calls atomic.Int32
	op := func() (Result, error) {
		calls.Add(1)
		return Result{}, fault.New(fault.AlreadyExists, "entry exists")
	}

	_, err := c.Execute(context.Background(), "tok-1", "h", op, nil)
	assert.True(t, fault.Is(err, fault.AlreadyExists))
	_, err = c.Execute(context.Background(), "tok-1", "h", op, nil)
	assert.True(t, fault.Is(err, fault.AlreadyExists))
	assert.Equal(t, int32(1), calls.Load(), "terminal error should be replayed, not re-executed")
}

func TestExecute_RetriesAfterTransientError(t *testing.T) {
	c, _ := newTestCoordinator(t)

	var calls atomic.Int32
	op := func() (Result, error) {
		if calls.Add(1) == 1 {
			return Result{}, fault.New(fault.LockTimeout, "busy")
		}
		return Result{EntryID: "e", Revision: "r"}, nil
	}

	_, err := c.Execute(context.Background(), "tok-1", "h", op, nil)
	assert.True(t, fault.Is(err, fault.LockTimeout))
	res, err := c.Execute(context.Background(), "tok-1", "h", op, nil)
	require.NoError(t, err)
	assert.Equal(t, "r", res.Revision)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecute_TransientErrorLeavesNoRecord(t *testing.T) {
	c, records := newTestCoordinator(t)

	_, err := c.Execute(context.Background(), "tok-1", "h", func() (Result, error) {
		return Result{}, fault.New(fault.StorageIO, "disk full")
	}, nil)
	assert.True(t, fault.Is(err, fault.StorageIO))

	rec, err := records.Get("tok-1", time.Now())
	require.NoError(t, err)
	assert.Nil(t, rec, "a transient failure must not leave a pending record behind")
}

func TestExecute_CoalescesConcurrentDuplicates(t *testing.T) {
	c, _ := newTestCoordinator(t)

	var calls atomic.Int32
	started := make(chan struct{})
	proceed := make(chan struct{})
	op := func() (Result, error) {
		calls.Add(1)
		close(started)
		<-proceed
		return Result{EntryID: "e", Revision: "r"}, nil
	}

	var wg sync.WaitGroup
	results := make([]Result, 10)
	errs := make([]error, 10)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.Execute(context.Background(), "tok-1", "h", op, nil)
	}()
	<-started
	for i := 1; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Execute(context.Background(), "tok-1", "h", op, nil)
		}(i)
	}
	close(proceed)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < 10; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, Result{EntryID: "e", Revision: "r"}, results[i])
	}
}

func TestExecute_InflightConflict(t *testing.T) {
	c, _ := newTestCoordinator(t)

	started := make(chan struct{})
	proceed := make(chan struct{})
	go c.Execute(context.Background(), "tok-1", "hash-a", func() (Result, error) {
		close(started)
		<-proceed
		return Result{}, nil
	}, nil)
	<-started
	defer close(proceed)

	_, err := c.Execute(context.Background(), "tok-1", "hash-b", func() (Result, error) {
		return Result{}, nil
	}, nil)
	assert.True(t, fault.Is(err, fault.ConflictOnRetry))
}

func TestExecute_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idempotency.db")

	records, err := OpenRecordStore(path)
	require.NoError(t, err)
	c := NewCoordinator(records, time.Hour, nil)
	res, err := c.Execute(context.Background(), "tok-1", "h", func() (Result, error) {
		return Result{EntryID: "e", Revision: "r1"}, nil
	}, nil)
	require.NoError(t, err)
	require.NoError(t, records.Close())

	records, err = OpenRecordStore(path)
	require.NoError(t, err)
	defer records.Close()
	c = NewCoordinator(records, time.Hour, nil)
	replayed, err := c.Execute(context.Background(), "tok-1", "h", func() (Result, error) {
		t.Fatal("op must not run after restart replay")
		return Result{}, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, res, replayed)
}

func TestExecute_PendingRecordResolvesFromHistory(t *testing.T) {
	c, records := newTestCoordinator(t)

	// Simulate a crash between the durable commit and the record finalize:
	// a pending record exists, and the commit is findable by the resolver.
	now := time.Now()
	require.NoError(t, records.Put(Record{
		Token: "tok-1", PayloadHash: "h",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	res, err := c.Execute(context.Background(), "tok-1", "h", func() (Result, error) {
		t.Fatal("op must not re-execute when the interrupted attempt committed")
		return Result{}, nil
	}, func() (Result, bool, error) {
		return Result{EntryID: "e", Revision: "recovered"}, true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Revision)

	// The record is finalized, so a later retry replays without resolving.
	res, err = c.Execute(context.Background(), "tok-1", "h", func() (Result, error) {
		t.Fatal("op must not run after finalize")
		return Result{}, nil
	}, func() (Result, bool, error) {
		t.Fatal("resolve must not run for a finalized record")
		return Result{}, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Revision)
}

func TestExecute_PendingRecordNotCommittedReExecutes(t *testing.T) {
	c, records := newTestCoordinator(t)

	// The previous attempt wrote its pending record but died before its
	// commit: the resolver finds nothing and op runs.
	now := time.Now()
	require.NoError(t, records.Put(Record{
		Token: "tok-1", PayloadHash: "h",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	var calls atomic.Int32
	res, err := c.Execute(context.Background(), "tok-1", "h", func() (Result, error) {
		calls.Add(1)
		return Result{EntryID: "e", Revision: "r"}, nil
	}, func() (Result, bool, error) {
		return Result{}, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "r", res.Revision)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_PendingRecordConflictingPayload(t *testing.T) {
	c, records := newTestCoordinator(t)

	now := time.Now()
	require.NoError(t, records.Put(Record{
		Token: "tok-1", PayloadHash: "hash-a",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	_, err := c.Execute(context.Background(), "tok-1", "hash-b", func() (Result, error) {
		t.Fatal("op must not run on payload conflict")
		return Result{}, nil
	}, nil)
	assert.True(t, fault.Is(err, fault.ConflictOnRetry))
}

func TestExecute_ExpiredRecordReExecutes(t *testing.T) {
	c, _ := newTestCoordinator(t)

	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	var calls atomic.Int32
	op := func() (Result, error) {
		calls.Add(1)
		return Result{EntryID: "e", Revision: "r"}, nil
	}
	_, err := c.Execute(context.Background(), "tok-1", "h", op, nil)
	require.NoError(t, err)

	// Jump past the retention window; the record is treated as unseen.
	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = c.Execute(context.Background(), "tok-1", "h", op, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecute_PanicFreesToken(t *testing.T) {
	c, _ := newTestCoordinator(t)

	func() {
		defer func() { recover() }()
		c.Execute(context.Background(), "tok-1", "h", func() (Result, error) {
			panic("boom")
		}, nil)
	}()

	res, err := c.Execute(context.Background(), "tok-1", "h", func() (Result, error) {
		return Result{EntryID: "e", Revision: "r"}, nil
	}, func() (Result, bool, error) {
		// The panicked attempt left its pending record; it never committed.
		return Result{}, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "r", res.Revision)
}

func TestHashPayload_Stable(t *testing.T) {
	type params struct {
		ID   string `json:"id"`
		Note string `json:"note"`
	}
	a := HashPayload("append_observation", params{ID: "x", Note: "y"})
	b := HashPayload("append_observation", params{ID: "x", Note: "y"})
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, HashPayload("append_observation", params{ID: "x", Note: "z"}))
	assert.NotEqual(t, a, HashPayload("update_outcomes", params{ID: "x", Note: "y"}))
}

func TestRecordStore_PurgeDropsExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotency.db")
	s, err := OpenRecordStore(path)
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(Record{
		Token: "old", PayloadHash: "h",
		CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour),
	}))
	require.NoError(t, s.Put(Record{
		Token: "live", PayloadHash: "h",
		CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}))

	n, err := s.Purge(now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := s.Get("live", now)
	require.NoError(t, err)
	require.NotNil(t, rec)
	rec, err = s.Get("old", now)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecordStore_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotency.db")
	s, err := OpenRecordStore(path)
	require.NoError(t, err)
	defer s.Close()

	now := time.Now()
	require.NoError(t, s.Put(Record{
		Token: "tok-1", PayloadHash: "h",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, s.Delete("tok-1"))

	rec, err := s.Get("tok-1", now)
	require.NoError(t, err)
	assert.Nil(t, rec)

	assert.NoError(t, s.Delete("tok-missing"))
}
