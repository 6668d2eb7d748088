package index

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/sessiondb/core"
	"github.com/poiesic/sessiondb/queue"
	"github.com/poiesic/sessiondb/storage"
	"github.com/poiesic/sessiondb/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *queue.Queue, *memory.Adapter) {
	t.Helper()
	adapter := memory.New()
	q, err := queue.New(adapter, queue.WithInterval(time.Hour))
	require.NoError(t, err)
	e, err := NewEngine(adapter, q, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		e.Close()
		q.Close()
		adapter.Close()
	})
	return e, q, adapter
}

func meta(id, title, category string, status core.SessionStatus, created time.Time, tags ...string) *core.SessionMetadata {
	return &core.SessionMetadata{
		Id:        core.SessionID(id),
		Title:     title,
		Category:  category,
		Tags:      tags,
		Status:    status,
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func day(s string) time.Time {
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return ts.UTC()
}

func seedEngine(t *testing.T, e *Engine) {
	t.Helper()
	e.UpdateSession(meta("01A", "Morning standup", "meetings", core.StatusCompleted, day("2026-08-01"), "work"))
	e.UpdateSession(meta("01B", "Focus coding block", "deep-work", core.StatusCompleted, day("2026-08-02"), "work", "coding"))
	e.UpdateSession(meta("01C", "Evening review", "meetings", core.StatusActive, day("2026-08-03"), "personal"))
}

func TestTermSearch(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedEngine(t, e)
	ctx := context.Background()

	ids, err := e.Search(ctx, Term(IndexCategory, "meetings"))
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"01A", "01C"}, ids)

	ids, err = e.Search(ctx, Term(IndexTag, "coding"))
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"01B"}, ids)

	// Terms are case-insensitive.
	ids, err = e.Search(ctx, Term(IndexCategory, "MEETINGS"))
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestTitleTokenSearch(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedEngine(t, e)

	ids, err := e.Search(context.Background(), Term(IndexTitle, "standup"))
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"01A"}, ids)
}

func TestUnknownIndexAndTermMatchNothing(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedEngine(t, e)
	ctx := context.Background()

	ids, err := e.Search(ctx, Term("nonexistent", "x"))
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = e.Search(ctx, Term(IndexTag, "nonexistent"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAndIntersects(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedEngine(t, e)

	ids, err := e.Search(context.Background(), And(
		Term(IndexCategory, "meetings"),
		Term(IndexStatus, "completed"),
	))
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"01A"}, ids)
}

func TestOrUnions(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedEngine(t, e)

	ids, err := e.Search(context.Background(), Or(
		Term(IndexTag, "coding"),
		Term(IndexTag, "personal"),
	))
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"01B", "01C"}, ids)
}

func TestNestedPredicates(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedEngine(t, e)

	// (meetings OR deep-work) AND completed
	ids, err := e.Search(context.Background(), And(
		Or(Term(IndexCategory, "meetings"), Term(IndexCategory, "deep-work")),
		Term(IndexStatus, "completed"),
	))
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"01A", "01B"}, ids)
}

func TestDateRange(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedEngine(t, e)
	ctx := context.Background()

	ids, err := e.Search(ctx, DateRange(day("2026-08-01"), day("2026-08-02")))
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"01A", "01B"}, ids)

	ids, err = e.Search(ctx, DateRange(day("2026-07-01"), day("2026-07-31")))
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = e.Search(ctx, DateRange(day("2026-08-02"), day("2026-08-01")))
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestNilPredicate(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Search(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilPredicate)
}

func TestUpdateReplacesPostings(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.UpdateSession(meta("01A", "Recording", "work", core.StatusActive, day("2026-08-01")))
	e.UpdateSession(meta("01A", "Recording", "work", core.StatusCompleted, day("2026-08-01")))

	ids, err := e.Search(ctx, Term(IndexStatus, "active"))
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = e.Search(ctx, Term(IndexStatus, "completed"))
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"01A"}, ids)
}

func TestRemoveSession(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedEngine(t, e)

	e.RemoveSession("01B")

	ids, err := e.Search(context.Background(), Term(IndexTag, "work"))
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"01A"}, ids)
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	e, q, adapter := newTestEngine(t)
	seedEngine(t, e)
	ctx := context.Background()

	require.NoError(t, e.Flush(ctx))
	require.NoError(t, q.Flush(ctx))

	fresh, err := NewEngine(adapter, q)
	require.NoError(t, err)
	defer fresh.Close()
	require.NoError(t, fresh.Load(ctx))

	ids, err := fresh.Search(ctx, Term(IndexCategory, "meetings"))
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"01A", "01C"}, ids)
}

type stubSource struct {
	metas []*core.SessionMetadata
}

func (s *stubSource) AllMetadata(_ context.Context) ([]*core.SessionMetadata, error) {
	return s.metas, nil
}

func TestLoadRebuildsOnCorruption(t *testing.T) {
	src := &stubSource{metas: []*core.SessionMetadata{
		meta("01A", "Recovered", "work", core.StatusActive, day("2026-08-01")),
	}}
	e, _, adapter := newTestEngine(t, WithSource(src))
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, storage.IndexKey(IndexStatus), []byte{0xff, 0x01}))

	require.NoError(t, e.Load(ctx))

	ids, err := e.Search(ctx, Term(IndexStatus, "active"))
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"01A"}, ids)
	assert.Equal(t, uint64(1), e.Stats().Rebuilds)
}

func TestPeriodicFlushPersistsPostings(t *testing.T) {
	adapter := memory.New()
	q, err := queue.New(adapter, queue.WithInterval(5*time.Millisecond))
	require.NoError(t, err)
	e, err := NewEngine(adapter, q, WithFlushInterval(5*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() {
		e.Close()
		q.Close()
		adapter.Close()
	})
	ctx := context.Background()

	e.UpdateSession(meta("01A", "Background persistence", "work", core.StatusActive, day("2026-08-01")))

	// Postings reach storage without an explicit Flush or Close.
	require.Eventually(t, func() bool {
		data, err := adapter.Get(ctx, storage.IndexKey(IndexStatus))
		if err != nil {
			return false
		}
		postings, err := storage.UnmarshalPostings(data)
		return err == nil && len(postings["active"]) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRebuildWithoutSource(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.ErrorIs(t, e.Rebuild(context.Background()), ErrNoSource)
}

func TestStats(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedEngine(t, e)

	stats := e.Stats()
	assert.Greater(t, stats.Terms, 0)
	assert.Greater(t, stats.Postings, 0)
	assert.Equal(t, uint64(0), stats.Rebuilds)
}
