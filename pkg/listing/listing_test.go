package listing_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/listing"
	"github.com/systmms/dsstore/pkg/pool"
	"github.com/systmms/dsstore/pkg/provider"
	"github.com/systmms/dsstore/pkg/version"
	"github.com/systmms/dsstore/tests/fakes"
)

func seedStore(n int) *fakes.FakeStore {
	store := fakes.NewFakeStore()
	for i := 0; i < n; i++ {
		store.WithEntity(provider.ResourcePath{Project: "p", Kind: provider.KindSecret, ID: fmt.Sprintf("secret-%03d", i)})
	}
	return store
}

func newSource(t *testing.T, store *fakes.FakeStore) *version.Manager {
	t.Helper()
	p, err := pool.New(pool.Config{Name: "listing", Size: 4, Retry: pool.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}}, store.Dialer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	m, err := version.New(p, version.Config{Project: "p", Kind: provider.KindSecret})
	require.NoError(t, err)
	return m
}

func ids(entities []provider.Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.Path.ID)
	}
	return out
}

func TestListAll_CompleteForEveryPageSize(t *testing.T) {
	t.Parallel()

	const n = 23
	store := seedStore(n)
	src := newSource(t, store)

	for _, pageSize := range []int{1, 2, 5, 22, 23, 24, 100} {
		t.Run(fmt.Sprintf("page_size_%d", pageSize), func(t *testing.T) {
			c := listing.New(src, listing.Config{PageSize: pageSize})
			got, err := c.ListAll("").Collect(context.Background())
			require.NoError(t, err)

			assert.Len(t, got, n)
			seen := make(map[string]int)
			for _, id := range ids(got) {
				seen[id]++
			}
			assert.Len(t, seen, n, "every entity exactly once")
			for id, count := range seen {
				assert.Equal(t, 1, count, id)
			}
		})
	}
}

func TestListAll_IsLazy(t *testing.T) {
	t.Parallel()

	store := seedStore(10)
	c := listing.New(newSource(t, store), listing.Config{PageSize: 3})

	it := c.ListAll("")
	assert.Equal(t, 0, store.Calls(fakes.OpListEntities), "no fetch before the first pull")

	_, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls(fakes.OpListEntities))
	assert.Equal(t, 1, it.Pages())
}

func TestListAll_Restartable(t *testing.T) {
	t.Parallel()

	store := seedStore(7)
	c := listing.New(newSource(t, store), listing.Config{PageSize: 3})
	ctx := context.Background()

	first := c.ListAll("")
	_, err := first.Next(ctx)
	require.NoError(t, err)

	all, err := c.ListAll("").Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 7)

	rest, err := first.Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, rest, 6, "the first iterator continues independently")
}

func TestListAll_Filter(t *testing.T) {
	t.Parallel()

	store := seedStore(12)
	c := listing.New(newSource(t, store), listing.Config{PageSize: 4})

	got, err := c.ListAll("name:secret-00").Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestListAll_Empty(t *testing.T) {
	t.Parallel()

	c := listing.New(newSource(t, fakes.NewFakeStore()), listing.Config{})
	it := c.ListAll("")

	_, err := it.Next(context.Background())
	assert.Equal(t, listing.Done, err)
	_, err = it.Next(context.Background())
	assert.Equal(t, listing.Done, err, "Done is sticky")
}

func TestListAll_ErrorStopsIteration(t *testing.T) {
	t.Parallel()

	store := seedStore(6).FailOn(fakes.OpListEntities, status.Error(codes.PermissionDenied, "denied"), 1)
	c := listing.New(newSource(t, store), listing.Config{PageSize: 2})

	var doneErr error
	called := 0
	it := c.ListAll("").OnDone(func(err error) {
		called++
		doneErr = err
	})

	_, err := it.Next(context.Background())
	assert.Equal(t, errkind.PermissionDenied, errkind.KindOf(err))
	_, err2 := it.Next(context.Background())
	assert.Equal(t, err, err2)
	assert.Equal(t, 1, called)
	assert.Equal(t, errkind.PermissionDenied, errkind.KindOf(doneErr))
}

func TestIterator_OnDoneAtExhaustion(t *testing.T) {
	t.Parallel()

	c := listing.New(newSource(t, seedStore(3)), listing.Config{PageSize: 2})

	called := 0
	var doneErr error = fmt.Errorf("not called")
	it := c.ListAll("").OnDone(func(err error) {
		called++
		doneErr = err
	})
	for range it.All(context.Background()) {
	}
	_, _ = it.Next(context.Background())

	assert.Equal(t, 1, called)
	assert.NoError(t, doneErr)
}

func TestIterator_CloseEndsIteration(t *testing.T) {
	t.Parallel()

	c := listing.New(newSource(t, seedStore(5)), listing.Config{PageSize: 2})
	ctx := context.Background()

	t.Run("explicit close", func(t *testing.T) {
		called := 0
		it := c.ListAll("").OnDone(func(err error) {
			called++
			assert.NoError(t, err)
		})
		_, err := it.Next(ctx)
		require.NoError(t, err)

		it.Close()
		it.Close()
		assert.Equal(t, 1, called)
		assert.True(t, it.Abandoned())
		assert.Equal(t, 1, it.Pages())

		_, err = it.Next(ctx)
		assert.ErrorIs(t, err, listing.ErrClosed)
	})

	t.Run("break out of range", func(t *testing.T) {
		called := 0
		it := c.ListAll("").OnDone(func(error) { called++ })
		for range it.All(ctx) {
			break
		}
		assert.Equal(t, 1, called)
		assert.True(t, it.Abandoned())
	})

	t.Run("close after exhaustion", func(t *testing.T) {
		called := 0
		it := c.ListAll("").OnDone(func(error) { called++ })
		_, err := it.Collect(ctx)
		require.NoError(t, err)

		it.Close()
		assert.Equal(t, 1, called)
		assert.False(t, it.Abandoned())
	})
}

// scripted serves fixed pages keyed by token.
type scripted struct {
	pages map[string]provider.EntityPage
	calls int
}

func (s *scripted) EntityPage(_ context.Context, _, token string, _ int) (provider.EntityPage, error) {
	s.calls++
	return s.pages[token], nil
}

func (s *scripted) VersionPage(context.Context, string, string, int) (provider.VersionPage, error) {
	return provider.VersionPage{}, nil
}

func (s *scripted) DeleteEntity(context.Context, string) error { return nil }

func entity(id string) provider.Entity {
	return provider.Entity{Path: provider.ResourcePath{Project: "p", Kind: provider.KindSecret, ID: id}}
}

func TestIterator_SkipsEmptyPages(t *testing.T) {
	t.Parallel()

	src := &scripted{pages: map[string]provider.EntityPage{
		"":   {Entities: []provider.Entity{entity("a")}, NextPageToken: "t1"},
		"t1": {NextPageToken: "t2"},
		"t2": {NextPageToken: "t3"},
		"t3": {Entities: []provider.Entity{entity("b"), entity("c")}},
	}}

	got, err := listing.New(src, listing.Config{}).ListAll("").Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))
	assert.Equal(t, 4, src.calls)
}

func TestIterator_StuckToken(t *testing.T) {
	t.Parallel()

	src := &scripted{pages: map[string]provider.EntityPage{
		"":     {Entities: []provider.Entity{entity("a")}, NextPageToken: "loop"},
		"loop": {Entities: []provider.Entity{entity("b")}, NextPageToken: "loop"},
	}}

	got, err := listing.New(src, listing.Config{}).ListAll("").Collect(context.Background())
	assert.Equal(t, errkind.Unknown, errkind.KindOf(err))
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestVersions(t *testing.T) {
	t.Parallel()

	path := provider.ResourcePath{Project: "p", Kind: provider.KindSecret, ID: "s"}
	store := fakes.NewFakeStore().WithEntity(path, []byte("1"), []byte("2"), []byte("3"), []byte("4"), []byte("5"))
	c := listing.New(newSource(t, store), listing.Config{PageSize: 2})

	got, err := c.Versions("s").Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, "5", got[0].ID)
	assert.Equal(t, "1", got[4].ID)
	for _, v := range got {
		assert.Nil(t, v.Payload)
	}
	assert.Equal(t, 0, store.Calls(fakes.OpGetVersion))
}

func TestBatchDelete_PartialFailure(t *testing.T) {
	t.Parallel()

	store := seedStore(5)
	c := listing.New(newSource(t, store), listing.Config{Concurrency: 3})

	valid := []string{"secret-000", "secret-001", "secret-002"}
	input := append([]string{"missing-1", "bad/id", "missing-2"}, valid...)

	res := c.BatchDelete(context.Background(), input)

	assert.Equal(t, valid, res.Succeeded)
	assert.Len(t, res.Failed, 3)
	assert.Equal(t, errkind.NotFound, res.Failed["missing-1"])
	assert.Equal(t, errkind.NotFound, res.Failed["missing-2"])
	assert.Equal(t, errkind.InvalidArgument, res.Failed["bad/id"])
	assert.Equal(t, 6, res.Total())
	assert.False(t, res.OK())
	assert.Equal(t, 2, store.Len())

	for id, err := range res.Errors {
		var de *errkind.Error
		require.ErrorAs(t, err, &de, id)
	}
}

func TestBatchDelete_Deduplicates(t *testing.T) {
	t.Parallel()

	store := seedStore(2)
	c := listing.New(newSource(t, store), listing.Config{})

	res := c.BatchDelete(context.Background(), []string{"secret-000", "secret-000", "secret-001"})
	assert.True(t, res.OK())
	assert.Equal(t, []string{"secret-000", "secret-001"}, res.Succeeded)
	assert.Equal(t, 2, store.Calls(fakes.OpDeleteEntity))
}

func TestBatch_AttemptsEveryItemAfterCancel(t *testing.T) {
	t.Parallel()

	c := listing.New(&scripted{}, listing.Config{Concurrency: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var mu sync.Mutex
	var attempted []string
	res := c.Batch(ctx, "touch", []string{"a", "b", "c"}, func(ctx context.Context, id string) error {
		mu.Lock()
		attempted = append(attempted, id)
		mu.Unlock()
		return ctx.Err()
	})

	sort.Strings(attempted)
	assert.Equal(t, []string{"a", "b", "c"}, attempted)
	assert.Empty(t, res.Succeeded)
	assert.Len(t, res.Failed, 3)
}
