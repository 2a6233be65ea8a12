package memstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/xref/internal/storage"
	"github.com/standardbeagle/xref/internal/storage/storagetest"
	"github.com/standardbeagle/xref/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCompliance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return New() })
}

func TestClosedStore(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	_, err := s.ReadFileInfo(context.Background(), "a.go")
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = s.Begin(context.Background())
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestBeginRacingClose(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		s := New()
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
		require.NotPanics(t, func() {
			tx, err := s.Begin(ctx)
			if err != nil {
				assert.ErrorIs(t, err, storage.ErrClosed)
				return
			}
			assert.NoError(t, tx.Rollback(ctx))
		})
		wg.Wait()

		// the writer token is free again, so a closed store fails instead of blocking
		_, err := s.Begin(ctx)
		assert.ErrorIs(t, err, storage.ErrClosed)
		assert.ErrorIs(t, s.Destroy(ctx), storage.ErrClosed)
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				names, err := s.Names(ctx, "declarations")
				assert.NoError(t, err)
				// each commit adds exactly one name, snapshots never show a torn state
				res, err := s.Resources(ctx)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(names), len(res)+1)
			}
		}()
	}

	for i := 0; i < 50; i++ {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		r := types.Resource("f" + string(rune('a'+i%26)) + ".go")
		ft, err := tx.CreateFileTransaction(ctx, r)
		require.NoError(t, err)
		name := string(r) + "_decl"
		loc := types.Location{Element: types.Element{Resource: r, Name: name}, Kind: "function", Offset: i}
		require.NoError(t, ft.Updater().AddRelationship(ctx, "declarations", loc, types.NameLocation(name)))
		require.NoError(t, ft.Commit(ctx))
		require.NoError(t, tx.Commit(ctx))
	}
	close(stop)
	wg.Wait()
}
