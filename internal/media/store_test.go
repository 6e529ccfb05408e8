package media_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediastore/service/internal/media"
)

const testMaxBytes = 1 << 20

var testExts = []string{".jpg", ".png", ".gif"}

func TestStoreImplementations(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(t *testing.T) media.Store
	}{
		{
			name: "store backed by a host filesystem directory",
			setup: func(t *testing.T) media.Store {
				store, err := media.NewDiskStore(t.TempDir(), testMaxBytes, testExts)
				require.NoError(t, err)
				return store
			},
		},
		{
			name: "store backed by an S3-compatible endpoint",
			setup: func(t *testing.T) media.Store {
				endpoint := os.Getenv("TEST_S3_ENDPOINT")
				if endpoint == "" {
					t.Skip("TEST_S3_ENDPOINT not set")
				}
				store, err := media.NewS3Store(
					endpoint,
					os.Getenv("TEST_S3_ACCESS_KEY"),
					os.Getenv("TEST_S3_SECRET_KEY"),
					fmt.Sprintf("media-test-%s", media.NewID()[:8]),
					false,
					testMaxBytes,
					testExts,
				)
				require.NoError(t, err)
				return store
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			testStore(t, tc.setup(t))
		})
	}
}

func testStore(t *testing.T, store media.Store) {
	ctx := context.Background()

	put := func(t *testing.T, payload []byte, filename string) *media.Object {
		t.Helper()
		obj, err := store.Put(ctx, bytes.NewReader(payload), filename, "")
		require.NoError(t, err)
		return obj
	}
	read := func(t *testing.T, obj *media.Object) []byte {
		t.Helper()
		rc, got, err := store.Get(ctx, obj.ID, obj.Ext)
		require.NoError(t, err)
		defer rc.Close()
		assert.Equal(t, obj.ID, got.ID)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return data
	}

	t.Run("what you put is what you get", func(t *testing.T) {
		payload := randomPayload(t, 4096)
		obj := put(t, payload, "photo.png")
		assert.True(t, media.ValidID(obj.ID))
		assert.Equal(t, ".png", obj.Ext)
		assert.Equal(t, "image/png", obj.ContentType)
		assert.EqualValues(t, len(payload), obj.Size)
		assert.Equal(t, payload, read(t, obj))
	})

	t.Run("sequential puts never repeat an id", func(t *testing.T) {
		seen := make(map[string]struct{})
		for i := 0; i < 25; i++ {
			obj := put(t, randomPayload(t, 64), "a.jpg")
			_, dup := seen[obj.ID]
			require.False(t, dup, "duplicate id %q", obj.ID)
			seen[obj.ID] = struct{}{}
		}
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, _, err := store.Get(ctx, strings.Repeat("0f", 16), ".png")
		assert.ErrorIs(t, err, media.ErrNotFound)
		_, err = store.Stat(ctx, strings.Repeat("0f", 16), ".png")
		assert.ErrorIs(t, err, media.ErrNotFound)
	})

	t.Run("malformed id fails fast as not found", func(t *testing.T) {
		for _, id := range []string{"", "short", strings.Repeat("Z", 32), "../../../../etc/passwd"} {
			_, _, err := store.Get(ctx, id, ".png")
			assert.ErrorIs(t, err, media.ErrNotFound, "id %q", id)
			assert.ErrorIs(t, store.Delete(ctx, id, ".png"), media.ErrNotFound, "id %q", id)
		}
	})

	t.Run("delete then get and delete report not found", func(t *testing.T) {
		obj := put(t, randomPayload(t, 128), "gone.gif")
		require.NoError(t, store.Delete(ctx, obj.ID, obj.Ext))
		_, _, err := store.Get(ctx, obj.ID, obj.Ext)
		assert.ErrorIs(t, err, media.ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, obj.ID, obj.Ext), media.ErrNotFound)
	})

	t.Run("list reflects puts and deletes", func(t *testing.T) {
		before, err := store.List(ctx)
		require.NoError(t, err)

		var created []*media.Object
		for i := 0; i < 5; i++ {
			created = append(created, put(t, randomPayload(t, 256), "n.jpg"))
		}
		for _, obj := range created[:2] {
			require.NoError(t, store.Delete(ctx, obj.ID, obj.Ext))
		}

		after, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, after, len(before)+3)

		live := make(map[string]struct{})
		for _, obj := range after {
			live[obj.ID] = struct{}{}
		}
		for _, obj := range created[:2] {
			assert.NotContains(t, live, obj.ID)
		}
		for _, obj := range created[2:] {
			assert.Contains(t, live, obj.ID)
		}
	})

	t.Run("traversal filename only contributes its extension", func(t *testing.T) {
		payload := randomPayload(t, 64)
		obj := put(t, payload, "../../etc/evil.png")
		assert.True(t, media.ValidID(obj.ID))
		assert.Equal(t, ".png", obj.Ext)
		assert.Equal(t, payload, read(t, obj))
	})

	t.Run("filename without a safe extension is rejected", func(t *testing.T) {
		for _, name := range []string{"../../etc/passwd", "noext", "run.exe", ""} {
			_, err := store.Put(ctx, bytes.NewReader([]byte("x")), name, "")
			assert.ErrorIs(t, err, media.ErrInvalidInput, "filename %q", name)
		}
	})

	t.Run("payload one byte over the maximum is rejected without residue", func(t *testing.T) {
		before, err := store.List(ctx)
		require.NoError(t, err)

		_, err = store.Put(ctx, bytes.NewReader(randomPayload(t, testMaxBytes+1)), "big.jpg", "")
		assert.ErrorIs(t, err, media.ErrTooLarge)

		after, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, after, len(before))
	})

	t.Run("empty payload is rejected", func(t *testing.T) {
		_, err := store.Put(ctx, bytes.NewReader(nil), "empty.png", "")
		assert.ErrorIs(t, err, media.ErrInvalidInput)
	})

	t.Run("concurrent puts commit distinct retrievable objects", func(t *testing.T) {
		const n = 100
		objs := make([]*media.Object, n)
		payloads := make([][]byte, n)
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			payloads[i] = append(randomPayload(t, 512), byte(i))
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				objs[i], errs[i] = store.Put(ctx, bytes.NewReader(payloads[i]), "c.png", "")
			}(i)
		}
		wg.Wait()

		seen := make(map[string]struct{}, n)
		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			_, dup := seen[objs[i].ID]
			require.False(t, dup, "duplicate id %q", objs[i].ID)
			seen[objs[i].ID] = struct{}{}
			assert.Equal(t, payloads[i], read(t, objs[i]), "payload mismatch for id %q", objs[i].ID)
		}
	})
}

func TestDiskStoreNeverWritesOutsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "media")
	store, err := media.NewDiskStore(root, testMaxBytes, testExts)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), bytes.NewReader([]byte("payload")), "../../escape.png", "")
	require.NoError(t, err)
	_, err = store.Put(context.Background(), bytes.NewReader([]byte("payload")), `..\..\escape.jpg`, "")
	require.NoError(t, err)

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the storage root may exist under the parent")
	assert.Equal(t, "media", entries[0].Name())
}

func TestDiskStoreFailedPutLeavesNoResidue(t *testing.T) {
	root := t.TempDir()
	store, err := media.NewDiskStore(root, 16, []string{".png"})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), bytes.NewReader(make([]byte, 17)), "big.png", "")
	require.ErrorIs(t, err, media.ErrTooLarge)

	// Published namespace is empty and the staging dir holds no leftovers.
	objects, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, objects)

	staged, err := os.ReadDir(filepath.Join(root, ".tmp"))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}
