package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// tmpDirName is the staging directory inside the storage root. Entries under
// it are invisible to Get and List, which only resolve files in the root.
const tmpDirName = ".tmp"

// maxIDAttempts bounds id regeneration on commit collision.
const maxIDAttempts = 5

// compile-time check that DiskStore satisfies the Store interface.
var _ Store = (*DiskStore)(nil)

// DiskStore implements Store on a local filesystem directory. Each object is
// a single file named "{id}{ext}" directly under the root.
type DiskStore struct {
	root     string
	tmp      string
	maxBytes int64
	allowed  map[string]struct{}
}

// NewDiskStore creates the storage root and staging directory if needed and
// returns a ready-to-use DiskStore.
func NewDiskStore(root string, maxBytes int64, allowedExts []string) (*DiskStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	tmp := filepath.Join(abs, tmpDirName)
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &DiskStore{
		root:     abs,
		tmp:      tmp,
		maxBytes: maxBytes,
		allowed:  extSet(allowedExts),
	}, nil
}

// Put stages the payload in a temp file, then publishes it by rename under a
// fresh id. Concurrent Puts write distinct temp files and commit under
// distinct ids, so no cross-request locking is needed.
func (s *DiskStore) Put(ctx context.Context, reader io.Reader, originalFilename, declaredContentType string) (*Object, error) {
	ext, err := SanitizeExt(originalFilename, s.allowed)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(s.tmp, "upload-*")
	if err != nil {
		return nil, wrapDiskErr("stage upload", err)
	}
	tmpName := f.Name()
	discard := func() {
		f.Close()
		os.Remove(tmpName)
	}

	// Copy at most maxBytes+1 so oversized payloads are cut off without
	// being fully buffered.
	size, err := io.Copy(f, io.LimitReader(reader, s.maxBytes+1))
	if err != nil {
		discard()
		return nil, wrapDiskErr("write upload", err)
	}
	if size == 0 {
		discard()
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	if size > s.maxBytes {
		discard()
		return nil, ErrTooLarge
	}
	if err := f.Sync(); err != nil {
		discard()
		return nil, wrapDiskErr("sync upload", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return nil, wrapDiskErr("close upload", err)
	}

	// Commit under a fresh id. A collision with an existing file is detected
	// before the rename and resolved by regenerating — never by overwrite.
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := NewID()
		dst := filepath.Join(s.root, id+ext)
		if _, err := os.Lstat(dst); err == nil {
			continue
		}
		if err := os.Rename(tmpName, dst); err != nil {
			os.Remove(tmpName)
			return nil, wrapDiskErr("publish upload", err)
		}
		return &Object{
			ID:          id,
			Ext:         ext,
			ContentType: ContentTypeFor(ext, declaredContentType),
			Size:        size,
			CreatedAt:   timeNow(),
		}, nil
	}
	os.Remove(tmpName)
	return nil, fmt.Errorf("could not allocate a unique object id after %d attempts", maxIDAttempts)
}

// Get opens the object for streaming. The delete/get race resolves to either
// the full object or ErrNotFound; the rename-based publish guarantees no
// torn reads.
func (s *DiskStore) Get(ctx context.Context, id, ext string) (io.ReadCloser, *Object, error) {
	obj, err := s.Stat(ctx, id, ext)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.pathFor(id, ext))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, wrapDiskErr("open object", err)
	}
	return f, obj, nil
}

// Stat returns object metadata. Invalid id or extension syntax fails fast
// without touching the filesystem.
func (s *DiskStore) Stat(ctx context.Context, id, ext string) (*Object, error) {
	if !ValidID(id) || !ValidExt(ext) {
		return nil, ErrNotFound
	}
	fi, err := os.Stat(s.pathFor(id, ext))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, wrapDiskErr("stat object", err)
	}
	return &Object{
		ID:          id,
		Ext:         ext,
		ContentType: ContentTypeFor(ext, ""),
		Size:        fi.Size(),
		CreatedAt:   fi.ModTime().UTC(),
	}, nil
}

// List scans the root for published objects. Staged uploads live under the
// tmp subdirectory and are skipped along with any foreign files.
func (s *DiskStore) List(ctx context.Context) ([]*Object, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, wrapDiskErr("list objects", err)
	}
	objects := make([]*Object, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		id := strings.TrimSuffix(name, ext)
		if !ValidID(id) || !ValidExt(ext) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		objects = append(objects, &Object{
			ID:          id,
			Ext:         ext,
			ContentType: ContentTypeFor(ext, ""),
			Size:        fi.Size(),
			CreatedAt:   fi.ModTime().UTC(),
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Filename() < objects[j].Filename() })
	return objects, nil
}

// Delete removes the object file. A second delete of the same id reports
// ErrNotFound.
func (s *DiskStore) Delete(ctx context.Context, id, ext string) error {
	if !ValidID(id) || !ValidExt(ext) {
		return ErrNotFound
	}
	if err := os.Remove(s.pathFor(id, ext)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return wrapDiskErr("delete object", err)
	}
	return nil
}

// pathFor maps id+ext to the storage location. Both parts are validated
// before use, so the result can never escape the root.
func (s *DiskStore) pathFor(id, ext string) string {
	return filepath.Join(s.root, id+ext)
}

func wrapDiskErr(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%s: %w", op, ErrStorageFull)
	}
	return fmt.Errorf("%s: %w", op, err)
}
