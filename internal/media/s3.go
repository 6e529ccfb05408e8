package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// compile-time check that S3Store satisfies the Store interface.
var _ Store = (*S3Store)(nil)

// S3Store implements Store on a MinIO (or any S3-compatible) backend. Object
// keys are "{id}{ext}", mirroring the disk layout. To switch providers,
// change STORAGE_ENDPOINT and credentials — no code changes are needed.
type S3Store struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
	allowed  map[string]struct{}
}

// NewS3Store creates a MinIO client, ensures the bucket exists, and returns
// a ready-to-use S3Store.
func NewS3Store(endpoint, accessKey, secretKey, bucket string, useSSL bool, maxBytes int64, allowedExts []string) (*S3Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		logrus.WithField("bucket", bucket).Info("created storage bucket")
	}

	return &S3Store{
		client:   client,
		bucket:   bucket,
		maxBytes: maxBytes,
		allowed:  extSet(allowedExts),
	}, nil
}

// capReader cuts off a stream after max bytes, so oversized uploads abort
// mid-transfer instead of being fully buffered.
type capReader struct {
	r   io.Reader
	n   int64
	max int64
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.n > c.max {
		return n, ErrTooLarge
	}
	return n, err
}

// Put streams reader to the bucket under a fresh id. The key is checked for
// existence before the write; a collision regenerates the id.
func (s *S3Store) Put(ctx context.Context, reader io.Reader, originalFilename, declaredContentType string) (*Object, error) {
	ext, err := SanitizeExt(originalFilename, s.allowed)
	if err != nil {
		return nil, err
	}

	var key string
	for attempt := 0; ; attempt++ {
		if attempt == maxIDAttempts {
			return nil, fmt.Errorf("could not allocate a unique object id after %d attempts", maxIDAttempts)
		}
		key = NewID() + ext
		_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if err == nil {
			continue
		}
		if isNoSuchKey(err) {
			break
		}
		return nil, fmt.Errorf("probe key %q: %w", key, err)
	}

	contentType := ContentTypeFor(ext, declaredContentType)
	cr := &capReader{r: reader, max: s.maxBytes}
	info, err := s.client.PutObject(ctx, s.bucket, key, cr, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		// An aborted multipart upload leaves no visible object, but clean up
		// in case a single-shot put landed before the cutoff fired.
		_ = s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
		if cr.n > s.maxBytes {
			return nil, ErrTooLarge
		}
		return nil, fmt.Errorf("put object %q: %w", key, err)
	}
	if info.Size == 0 {
		_ = s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}

	id := strings.TrimSuffix(key, ext)
	return &Object{
		ID:          id,
		Ext:         ext,
		ContentType: contentType,
		Size:        info.Size,
		CreatedAt:   timeNow(),
	}, nil
}

// Get returns the object's content stream and metadata.
func (s *S3Store) Get(ctx context.Context, id, ext string) (io.ReadCloser, *Object, error) {
	obj, err := s.Stat(ctx, id, ext)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.client.GetObject(ctx, s.bucket, id+ext, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get object %q: %w", id+ext, err)
	}
	return rc, obj, nil
}

// Stat returns object metadata without the body.
func (s *S3Store) Stat(ctx context.Context, id, ext string) (*Object, error) {
	if !ValidID(id) || !ValidExt(ext) {
		return nil, ErrNotFound
	}
	info, err := s.client.StatObject(ctx, s.bucket, id+ext, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat object %q: %w", id+ext, err)
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(ext, "")
	}
	return &Object{
		ID:          id,
		Ext:         ext,
		ContentType: contentType,
		Size:        info.Size,
		CreatedAt:   info.LastModified.UTC(),
	}, nil
}

// List returns a snapshot of the bucket. Keys that do not parse as
// "{id}{ext}" are skipped.
func (s *S3Store) List(ctx context.Context) ([]*Object, error) {
	var objects []*Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects: %w", info.Err)
		}
		ext := path.Ext(info.Key)
		id := strings.TrimSuffix(info.Key, ext)
		if !ValidID(id) || !ValidExt(ext) {
			continue
		}
		objects = append(objects, &Object{
			ID:          id,
			Ext:         ext,
			ContentType: ContentTypeFor(ext, ""),
			Size:        info.Size,
			CreatedAt:   info.LastModified.UTC(),
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Filename() < objects[j].Filename() })
	return objects, nil
}

// Delete removes the object. RemoveObject succeeds silently on missing keys,
// so existence is checked first to keep delete-twice reporting ErrNotFound.
func (s *S3Store) Delete(ctx context.Context, id, ext string) error {
	if _, err := s.Stat(ctx, id, ext); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, id+ext, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %q: %w", id+ext, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
