package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

const (
	metaVersion  = "fsf-version"
	metaModified = "fsf-modified"
	metaCreated  = "fsf-created"

	// deleteBatch is the DeleteObjects limit.
	deleteBatch = 1000
)

// object is the parsed HEAD of one object.
type object struct {
	size     int64
	etag     string
	version  int64
	modified time.Time
	created  time.Time
	meta     map[string]string
}

func parseObject(meta map[string]string, size int64, lastModified time.Time, etag string) object {
	o := object{size: size, etag: etag, modified: lastModified, meta: meta}
	if v, err := strconv.ParseInt(meta[metaVersion], 10, 64); err == nil {
		o.version = v
	}
	if ns, err := strconv.ParseInt(meta[metaModified], 10, 64); err == nil {
		o.modified = time.Unix(0, ns)
	}
	if ns, err := strconv.ParseInt(meta[metaCreated], 10, 64); err == nil {
		o.created = time.Unix(0, ns)
	}
	return o
}

func metadata(version int64, modified, created time.Time) map[string]string {
	return map[string]string{
		metaVersion:  strconv.FormatInt(version, 10),
		metaModified: strconv.FormatInt(modified.UnixNano(), 10),
		metaCreated:  strconv.FormatInt(created.UnixNano(), 10),
	}
}

func (o object) info(p vfs.Path, kind vfs.Kind) vfs.Info {
	info := vfs.Info{Path: p, Kind: kind, ModTime: o.modified, Created: o.created, Version: o.version}
	if kind == vfs.KindFile {
		info.Size = o.size
	}
	return info
}

func (fs *FileSystem) head(ctx context.Context, key string) (object, bool, error) {
	out, err := fs.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return object{}, false, nil
	}
	if err != nil {
		return object{}, false, err
	}
	return parseObject(out.Metadata, aws.ToInt64(out.ContentLength), aws.ToTime(out.LastModified), aws.ToString(out.ETag)), true, nil
}

// stat resolves p to a file object, a directory marker or nothing.
func (fs *FileSystem) stat(ctx context.Context, p vfs.Path) (vfs.Info, object, bool, error) {
	if p.IsRoot() {
		return vfs.Info{Path: p, Kind: vfs.KindDirectory}, object{}, true, nil
	}
	if o, ok, err := fs.head(ctx, fs.fileKey(p)); err != nil || ok {
		return o.info(p, vfs.KindFile), o, ok, err
	}
	o, ok, err := fs.head(ctx, fs.dirKey(p))
	return o.info(p, vfs.KindDirectory), o, ok, err
}

// parentDir checks that the parent of p is an existing directory.
func (fs *FileSystem) parentDir(ctx context.Context, op string, p vfs.Path) error {
	parent, ok := p.Parent()
	if !ok {
		return vfs.NewError(vfs.ErrIllegalPath, op, p, "operation not permitted on the root")
	}
	info, _, exists, err := fs.stat(ctx, parent)
	if err != nil {
		return vfs.BackendFailure(op, p, err)
	}
	if !exists {
		return vfs.NewError(vfs.ErrNotFound, op, p, "parent directory does not exist")
	}
	if !info.IsDir() {
		return vfs.NewError(vfs.ErrNotDirectory, op, parent, "")
	}
	return nil
}

// listKeys returns every key starting with prefix.
func (fs *FileSystem) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(fs.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(fs.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (fs *FileSystem) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}
		out, err := fs.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(fs.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return errors.New("delete " + aws.ToString(first.Key) + ": " + aws.ToString(first.Message))
		}
	}
	return nil
}

// copySource encodes bucket and key for CopyObject, escaping each segment.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func (fs *FileSystem) copyObject(ctx context.Context, from, to string) error {
	_, err := fs.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(fs.bucket),
		Key:               aws.String(to),
		CopySource:        aws.String(copySource(fs.bucket, from)),
		MetadataDirective: types.MetadataDirectiveCopy,
	})
	return err
}

// ============================================================================
// FileSystem
// ============================================================================

// Stat implements vfs.FileSystem.
func (fs *FileSystem) Stat(ctx context.Context, p vfs.Path) (vfs.Info, error) {
	info, _, ok, err := fs.stat(ctx, p)
	if err != nil {
		return vfs.Info{}, vfs.BackendFailure("stat", p, err)
	}
	if !ok {
		return vfs.Info{}, vfs.NotFound("stat", p)
	}
	return info, nil
}

// ReadDir implements vfs.FileSystem. Listing returns keys only, so every
// child costs one HEAD request for its attributes.
func (fs *FileSystem) ReadDir(ctx context.Context, p vfs.Path) ([]vfs.Info, error) {
	info, _, ok, err := fs.stat(ctx, p)
	if err != nil {
		return nil, vfs.BackendFailure("list", p, err)
	}
	if !ok {
		return nil, vfs.NotFound("list", p)
	}
	if !info.IsDir() {
		return nil, vfs.NewError(vfs.ErrNotDirectory, "list", p, "")
	}

	prefix := fs.dirKey(p)
	out := []vfs.Info{}
	paginator := s3.NewListObjectsV2Paginator(fs.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(fs.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, vfs.BackendFailure("list", p, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			child, err := p.Child(key[len(prefix):])
			if err != nil {
				logger.Warn("s3: skipping object with illegal name %q", key)
				continue
			}
			o, ok, err := fs.head(ctx, key)
			if err != nil {
				return nil, vfs.BackendFailure("list", p, err)
			}
			if ok {
				out = append(out, o.info(child, vfs.KindFile))
			}
		}
		for _, cp := range page.CommonPrefixes {
			marker := aws.ToString(cp.Prefix)
			child, err := p.Child(strings.TrimSuffix(marker[len(prefix):], "/"))
			if err != nil {
				logger.Warn("s3: skipping prefix with illegal name %q", marker)
				continue
			}
			o, ok, err := fs.head(ctx, marker)
			if err != nil {
				return nil, vfs.BackendFailure("list", p, err)
			}
			if ok {
				out = append(out, o.info(child, vfs.KindDirectory))
			}
		}
	}

	slices.SortFunc(out, func(a, b vfs.Info) int { return strings.Compare(a.Name(), b.Name()) })
	return out, nil
}

// Mkdir implements vfs.FileSystem.
func (fs *FileSystem) Mkdir(ctx context.Context, p vfs.Path) error {
	_, _, exists, err := fs.stat(ctx, p)
	if err != nil {
		return vfs.BackendFailure("mkdir", p, err)
	}
	if exists {
		return vfs.NewError(vfs.ErrAlreadyExists, "mkdir", p, "")
	}
	if err := fs.parentDir(ctx, "mkdir", p); err != nil {
		return err
	}

	now := fs.clock.Now()
	_, err = fs.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(fs.bucket),
		Key:           aws.String(fs.dirKey(p)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
		Metadata:      metadata(vfs.InitialVersion, now, now),
		IfNoneMatch:   aws.String("*"),
	})
	if isPreconditionFailed(err) {
		return vfs.NewError(vfs.ErrAlreadyExists, "mkdir", p, "")
	}
	return vfs.BackendFailure("mkdir", p, err)
}

// Remove implements vfs.FileSystem.
func (fs *FileSystem) Remove(ctx context.Context, p vfs.Path) error {
	if p.IsRoot() {
		return vfs.NewError(vfs.ErrIllegalPath, "remove", p, "cannot remove the root")
	}
	info, _, exists, err := fs.stat(ctx, p)
	if err != nil {
		return vfs.BackendFailure("remove", p, err)
	}
	if !exists {
		return vfs.NotFound("remove", p)
	}

	key := fs.fileKey(p)
	if info.IsDir() {
		key = fs.dirKey(p)
		page, err := fs.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(fs.bucket),
			Prefix:  aws.String(key),
			MaxKeys: aws.Int32(2),
		})
		if err != nil {
			return vfs.BackendFailure("remove", p, err)
		}
		for _, obj := range page.Contents {
			if aws.ToString(obj.Key) != key {
				return vfs.NewError(vfs.ErrNotEmpty, "remove", p, "")
			}
		}
	}

	_, err = fs.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
	return vfs.BackendFailure("remove", p, err)
}

// RemoveAll implements vfs.TreeRemover.
func (fs *FileSystem) RemoveAll(ctx context.Context, p vfs.Path) error {
	if p.IsRoot() {
		return vfs.NewError(vfs.ErrIllegalPath, "remove-all", p, "cannot remove the root")
	}
	info, _, exists, err := fs.stat(ctx, p)
	if err != nil {
		return vfs.BackendFailure("remove-all", p, err)
	}
	if !exists {
		return vfs.NotFound("remove-all", p)
	}

	keys := []string{fs.fileKey(p)}
	if info.IsDir() {
		if keys, err = fs.listKeys(ctx, fs.dirKey(p)); err != nil {
			return vfs.BackendFailure("remove-all", p, err)
		}
	}
	logger.Debug("s3: removing %s (%d objects)", p.Display(), len(keys))
	return vfs.BackendFailure("remove-all", p, fs.deleteKeys(ctx, keys))
}

// Rename implements vfs.FileSystem.
func (fs *FileSystem) Rename(ctx context.Context, p vfs.Path, newName string) error {
	if err := vfs.ValidateName(newName); err != nil {
		return err
	}
	if p.IsRoot() {
		return vfs.NewError(vfs.ErrIllegalPath, "rename", p, "cannot rename the root")
	}
	dst, err := p.WithName(newName)
	if err != nil {
		return err
	}
	return fs.move(ctx, "rename", p, dst)
}

// Move implements vfs.Mover with server-side copies followed by deletes.
func (fs *FileSystem) Move(ctx context.Context, src, dst vfs.Path) error {
	return fs.move(ctx, "move", src, dst)
}

func (fs *FileSystem) move(ctx context.Context, op string, src, dst vfs.Path) error {
	if dst.HasPrefix(src) {
		return vfs.NewError(vfs.ErrIllegalPath, op, dst, "destination is inside the source")
	}
	info, _, exists, err := fs.stat(ctx, src)
	if err != nil {
		return vfs.BackendFailure(op, src, err)
	}
	if !exists {
		return vfs.NotFound(op, src)
	}
	if _, _, taken, err := fs.stat(ctx, dst); err != nil {
		return vfs.BackendFailure(op, dst, err)
	} else if taken {
		return vfs.NewError(vfs.ErrAlreadyExists, op, dst, "")
	}
	if err := fs.parentDir(ctx, op, dst); err != nil {
		return err
	}

	if !info.IsDir() {
		if err := fs.copyObject(ctx, fs.fileKey(src), fs.fileKey(dst)); err != nil {
			return vfs.BackendFailure(op, src, err)
		}
		return vfs.BackendFailure(op, src, fs.deleteKeys(ctx, []string{fs.fileKey(src)}))
	}

	from, to := fs.dirKey(src), fs.dirKey(dst)
	keys, err := fs.listKeys(ctx, from)
	if err != nil {
		return vfs.BackendFailure(op, src, err)
	}
	for _, key := range keys {
		if err := fs.copyObject(ctx, key, to+key[len(from):]); err != nil {
			return vfs.BackendFailure(op, src, err)
		}
	}
	logger.Debug("s3: moved %s to %s (%d objects)", src.Display(), dst.Display(), len(keys))
	return vfs.BackendFailure(op, src, fs.deleteKeys(ctx, keys))
}

// SetModTime implements vfs.FileSystem by rewriting the object's metadata
// in place. The root has no marker and ignores the call.
func (fs *FileSystem) SetModTime(ctx context.Context, p vfs.Path, t time.Time) error {
	info, o, exists, err := fs.stat(ctx, p)
	if err != nil {
		return vfs.BackendFailure("set-modtime", p, err)
	}
	if !exists {
		return vfs.NotFound("set-modtime", p)
	}
	if p.IsRoot() {
		return nil
	}

	key := fs.fileKey(p)
	if info.IsDir() {
		key = fs.dirKey(p)
	}
	_, err = fs.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(fs.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(copySource(fs.bucket, key)),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata:          metadata(o.version, t, o.created),
	})
	return vfs.BackendFailure("set-modtime", p, err)
}

// ============================================================================
// Content
// ============================================================================

// Open implements vfs.FileSystem. The returned reader streams the object
// body.
func (fs *FileSystem) Open(ctx context.Context, p vfs.Path) (io.ReadCloser, error) {
	out, err := fs.get(ctx, "open", p)
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// ReadVersioned implements vfs.FileSystem. Content and version come from
// the same GET response.
func (fs *FileSystem) ReadVersioned(ctx context.Context, p vfs.Path) (vfs.Versioned[[]byte], error) {
	out, err := fs.get(ctx, "read", p)
	if err != nil {
		return vfs.Versioned[[]byte]{}, err
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return vfs.Versioned[[]byte]{}, vfs.BackendFailure("read", p, err)
	}
	o := parseObject(out.Metadata, int64(len(data)), aws.ToTime(out.LastModified), aws.ToString(out.ETag))
	return vfs.Versioned[[]byte]{Value: data, Version: o.version}, nil
}

func (fs *FileSystem) get(ctx context.Context, op string, p vfs.Path) (*s3.GetObjectOutput, error) {
	if p.IsRoot() {
		return nil, vfs.NewError(vfs.ErrIsDirectory, op, p, "")
	}
	out, err := fs.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(fs.fileKey(p)),
	})
	if err == nil {
		return out, nil
	}
	if !isNotFound(err) {
		return nil, vfs.BackendFailure(op, p, err)
	}
	if _, isDir, herr := fs.head(ctx, fs.dirKey(p)); herr == nil && isDir {
		return nil, vfs.NewError(vfs.ErrIsDirectory, op, p, "")
	}
	return nil, vfs.NotFound(op, p)
}

// Create implements vfs.FileSystem.
func (fs *FileSystem) Create(ctx context.Context, p vfs.Path) (io.WriteCloser, error) {
	info, _, exists, err := fs.stat(ctx, p)
	if err != nil {
		return nil, vfs.BackendFailure("create", p, err)
	}
	if exists && info.IsDir() {
		return nil, vfs.NewError(vfs.ErrIsDirectory, "create", p, "")
	}
	if !exists {
		if err := fs.parentDir(ctx, "create", p); err != nil {
			return nil, err
		}
	}
	return vfs.NewBufferedWriter(func(data []byte) error {
		_, err := fs.write(ctx, "create", p, data, nil)
		return err
	}), nil
}

// WriteVersioned implements vfs.FileSystem.
func (fs *FileSystem) WriteVersioned(ctx context.Context, p vfs.Path, data []byte, expected int64) (int64, error) {
	return fs.write(ctx, "write", p, data, &expected)
}

// errLostRace marks an unconditional write whose conditional PUT lost to a
// concurrent writer; it is retried.
var errLostRace = errors.New("concurrent write")

// write stores data at p. Every PUT is conditional on the object state that
// was read, so two writers can never produce the same version. A nil
// expected retries lost races; a versioned write reports them as mismatch.
func (fs *FileSystem) write(ctx context.Context, op string, p vfs.Path, data []byte, expected *int64) (int64, error) {
	if p.IsRoot() {
		return 0, vfs.NewError(vfs.ErrIsDirectory, op, p, "")
	}
	key := fs.fileKey(p)

	var version int64
	attempt := func() error {
		current, exists, err := fs.head(ctx, key)
		if err != nil {
			return backoff.Permanent(vfs.BackendFailure(op, p, err))
		}

		now := fs.clock.Now()
		in := &s3.PutObjectInput{
			Bucket:        aws.String(fs.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		}

		if exists {
			if expected != nil && *expected != current.version {
				return backoff.Permanent(vfs.VersionMismatch(op, p, *expected, current.version))
			}
			version = current.version + 1
			in.IfMatch = aws.String(current.etag)
			in.Metadata = metadata(version, now, current.created)
		} else {
			if _, isDir, err := fs.head(ctx, fs.dirKey(p)); err != nil {
				return backoff.Permanent(vfs.BackendFailure(op, p, err))
			} else if isDir {
				return backoff.Permanent(vfs.NewError(vfs.ErrIsDirectory, op, p, ""))
			}
			if expected != nil && *expected != vfs.InitialVersion {
				return backoff.Permanent(vfs.VersionMismatch(op, p, *expected, vfs.InitialVersion))
			}
			if err := fs.parentDir(ctx, op, p); err != nil {
				return backoff.Permanent(err)
			}
			version = vfs.InitialVersion + 1
			in.IfNoneMatch = aws.String("*")
			in.Metadata = metadata(version, now, now)
		}

		_, err = fs.client.PutObject(ctx, in)
		switch {
		case err == nil:
			return nil
		case !isPreconditionFailed(err):
			return backoff.Permanent(vfs.BackendFailure(op, p, err))
		case expected != nil:
			actual, _, herr := fs.head(ctx, key)
			if herr != nil {
				return backoff.Permanent(vfs.BackendFailure(op, p, herr))
			}
			return backoff.Permanent(vfs.VersionMismatch(op, p, *expected, actual.version))
		default:
			return errLostRace
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, fs.retries), ctx)); err != nil {
		return 0, vfs.BackendFailure(op, p, err)
	}
	logger.Debug("s3: wrote %s (%d bytes, version %d)", p.Display(), len(data), version)
	return version, nil
}
