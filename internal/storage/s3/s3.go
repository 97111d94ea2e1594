// Package s3 stores bookmarks in an S3-compatible object store. The parts of
// a bookmark are objects "<prefix>/<path>.vbm" and "<prefix>/<path>.jpg";
// the body object carries the version marker as user metadata.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgzargo/BookmarkStorage/internal/storage"
	"github.com/dgzargo/BookmarkStorage/pkg/models"
	"github.com/dgzargo/BookmarkStorage/pkg/protocol"
	"github.com/dgzargo/BookmarkStorage/pkg/tree"
)

// metaLastModified is the user metadata key holding the version marker.
const metaLastModified = "last-modified"

const headConcurrency = 8

// Config is the JSON-serializable configuration of an S3 backend.
type Config struct {
	Endpoint     string `json:"endpoint"`
	Bucket       string `json:"bucket"`
	Prefix       string `json:"prefix"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	Region       string `json:"region"`
	CreateBucket bool   `json:"create_bucket"`
}

// Service implements storage.Service on a bucket.
type Service struct {
	client *s3.Client
	bucket string
	keys   keyspace
	log    *zap.Logger
}

var _ storage.Service = (*Service)(nil)

// New connects to the bucket described by cfg.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Service, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true}, nil
			},
		)
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	s := &Service{client: client, bucket: cfg.Bucket, keys: newKeyspace(cfg.Prefix), log: log.Named("s3")}
	if cfg.CreateBucket {
		if err := s.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewFromJSON creates an S3 backend from raw JSON config.
func NewFromJSON(ctx context.Context, raw json.RawMessage, log *zap.Logger) (*Service, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse s3 config: %w", err)
	}
	return New(ctx, cfg, log)
}

func (s *Service) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("bucket %s does not exist and cannot be created: %w", s.bucket, err)
	}
	s.log.Info("created S3 bucket", zap.String("bucket", s.bucket))
	return nil
}

// Type returns "s3".
func (s *Service) Type() string { return "s3" }

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	return errors.As(err, &nf) || errors.As(err, &nsk) || errors.As(err, &nsb)
}

func (s *Service) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// exists reports whether key exists.
func (s *Service) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", key, err)
}

// version reads the version marker of a body object, falling back to the
// object's own modification time.
func (s *Service) version(ctx context.Context, key string) (time.Time, bool, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if isNotFound(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("head %s: %w", key, err)
	}
	if v, ok := head.Metadata[metaLastModified]; ok {
		if ts, err := protocol.ParseTime(v); err == nil {
			return ts, true, nil
		}
	}
	return models.TruncateTime(aws.ToTime(head.LastModified)), true, nil
}

// GetHierarchy lists the prefix and reads the version of every bookmark.
// It returns nil when the bucket does not exist.
func (s *Service) GetHierarchy(ctx context.Context) (*models.Folder, error) {
	keys, err := s.listKeys(ctx, s.keys.prefix)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list objects: %w", err)
	}
	l := s.keys.indexKeys(keys)

	var mu sync.Mutex
	versions := make(map[string]time.Time, len(l.bookmarks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headConcurrency)
	for _, bm := range l.bookmarks {
		g.Go(func() error {
			ts, ok, err := s.version(gctx, s.keys.prefix+bm+"."+models.BookmarkBody.Extension())
			if err != nil || !ok {
				return err
			}
			mu.Lock()
			versions[bm] = ts
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assemble(l, versions, s), nil
}

// Open downloads one part of a bookmark.
func (s *Service) Open(ctx context.Context, profile models.FileProfile) (io.ReadCloser, error) {
	key := s.keys.fileKey(profile)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, nil
}

// Find resolves path to a bookmark.
func (s *Service) Find(ctx context.Context, path string) (*models.FilesGroup, error) {
	return storage.Find(ctx, s, path)
}

// FindFolder resolves path to a folder.
func (s *Service) FindFolder(ctx context.Context, path string) (*models.Folder, error) {
	return storage.FindFolder(ctx, s, path)
}

// MakeFake builds a placeholder for path.
func (s *Service) MakeFake(path string) (*models.FakeFilesGroup, error) {
	return tree.MakeFake(path)
}

// Save checks every destination against mode, then uploads each part with
// the version marker as metadata.
func (s *Service) Save(ctx context.Context, group *models.FilesGroup, mode storage.WriteMode) (bool, error) {
	if _, err := tree.MakeFake(group.LocalPath()); err != nil {
		return false, err
	}
	files := group.RelatedFiles()
	for _, f := range files {
		exists, err := s.exists(ctx, s.keys.fileKey(f))
		if err != nil {
			return false, err
		}
		if (mode == storage.CreateNew && exists) || (mode == storage.Override && !exists) {
			return false, nil
		}
	}
	var errs []error
	for _, f := range files {
		if err := s.put(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return false, errors.Join(errs...)
	}
	return true, nil
}

func (s *Service) put(ctx context.Context, f models.FileProfile) error {
	key := s.keys.fileKey(f)
	src, err := f.Open(ctx)
	if err != nil {
		return fmt.Errorf("read source of %s: %w", f.FileName(), err)
	}
	data, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		return fmt.Errorf("read source of %s: %w", f.FileName(), err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{metaLastModified: protocol.FormatTime(f.LastModified)},
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// DeleteBookmark deletes both parts. It returns false when neither existed.
func (s *Service) DeleteBookmark(ctx context.Context, group *models.FilesGroup) (bool, error) {
	if _, err := tree.MakeFake(group.LocalPath()); err != nil {
		return false, err
	}
	var found []string
	for _, f := range group.RelatedFiles() {
		key := s.keys.fileKey(f)
		ok, err := s.exists(ctx, key)
		if err != nil {
			return false, err
		}
		if ok {
			found = append(found, key)
		}
	}
	if len(found) == 0 {
		return false, nil
	}
	return true, s.deleteKeys(ctx, found)
}

func (s *Service) deleteKeys(ctx context.Context, keys []string) error {
	for len(keys) > 0 {
		n := min(len(keys), 1000)
		ids := make([]types.ObjectIdentifier, 0, n)
		for _, k := range keys[:n] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
		keys = keys[n:]
	}
	return nil
}

// DeleteDirectory deletes every key below folder. Without withContentWithin
// only a folder holding nothing but its marker is deleted.
func (s *Service) DeleteDirectory(ctx context.Context, folder *models.Folder, withContentWithin bool) (bool, error) {
	local, err := tree.CleanPath(folder.LocalPath())
	if err != nil {
		return false, err
	}
	if local == "" {
		return false, fmt.Errorf("%w: refusing to delete the storage root", tree.ErrMalformedPath)
	}
	prefix := s.keys.dirPrefix(local)
	keys, err := s.listKeys(ctx, prefix)
	if err != nil {
		return false, fmt.Errorf("list %s: %w", local, err)
	}
	if len(keys) == 0 {
		return false, nil
	}
	if !withContentWithin && (len(keys) > 1 || keys[0] != prefix) {
		return false, nil
	}
	return true, s.deleteKeys(ctx, keys)
}

// Clear deletes every object below folder that is not part of a bookmark in
// a fresh hierarchy. Folder markers are kept.
func (s *Service) Clear(ctx context.Context, folder *models.Folder) (bool, error) {
	local, err := tree.CleanPath(folder.LocalPath())
	if err != nil {
		return false, err
	}
	root, err := s.GetHierarchy(ctx)
	if err != nil {
		return false, err
	}
	fresh := tree.FindFolder(root, local)
	if fresh == nil {
		return true, nil
	}
	keep := make(map[string]bool)
	for _, g := range fresh.Leaves() {
		for _, f := range g.RelatedFiles() {
			keep[s.keys.fileKey(f)] = true
		}
	}
	keys, err := s.listKeys(ctx, s.keys.dirPrefix(local))
	if err != nil {
		return false, fmt.Errorf("list %s: %w", local, err)
	}
	var stray []string
	for _, k := range keys {
		if !keep[k] && !strings.HasSuffix(k, "/") {
			stray = append(stray, k)
		}
	}
	if err := s.deleteKeys(ctx, stray); err != nil {
		return false, err
	}
	return true, nil
}

// Move copies element to newPath and deletes the original. Neither bookmark
// nor folder moves are atomic.
func (s *Service) Move(ctx context.Context, element models.Element, newPath string) (bool, error) {
	dst, err := tree.CleanPath(newPath)
	if err != nil {
		return false, err
	}
	if dst == "" {
		return false, fmt.Errorf("%w: empty destination", tree.ErrMalformedPath)
	}
	root, err := s.GetHierarchy(ctx)
	if err != nil {
		return false, err
	}
	if tree.FindElement(root, dst) != nil {
		return false, nil
	}

	switch el := element.(type) {
	case *models.FilesGroup:
		if tree.Find(root, el.LocalPath()) == nil {
			return false, nil
		}
		fake, err := tree.MakeFake(dst)
		if err != nil {
			return false, err
		}
		ok, err := s.Save(ctx, models.NewProxy(fake, el), storage.CreateNew)
		if !ok || err != nil {
			return false, err
		}
		ok, err = s.DeleteBookmark(ctx, el)
		if !ok || err != nil {
			s.log.Error("bookmark left at both paths after move",
				zap.String("from", el.LocalPath()), zap.String("to", dst), zap.Error(err))
			return false, err
		}
		return true, nil
	case *models.Folder:
		src, err := tree.CleanPath(el.LocalPath())
		if err != nil {
			return false, err
		}
		if src == "" || tree.FindFolder(root, src) == nil {
			return false, nil
		}
		if tree.Within(dst, src) {
			return false, fmt.Errorf("%w: cannot move %s into itself", tree.ErrMalformedPath, src)
		}
		return s.moveFolder(ctx, src, dst)
	default:
		return false, fmt.Errorf("%w: cannot move %T", storage.ErrUnsupportedElement, element)
	}
}

func (s *Service) moveFolder(ctx context.Context, src, dst string) (bool, error) {
	from, to := s.keys.dirPrefix(src), s.keys.dirPrefix(dst)
	keys, err := s.listKeys(ctx, from)
	if err != nil {
		return false, fmt.Errorf("list %s: %w", src, err)
	}
	for _, k := range keys {
		target := to + strings.TrimPrefix(k, from)
		_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(target),
			CopySource: aws.String(copySource(s.bucket, k)),
		})
		if err != nil {
			return false, fmt.Errorf("copy %s -> %s: %w", k, target, err)
		}
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
		s.log.Error("folder left at both paths after move", zap.String("from", src), zap.String("to", dst), zap.Error(err))
		return false, err
	}
	return true, nil
}

func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segs, "/")
}
