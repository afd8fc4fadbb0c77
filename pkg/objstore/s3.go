package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config names the connection parameters for an S3-compatible library
// root, mirroring settings.json's s3Config block.
type S3Config struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
	Bucket    string `json:"bucket"`
	UseSSL    bool   `json:"useSSL"`
	Prefix    string `json:"prefix"` // optional key prefix acting as the library root
}

// S3Store backs a library root with an S3-compatible object store via
// minio-go. Every Store path is joined under Prefix to form the object key.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store dials an S3-compatible endpoint and returns a Store rooted at
// cfg.Prefix within cfg.Bucket.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial s3 endpoint %q: %v", ErrBackendUnavailable, cfg.Endpoint, err)
	}
	ok, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%w: check bucket %q: %v", ErrBackendUnavailable, cfg.Bucket, err)
	}
	if !ok {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("%w: create bucket %q: %v", ErrBackendUnavailable, cfg.Bucket, err)
		}
	}
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) key(path string) (string, error) {
	clean, err := cleanRelative(path)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return clean, nil
	}
	return strings.TrimPrefix(filepath.ToSlash(filepath.Join(s.prefix, clean)), "/"), nil
}

func (s *S3Store) Read(ctx context.Context, path string) ([]byte, error) {
	key, err := s.key(path)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateS3Err(err, path)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateS3Err(err, path)
	}
	return data, nil
}

func (s *S3Store) ReadToString(ctx context.Context, path string) (string, error) {
	data, err := s.Read(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *S3Store) RangedRead(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	key, err := s.key(path)
	if err != nil {
		return nil, err
	}
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, fmt.Errorf("%w: set range: %v", ErrInvalidPath, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, translateS3Err(err, path)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateS3Err(err, path)
	}
	return data, nil
}

func (s *S3Store) Write(ctx context.Context, path string, data []byte) error {
	return s.WriteStream(ctx, path, bytes.NewReader(data))
}

func (s *S3Store) WriteStream(ctx context.Context, path string, r io.Reader) error {
	key, err := s.key(path)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return translateS3Err(err, path)
	}
	return nil
}

// CreateDir is a no-op: S3-compatible stores have no real directories,
// only key prefixes that come into being once an object is written under
// them.
func (s *S3Store) CreateDir(_ context.Context, _ string) error { return nil }

func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	key, err := s.key(path)
	if err != nil {
		return false, err
	}
	_, err = s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return false, nil
		}
		return false, translateS3Err(err, path)
	}
	return true, nil
}

func (s *S3Store) ContentLength(ctx context.Context, path string) (int64, error) {
	key, err := s.key(path)
	if err != nil {
		return 0, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, translateS3Err(err, path)
	}
	return info.Size, nil
}

func (s *S3Store) List(ctx context.Context, path string) ([]string, error) {
	prefix, err := s.key(path)
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, translateS3Err(obj.Err, path)
		}
		names = append(names, strings.TrimPrefix(obj.Key, prefix))
	}
	return names, nil
}

// Copy uses minio's server-side copy when src and dst are both within this
// store's bucket, avoiding a client-side read/write round trip.
func (s *S3Store) Copy(ctx context.Context, src, dst string) error {
	srcKey, err := s.key(src)
	if err != nil {
		return err
	}
	dstKey, err := s.key(dst)
	if err != nil {
		return err
	}
	_, err = s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: s.bucket, Object: srcKey},
	)
	if err != nil {
		return translateS3Err(err, dst)
	}
	return nil
}

func (s *S3Store) RemoveFile(ctx context.Context, path string) error {
	key, err := s.key(path)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return translateS3Err(err, path)
	}
	return nil
}

func (s *S3Store) RemoveDirRecursive(ctx context.Context, path string) error {
	prefix, err := s.key(path)
	if err != nil {
		return err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	objectsCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	keysCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(keysCh)
		for obj := range objectsCh {
			if obj.Err == nil {
				keysCh <- obj
			}
		}
	}()
	for result := range s.client.RemoveObjects(ctx, s.bucket, keysCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return translateS3Err(result.Err, path)
		}
	}
	return nil
}

func (s *S3Store) RecursiveUpload(ctx context.Context, localDir, destPrefix string) error {
	return filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return translateS3Err(err, path)
		}
		defer f.Close()
		return s.WriteStream(ctx, filepath.Join(destPrefix, rel), f)
	})
}

func translateS3Err(err error, path string) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %q", ErrNotFound, path)
	case "AccessDenied":
		return fmt.Errorf("%w: %q", ErrPermissionDenied, path)
	default:
		return fmt.Errorf("%w: %q: %v", ErrBackendUnavailable, path, err)
	}
}
