package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/vaultkeeper/internal/filex"
)

// Source is where a container's bytes live.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	// Write must replace the content atomically.
	Write(ctx context.Context, data []byte) error
	String() string
}

// S3API is the part of *s3.Client used for containers.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type fileSource struct {
	path string
}

func (f fileSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(f.path)
}

func (f fileSource) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return filex.WriteFileAtomic(f.path, data, 0o600)
}

func (f fileSource) String() string { return f.path }

// s3Source stores the container as one object; PutObject replaces objects
// atomically so readers never see partial content.
type s3Source struct {
	client S3API
	bucket string
	key    string
}

func (s s3Source) Read(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key)})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", s, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s s3Source) Write(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", s, err)
	}
	return nil
}

func (s s3Source) String() string { return "s3://" + s.bucket + "/" + s.key }

// localPath returns the filesystem path for file URIs and plain paths.
func localPath(uri string) (string, bool) {
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return "", false
		}
		return u.Path, true
	}
	if strings.Contains(uri, "://") {
		return "", false
	}
	return uri, uri != ""
}

func parseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	bucket, key = u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri %q needs bucket and key", uri)
	}
	return bucket, key, nil
}
