package container

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/filex"
	"github.com/dmitrijs2005/vaultkeeper/internal/lockx"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
)

// S3Settings configures the client used for s3:// container references.
type S3Settings struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Overridable in tests.
var (
	loadDefaultAWSConfig  = awsconfig.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) S3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Store loads and saves containers for descriptors. All operations on the
// same descriptor are serialized.
type Store struct {
	dataDir string
	s3cfg   S3Settings
	log     logging.Logger

	locks lockx.KeyedMutex

	s3once sync.Once
	s3     S3API
	s3err  error
}

func NewStore(dataDir string, s3cfg S3Settings, log logging.Logger) *Store {
	return &Store{dataDir: dataDir, s3cfg: s3cfg, log: log}
}

// WithS3Client injects a ready client instead of building one lazily.
func (s *Store) WithS3Client(c S3API) *Store {
	s.s3once.Do(func() { s.s3 = c })
	return s
}

// EmbeddedPath is where embedded copies for id are kept.
func (s *Store) EmbeddedPath(id string) string {
	return filepath.Join(s.dataDir, "containers", id+".kdbx")
}

// Embed stores data as the embedded copy for desc and points desc.URI at it.
func (s *Store) Embed(ctx context.Context, desc *models.ContainerDescriptor, data []byte) error {
	unlock, err := s.locks.Lock(ctx, desc.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := filex.EnsureSubDir(s.dataDir, "containers"); err != nil {
		return err
	}
	path := s.EmbeddedPath(desc.ID)
	if err := filex.WriteFileAtomic(path, data, 0o600); err != nil {
		return err
	}
	desc.Mode = models.StorageEmbedded
	desc.URI = path
	return nil
}

// Load reads and decodes the container behind desc.
func (s *Store) Load(ctx context.Context, desc *models.ContainerDescriptor, password string) (*Container, error) {
	unlock, err := s.locks.Lock(ctx, desc.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.load(ctx, desc, password)
}

// Read returns the raw file behind desc without decoding it.
func (s *Store) Read(ctx context.Context, desc *models.ContainerDescriptor) ([]byte, error) {
	unlock, err := s.locks.Lock(ctx, desc.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	src, err := s.source(ctx, desc)
	if err != nil {
		return nil, err
	}
	return src.Read(ctx)
}

// Update runs load, fn, encode and atomic save while holding the descriptor
// lock. The original file is untouched if any step fails. It returns the
// entry count of the saved container.
func (s *Store) Update(ctx context.Context, desc *models.ContainerDescriptor, password string, fn func(*Container) (*Container, error)) (int, error) {
	unlock, err := s.locks.Lock(ctx, desc.ID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	c, err := s.load(ctx, desc, password)
	if err != nil {
		return 0, err
	}
	next, err := fn(c)
	if err != nil {
		return 0, err
	}
	data, err := Encode(next)
	if err != nil {
		return 0, err
	}

	src, err := s.source(ctx, desc)
	if err != nil {
		return 0, err
	}
	if err := src.Write(ctx, data); err != nil {
		return 0, fmt.Errorf("save container %s: %w", desc.ID, err)
	}
	s.log.Info(ctx, "container saved", "container_id", desc.ID, "source", src.String(), "bytes", len(data))
	return next.EntryCount(), nil
}

// Create writes a brand-new empty container for desc.
func (s *Store) Create(ctx context.Context, desc *models.ContainerDescriptor, password string) error {
	unlock, err := s.locks.Lock(ctx, desc.ID)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := Encode(New(password, desc.Name))
	if err != nil {
		return err
	}
	src, err := s.source(ctx, desc)
	if err != nil {
		return err
	}
	return src.Write(ctx, data)
}

func (s *Store) load(ctx context.Context, desc *models.ContainerDescriptor, password string) (*Container, error) {
	src, err := s.source(ctx, desc)
	if err != nil {
		return nil, err
	}
	data, err := src.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read container %s: %w", desc.ID, err)
	}
	return Decode(data, password)
}

func (s *Store) source(ctx context.Context, desc *models.ContainerDescriptor) (Source, error) {
	if strings.HasPrefix(desc.URI, "s3://") {
		bucket, key, err := parseS3URI(desc.URI)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidArgument, err)
		}
		client, err := s.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		return s3Source{client: client, bucket: bucket, key: key}, nil
	}
	if p, ok := localPath(desc.URI); ok {
		return fileSource{path: p}, nil
	}
	return nil, fmt.Errorf("%w: unsupported container uri %q", common.ErrInvalidArgument, desc.URI)
}

func (s *Store) s3Client(ctx context.Context) (S3API, error) {
	s.s3once.Do(func() {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s.s3cfg.Region)}
		if s.s3cfg.AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(s.s3cfg.AccessKey, s.s3cfg.SecretKey, "")))
		}
		cfg, err := loadDefaultAWSConfig(ctx, opts...)
		if err != nil {
			s.s3err = fmt.Errorf("load aws config: %w", err)
			return
		}
		s.s3 = newS3ClientFromConfig(cfg, func(o *s3.Options) {
			if s.s3cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(s.s3cfg.Endpoint)
				o.UsePathStyle = true
			}
		})
	})
	if s.s3 == nil && s.s3err == nil {
		return nil, errors.New("s3 client unavailable")
	}
	return s.s3, s.s3err
}

// Watchable returns the local paths of external descriptors.
func Watchable(descs []models.ContainerDescriptor) map[string]string {
	out := make(map[string]string)
	for _, d := range descs {
		if d.Mode != models.StorageExternal {
			continue
		}
		if p, ok := localPath(d.URI); ok {
			out[filepath.Clean(p)] = d.ID
		}
	}
	return out
}
