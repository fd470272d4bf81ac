package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	lastPut *s3.PutObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPut = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), S3Settings{}, logging.Discard())
}

func appendOne(title string) func(*Container) (*Container, error) {
	return func(c *Container) (*Container, error) {
		return AppendEntries(c, "Root/Imported", []Record{{Title: title, Password: "pw"}})
	}
}

func TestStore_EmbedLoadUpdate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	desc := &models.ContainerDescriptor{ID: "c1", Name: "Root"}

	require.NoError(t, st.Embed(ctx, desc, sampleContainer(t)))
	assert.Equal(t, models.StorageEmbedded, desc.Mode)
	assert.Equal(t, st.EmbeddedPath("c1"), desc.URI)

	c, err := st.Load(ctx, desc, testPassword)
	require.NoError(t, err)
	assert.Equal(t, 2, c.EntryCount())

	n, err := st.Update(ctx, desc, testPassword, appendOne("new"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	c, err = st.Load(ctx, desc, testPassword)
	require.NoError(t, err)
	assert.Equal(t, 3, c.EntryCount())
}

func TestStore_UpdateFailureLeavesFileUntouched(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	path := filepath.Join(t.TempDir(), "ext.kdbx")
	original := sampleContainer(t)
	require.NoError(t, os.WriteFile(path, original, 0o600))
	desc := &models.ContainerDescriptor{ID: "ext", Mode: models.StorageExternal, URI: "file://" + path}

	_, err := st.Update(ctx, desc, testPassword, func(*Container) (*Container, error) {
		return nil, errors.New("mapping failed")
	})
	require.Error(t, err)

	_, err = st.Update(ctx, desc, "wrong", appendOne("x"))
	require.ErrorIs(t, err, common.ErrWrongPassword)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestStore_SerializesUpdatesPerDescriptor(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	desc := &models.ContainerDescriptor{ID: "c1", Name: "Root"}
	require.NoError(t, st.Embed(ctx, desc, sampleContainer(t)))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Update(ctx, desc, testPassword, appendOne("concurrent")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	c, err := st.Load(ctx, desc, testPassword)
	require.NoError(t, err)
	assert.Equal(t, 5, c.EntryCount(), "no lost updates")
}

func TestStore_S3Source(t *testing.T) {
	ctx := context.Background()
	s3c := &fakeS3{objects: map[string][]byte{"vaults/team.kdbx": sampleContainer(t)}}
	st := newTestStore(t).WithS3Client(s3c)
	desc := &models.ContainerDescriptor{ID: "s3", Mode: models.StorageExternal, URI: "s3://vaults/team.kdbx"}

	n, err := st.Update(ctx, desc, testPassword, appendOne("remote"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "application/octet-stream", aws.ToString(s3c.lastPut.ContentType))

	c, err := st.Load(ctx, desc, testPassword)
	require.NoError(t, err)
	assert.Equal(t, 3, c.EntryCount())

	s3c.putErr = errors.New("denied")
	_, err = st.Update(ctx, desc, testPassword, appendOne("again"))
	require.ErrorContains(t, err, "denied")
}

func TestStore_BadURIs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t).WithS3Client(&fakeS3{})

	for _, uri := range []string{"", "ftp://host/x.kdbx", "s3://bucket-only"} {
		_, err := st.Load(ctx, &models.ContainerDescriptor{ID: "x", URI: uri}, testPassword)
		require.ErrorIs(t, err, common.ErrInvalidArgument, uri)
	}
}

func TestStore_CreateThenLoad(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	path := filepath.Join(t.TempDir(), "fresh.kdbx")
	desc := &models.ContainerDescriptor{ID: "f", Name: "Fresh", Mode: models.StorageExternal, URI: path}

	require.NoError(t, st.Create(ctx, desc, "pw"))
	c, err := st.Load(ctx, desc, "pw")
	require.NoError(t, err)
	assert.Equal(t, 0, c.EntryCount())
}

func TestWatchable(t *testing.T) {
	got := Watchable([]models.ContainerDescriptor{
		{ID: "a", Mode: models.StorageExternal, URI: "/tmp/x/../a.kdbx"},
		{ID: "b", Mode: models.StorageEmbedded, URI: "/data/b.kdbx"},
		{ID: "c", Mode: models.StorageExternal, URI: "s3://bucket/c.kdbx"},
	})
	assert.Equal(t, map[string]string{"/tmp/a.kdbx": "a"}, got)
}

func TestWatch_ReportsChangedDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.kdbx")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, map[string]string{path: "d1"}, 20*time.Millisecond, logging.Discard(), func(id string) {
			changed <- id
		})
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o600))

	select {
	case id := <-changed:
		assert.Equal(t, "d1", id)
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
