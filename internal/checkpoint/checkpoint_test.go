package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata/memory"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
)

func sampleItems(n int) []model.Item {
	items := make([]model.Item, n)
	for i := range items {
		items[i] = model.Item{
			ID:         fmt.Sprintf("id-%03d", i),
			Name:       fmt.Sprintf("file-%03d.txt", i),
			Path:       fmt.Sprintf("/docs/file-%03d.txt", i),
			MimeType:   "text/plain",
			Size:       uint64(i * 10),
			ModifiedAt: time.Date(2024, 3, 1, 0, 0, i, 0, time.UTC),
		}
	}
	return items
}

func walkSlice(items []model.Item) WalkFunc {
	return func(_ context.Context, fn func(model.Item) error) error {
		for _, it := range items {
			if err := fn(it); err != nil {
				return err
			}
		}
		return nil
	}
}

func collect(t *testing.T, r io.Reader) ([]model.Item, error) {
	t.Helper()
	var got []model.Item
	_, err := Read(context.Background(), r, func(it model.Item) error {
		got = append(got, it)
		return nil
	})
	return got, err
}

func TestWriteRead(t *testing.T) {
	items := sampleItems(500)
	var buf bytes.Buffer
	n, err := Write(context.Background(), &buf, walkSlice(items))
	require.NoError(t, err)
	require.Equal(t, 500, n)

	got, err := collect(t, &buf)
	require.NoError(t, err)
	require.Len(t, got, 500)
	for i := range items {
		require.Equal(t, items[i].ID, got[i].ID)
		require.True(t, items[i].ModifiedAt.Equal(got[i].ModifiedAt))
	}
}

func TestEmptyCheckpoint(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(context.Background(), &buf, walkSlice(nil))
	require.NoError(t, err)
	got, err := collect(t, &buf)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestTruncatedCheckpointRejected(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(context.Background(), &buf, walkSlice(sampleItems(200)))
	require.NoError(t, err)

	cut := bytes.NewReader(buf.Bytes()[:buf.Len()/2])
	_, err = collect(t, cut)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestBadHeaderRejected(t *testing.T) {
	_, err := collect(t, bytes.NewReader([]byte("NOPE\x01")))
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = collect(t, bytes.NewReader([]byte("FSCK\x09")))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestWalkErrorAborts(t *testing.T) {
	boom := errors.New("store down")
	_, err := Write(context.Background(), io.Discard, func(context.Context, func(model.Item) error) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestManagerSaveLoadFromStore(t *testing.T) {
	ctx := context.Background()
	src := memory.New(4)
	for _, it := range sampleItems(50) {
		require.NoError(t, src.Put(ctx, it))
	}

	m := NewManager(t.TempDir(), nil, nil)
	info, err := m.Save(ctx, src.Walk)
	require.NoError(t, err)
	require.Equal(t, 50, info.Items)
	require.Positive(t, info.Bytes)
	require.False(t, info.Mirrored)

	dst := memory.New(4)
	n, err := m.Load(ctx, func(it model.Item) error { return dst.Put(ctx, it) })
	require.NoError(t, err)
	require.Equal(t, 50, n)
	count, err := dst.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 50, count)

	entries, err := os.ReadDir(m.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestManagerFailedSaveKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir(), nil, nil)
	_, err := m.Save(ctx, walkSlice(sampleItems(3)))
	require.NoError(t, err)

	_, err = m.Save(ctx, func(context.Context, func(model.Item) error) error { return errors.New("walk failed") })
	require.Error(t, err)

	n, err := m.Load(ctx, func(model.Item) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestManagerNoCheckpoint(t *testing.T) {
	m := NewManager(t.TempDir(), nil, nil)
	_, err := m.Load(context.Background(), func(model.Item) error { return nil })
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3Client) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func TestManagerMirrorsAndFallsBack(t *testing.T) {
	ctx := context.Background()
	client := new(mockS3Client)
	mirror := NewS3Mirror(client, "backups", "fsearch")

	var uploaded []byte
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "backups" && *in.Key == "fsearch/"+FileName
	})).Run(func(args mock.Arguments) {
		in := args.Get(1).(*s3.PutObjectInput)
		uploaded, _ = io.ReadAll(in.Body)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	writer := NewManager(t.TempDir(), mirror, nil)
	info, err := writer.Save(ctx, walkSlice(sampleItems(7)))
	require.NoError(t, err)
	require.True(t, info.Mirrored)
	require.NotEmpty(t, uploaded)

	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Key == "fsearch/"+FileName
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(uploaded))}, nil).Once()

	// A fresh node without a local file restores from the mirror.
	reader := NewManager(t.TempDir(), mirror, nil)
	n, err := reader.Load(ctx, func(model.Item) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 7, n)
	client.AssertExpectations(t)
}

func TestMirrorMissingKey(t *testing.T) {
	client := new(mockS3Client)
	client.On("GetObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{}).Once()

	m := NewManager(t.TempDir(), NewS3Mirror(client, "backups", ""), nil)
	_, err := m.Load(context.Background(), func(model.Item) error { return nil })
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestMirrorUploadFailureKeepsLocal(t *testing.T) {
	client := new(mockS3Client)
	client.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied")).Once()

	m := NewManager(t.TempDir(), NewS3Mirror(client, "backups", ""), nil)
	info, err := m.Save(context.Background(), walkSlice(sampleItems(2)))
	require.Error(t, err)
	require.Equal(t, 2, info.Items)
	_, statErr := os.Stat(m.Path())
	require.NoError(t, statErr)
}
