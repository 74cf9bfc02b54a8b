package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/townmap/internal/syncer"
)

var _ syncer.Archiver = (*Archiver)(nil)

type fakeClient struct {
	bucketExists bool
	made         []string
	objects      map[string][]byte
	types        map[string]string
	statErr      error
	putErr       error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeClient) BucketExists(context.Context, string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeClient) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	return nil
}

func (f *fakeClient) StatObject(_ context.Context, _, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if f.statErr != nil {
		return minio.ObjectInfo{}, f.statErr
	}
	if _, ok := f.objects[key]; ok {
		return minio.ObjectInfo{Key: key}, nil
	}
	return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey"}
}

func (f *fakeClient) PutObject(_ context.Context, _, key string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[key] = data
	f.types[key] = opts.ContentType
	return minio.UploadInfo{Key: key, Size: int64(len(data))}, nil
}

func TestArchive_StoresNewExport(t *testing.T) {
	fc := newFakeClient()
	a := New(fc, Config{Bucket: "towns"})

	require.NoError(t, a.Archive(context.Background(), "0000beef", syncer.FormatCSV, []byte("a,b\n")))
	assert.Equal(t, []byte("a,b\n"), fc.objects["exports/0000beef.csv"])
	assert.Contains(t, fc.types["exports/0000beef.csv"], "text/csv")
}

func TestArchive_SkipsExisting(t *testing.T) {
	fc := newFakeClient()
	fc.objects["exports/0000beef.xlsx"] = []byte("old")
	a := New(fc, Config{Bucket: "towns"})

	require.NoError(t, a.Archive(context.Background(), "0000beef", syncer.FormatXLSX, []byte("new")))
	assert.Equal(t, []byte("old"), fc.objects["exports/0000beef.xlsx"])
}

func TestArchive_StatError(t *testing.T) {
	fc := newFakeClient()
	fc.statErr = errors.New("access denied")
	a := New(fc, Config{Bucket: "towns"})

	err := a.Archive(context.Background(), "0000beef", syncer.FormatCSV, []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: stat exports/0000beef.csv")
	assert.Empty(t, fc.objects)
}

func TestArchive_PutError(t *testing.T) {
	fc := newFakeClient()
	fc.putErr = errors.New("disk full")
	a := New(fc, Config{Bucket: "towns", Prefix: "raw"})

	err := a.Archive(context.Background(), "0000beef", syncer.FormatXLSX, []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: put raw/0000beef.xlsx")
}

func TestEnsureBucket(t *testing.T) {
	fc := newFakeClient()
	a := New(fc, Config{Bucket: "towns"})

	require.NoError(t, a.EnsureBucket(context.Background()))
	assert.Equal(t, []string{"towns"}, fc.made)

	fc.bucketExists = true
	require.NoError(t, a.EnsureBucket(context.Background()))
	assert.Len(t, fc.made, 1)
}

func TestConnect_Validation(t *testing.T) {
	_, err := Connect(Config{Bucket: "towns"})
	assert.Error(t, err)

	a, err := Connect(Config{Endpoint: "localhost:9000", Bucket: "towns", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "exports/ff.csv", a.Key("ff", syncer.FormatCSV))
}
