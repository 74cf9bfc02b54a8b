// Package archive keeps a copy of every accepted raw export in S3-compatible
// object storage, keyed by its fingerprint.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/townmap/internal/snapshot"
	"github.com/sells-group/townmap/internal/syncer"
)

// ObjectClient is the subset of *minio.Client used by the archiver.
type ObjectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Config holds connection settings for the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

// Archiver writes raw exports under <prefix>/<fingerprint>.<format>.
type Archiver struct {
	client ObjectClient
	bucket string
	region string
	prefix string
}

// Connect builds a minio client from cfg and wraps it.
func Connect(cfg Config) (*Archiver, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, eris.New("archive: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "archive: create minio client")
	}
	return New(client, cfg), nil
}

// New wraps an existing client.
func New(client ObjectClient, cfg Config) *Archiver {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "exports"
	}
	return &Archiver{client: client, bucket: cfg.Bucket, region: cfg.Region, prefix: prefix}
}

// EnsureBucket creates the bucket if it does not exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return eris.Wrapf(err, "archive: check bucket %s", a.bucket)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return eris.Wrapf(err, "archive: make bucket %s", a.bucket)
	}
	return nil
}

// Key returns the object key for an export.
func (a *Archiver) Key(fp snapshot.Fingerprint, format syncer.Format) string {
	return fmt.Sprintf("%s/%s.%s", a.prefix, fp, format)
}

// Archive uploads raw unless an object with the same fingerprint already exists.
func (a *Archiver) Archive(ctx context.Context, fp snapshot.Fingerprint, format syncer.Format, raw []byte) error {
	key := a.Key(fp, format)

	_, err := a.client.StatObject(ctx, a.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		zap.L().Debug("archive: export already stored", zap.String("key", key))
		return nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return eris.Wrapf(err, "archive: stat %s", key)
	}

	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(raw), int64(len(raw)),
		minio.PutObjectOptions{ContentType: contentType(format)})
	if err != nil {
		return eris.Wrapf(err, "archive: put %s", key)
	}
	zap.L().Info("archive: stored export",
		zap.String("bucket", a.bucket),
		zap.String("key", key),
		zap.Int("bytes", len(raw)),
	)
	return nil
}

func contentType(format syncer.Format) string {
	switch format {
	case syncer.FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}
