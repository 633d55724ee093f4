package minio

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// ArtifactStore uploads the files of a run and downloads model weights.
type ArtifactStore interface {
	UploadRun(ctx context.Context, runID string, files []string) ([]string, error)
	FetchWeights(ctx context.Context, object, dst string) error
}

type artifactStore struct {
	client *MinIOClient
	logger logging.Logger
}

// NewArtifactStore creates an ArtifactStore over client.
func NewArtifactStore(client *MinIOClient, logger logging.Logger) ArtifactStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &artifactStore{client: client, logger: logger}
}

// ObjectKey returns the key of file within the run's prefix:
// <prefix>/<runID>/<basename>.
func ObjectKey(prefix, runID, file string) string {
	return path.Join(strings.Trim(prefix, "/"), runID, filepath.Base(file))
}

// UploadRun uploads files under the run prefix and returns their object
// keys in the same order. It stops at the first failure.
func (s *artifactStore) UploadRun(ctx context.Context, runID string, files []string) ([]string, error) {
	bucket := s.client.ArtifactBucket()
	keys := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return keys, errors.Wrapf(err, errors.CodeStorageError, "stat artifact %s", f)
		}
		key := ObjectKey(s.client.config.Prefix, runID, f)
		info, err := s.client.client.FPutObject(ctx, bucket, key, f, minio.PutObjectOptions{
			ContentType:  contentType(f),
			UserMetadata: map[string]string{"run-id": runID},
		})
		if err != nil {
			return keys, errors.Wrapf(err, errors.CodeStorageError, "upload %s", key)
		}
		s.logger.Debug("artifact uploaded",
			logging.String("bucket", bucket),
			logging.String("key", key),
			logging.Int64("size", info.Size))
		keys = append(keys, key)
	}
	s.logger.Info("run artifacts uploaded",
		logging.String("run_id", runID),
		logging.String("bucket", bucket),
		logging.Int("objects", len(keys)))
	return keys, nil
}

// FetchWeights downloads object from the model bucket into dst.
func (s *artifactStore) FetchWeights(ctx context.Context, object, dst string) error {
	bucket := s.client.ModelBucket()
	if err := s.client.client.FGetObject(ctx, bucket, object, dst, minio.GetObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return errors.New(errors.CodeModelWeights, "weights object not found").
				WithDetailf("bucket=%s object=%s", bucket, object).WithCause(err)
		}
		return errors.Wrapf(err, errors.CodeStorageError, "download %s/%s", bucket, object)
	}
	s.logger.Info("model weights fetched", logging.String("bucket", bucket), logging.String("object", object))
	return nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		return "text/csv"
	case ".tsv":
		return "text/tab-separated-values"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
