package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"hongson-portal/internal/config"
	"hongson-portal/internal/util"
)

var ErrEmptyFile = errors.New("uploaded file is empty")

// objectAPI is the subset of the S3 client used by ImageStore.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// ImageStore keeps app icons in an S3-compatible bucket served from a
// public base URL.
type ImageStore struct {
	api           objectAPI
	bucket        string
	baseURL       string
	defaultFolder string
	clock         clockwork.Clock
	logger        *zap.Logger
}

func NewImageStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ImageStore, error) {
	sc := cfg.Storage

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(sc.Region),
	}
	if sc.AccessKey != "" && sc.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKey, sc.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("Image store initialized",
		zap.String("bucket", sc.Bucket),
		zap.String("region", sc.Region),
		zap.String("public_base_url", sc.PublicBaseURL))

	return newImageStore(api, sc, clockwork.NewRealClock(), logger), nil
}

func newImageStore(api objectAPI, sc config.StorageConfig, clock clockwork.Clock, logger *zap.Logger) *ImageStore {
	folder := sc.DefaultFolder
	if folder == "" {
		folder = "app-icons"
	}
	return &ImageStore{
		api:           api,
		bucket:        sc.Bucket,
		baseURL:       strings.TrimSuffix(sc.PublicBaseURL, "/"),
		defaultFolder: folder,
		clock:         clock,
		logger:        logger,
	}
}

// Upload stores body under <folder>/<epoch-ms>_<sanitized name> and returns
// its public URL.
func (s *ImageStore) Upload(ctx context.Context, folder, fileName, contentType string, body io.Reader, size int64) (string, error) {
	if size == 0 {
		return "", ErrEmptyFile
	}

	key := s.objectKey(folder, fileName)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.api.PutObject(ctx, input); err != nil {
		s.logger.Error("Failed to upload image",
			util.String("key", key),
			util.ErrorField(err))
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	s.logger.Info("Image uploaded", util.String("key", key), util.Int64("size", size))
	return s.baseURL + "/" + key, nil
}

func (s *ImageStore) objectKey(folder, fileName string) string {
	folder = util.SanitizeFolder(folder)
	if folder == "" {
		folder = s.defaultFolder
	}
	ms := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	return folder + "/" + ms + "_" + util.SanitizeFileName(fileName)
}

// Owns reports whether url points into this store.
func (s *ImageStore) Owns(url string) bool {
	return s.keyFromURL(url) != ""
}

func (s *ImageStore) keyFromURL(url string) string {
	if s.baseURL == "" || !strings.HasPrefix(url, s.baseURL+"/") {
		return ""
	}
	key := strings.TrimPrefix(url, s.baseURL+"/")
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	return key
}

// Delete removes the object behind url. URLs outside the store are ignored
// and backend failures are only logged.
func (s *ImageStore) Delete(ctx context.Context, url string) {
	key := s.keyFromURL(url)
	if key == "" {
		s.logger.Debug("Skipping delete of foreign image URL", util.String("url", url))
		return
	}

	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.logger.Warn("Failed to delete image",
			util.String("key", key),
			util.ErrorField(err))
		return
	}

	s.logger.Info("Image deleted", util.String("key", key))
}

func (s *ImageStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("image bucket check failed: %w", err)
	}
	return nil
}
