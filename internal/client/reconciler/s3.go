package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/shilei2024/foodai/internal/client/models"
	"github.com/shilei2024/foodai/internal/common"
	"github.com/shilei2024/foodai/internal/logging"
)

// S3API is the subset of *s3.Client used by the S3 reconciler.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Config locates the bucket. Endpoint is set for S3-compatible stores
// such as MinIO, which also need path-style addressing.
type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// NewS3Client builds an S3 client from cfg. Static credentials are used when
// an access key is given, the default AWS chain otherwise.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3 stores one object per record at <prefix>/<collection>/<recordId>.json.
// add and update overwrite the object, delete removes it; both are
// naturally idempotent.
type S3 struct {
	api    S3API
	bucket string
	prefix string
	log    logging.Logger
}

func NewS3(api S3API, bucket, prefix string, logger logging.Logger) *S3 {
	if logger == nil {
		logger = logging.Discard()
	}
	return &S3{api: api, bucket: bucket, prefix: prefix, log: logger.With("module", "s3_reconciler")}
}

type s3Object struct {
	ItemID    string         `json:"item_id"`
	Operation string         `json:"operation"`
	Payload   map[string]any `json:"payload"`
}

// ObjectKey returns where the record affected by m is stored.
func (r *S3) ObjectKey(m models.Mutation) string {
	return path.Join(r.prefix, m.Collection, m.RecordID()+".json")
}

func (r *S3) Apply(ctx context.Context, m models.Mutation) error {
	if m.RecordID() == "" {
		return fmt.Errorf("%w: mutation %s has no record id", common.ErrRemoteRejected, m.ItemID)
	}
	key := r.ObjectKey(m)

	switch m.Operation {
	case models.OperationAdd, models.OperationUpdate:
		body, err := json.Marshal(s3Object{ItemID: m.ItemID, Operation: string(m.Operation), Payload: m.Payload})
		if err != nil {
			return fmt.Errorf("%w: encode %s: %w", common.ErrRemoteRejected, key, err)
		}
		_, err = r.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(r.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
			Metadata:    map[string]string{"item-id": m.ItemID},
		})
		if err != nil {
			return mapS3Error("put "+key, err)
		}
	case models.OperationDelete:
		_, err := r.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return mapS3Error("delete "+key, err)
		}
	default:
		return fmt.Errorf("%w: unknown operation %q", common.ErrRemoteRejected, m.Operation)
	}

	r.log.Debug(ctx, "mutation stored", "item_id", m.ItemID, "key", key)
	return nil
}

// Ping checks that the bucket is reachable.
func (r *S3) Ping(ctx context.Context) error {
	if _, err := r.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.bucket)}); err != nil {
		return mapS3Error("head bucket "+r.bucket, err)
	}
	return nil
}

// mapS3Error treats client errors as rejections, except for timeouts and
// throttling which are worth retrying.
func mapS3Error(op string, err error) error {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return fmt.Errorf("%s: %w: %w", op, common.ErrRemoteRejected, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, common.ErrNetwork, err)
}
