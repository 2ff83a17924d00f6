package cloud

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	dsconfig "dsync-go/internal/config"
	"dsync-go/internal/dsync"
	"dsync-go/internal/model"
)

// S3Cloud stores each document as one JSON object under a key prefix. S3 has
// no push channel, so SubscribeToChanges is a no-op and devices converge
// through periodic sweeps instead.
type S3Cloud struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
	codec    *Codec
	logger   dsync.Logger

	mu     sync.RWMutex
	authed bool
}

// NewS3Cloud creates an S3-backed cloud store. Static credentials from the
// config take precedence; otherwise the default AWS credential chain applies.
func NewS3Cloud(ctx context.Context, cfg dsconfig.CloudConfig, cipher dsync.PayloadCipher, logger dsync.Logger) (*S3Cloud, error) {
	if logger == nil {
		logger = dsync.NewNopLogger()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, dsync.PermanentRemote("loading aws config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	prefix := cfg.S3Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Cloud{
		bucket:   cfg.S3Bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
		codec:    NewCodec(cipher),
		logger:   logger,
	}, nil
}

// Authenticate verifies the bucket is reachable with the active credentials.
func (c *S3Cloud) Authenticate(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return classifyS3("authenticate", err)
	}
	c.mu.Lock()
	c.authed = true
	c.mu.Unlock()
	return nil
}

func (c *S3Cloud) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed
}

func (c *S3Cloud) Upload(ctx context.Context, doc *model.Document) error {
	data, err := c.codec.Marshal(doc)
	if err != nil {
		return dsync.PermanentRemote("upload", err)
	}

	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.key(doc.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return classifyS3("upload", err)
	}
	return nil
}

func (c *S3Cloud) Download(ctx context.Context, id string) (*model.Document, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil // Not found
		}
		return nil, classifyS3("download", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, dsync.TransientRemote("download", err)
	}
	doc, err := c.codec.Unmarshal(data)
	if err != nil {
		return nil, dsync.PermanentRemote("download", err)
	}
	return doc, nil
}

// List fetches every object under the prefix and sorts client-side by
// modification time. S3 offers no metadata index, so this is O(documents)
// GETs; acceptable at personal-library scale.
func (c *S3Cloud) List(ctx context.Context) ([]*model.DocumentMeta, error) {
	var metas []*model.DocumentMeta

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3("list", err)
		}
		for _, obj := range page.Contents {
			id := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(obj.Key), c.prefix), ".json")
			doc, err := c.Download(ctx, id)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				continue // deleted between list and fetch
			}
			metas = append(metas, doc.Meta())
		}
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CloudTimestamp.After(metas[j].CloudTimestamp)
	})
	return metas, nil
}

func (c *S3Cloud) Delete(ctx context.Context, id string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(id)),
	})
	if err != nil && !isNotFound(err) {
		return classifyS3("delete", err)
	}
	return nil
}

// SubscribeToChanges is a no-op: S3 cannot push. Remote changes land during
// the next periodic sweep.
func (c *S3Cloud) SubscribeToChanges(handler dsync.PushHandler) (func(), error) {
	return func() {}, nil
}

func (c *S3Cloud) key(id string) string {
	return c.prefix + id + ".json"
}

// isNotFound reports whether err is a missing-object error.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// classifyS3 maps an S3 failure to a RemoteError. Credential and request
// rejections are permanent; everything else (network, throttling, 5xx) is
// worth retrying.
func classifyS3(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "Forbidden", "NoSuchBucket":
			return dsync.PermanentRemote(op, err)
		}
	}
	return dsync.TransientRemote(op, err)
}

// Compile-time check that S3Cloud implements the CloudStore interface.
var _ dsync.CloudStore = (*S3Cloud)(nil)
