// Package s3 implements the storage driver on AWS S3 and S3-compatible
// services. Each upload session maps to one native multipart upload; each
// chunk becomes one part.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/torrin-io/torrin/internal/models"
	"github.com/torrin-io/torrin/internal/uploaderr"
)

// Config holds the driver configuration.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // custom endpoint for MinIO and friends
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	KeyPrefix       string // object key prefix, default "uploads/"

	// GetObjectKey overrides the default keying scheme when set.
	GetObjectKey func(session *models.UploadSession) string
}

// api is the slice of the S3 client the driver uses. Narrowed for tests.
type api interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

type part struct {
	etag       string
	partNumber int32
}

type multipartState struct {
	mu          sync.Mutex
	multipartID string
	key         string
	parts       map[int]part // chunk index -> uploaded part
}

// Driver maps upload sessions to S3 multipart uploads. The per-upload part
// map lives in process memory: finalizing or aborting an upload initiated by
// a different process fails with STORAGE_ERROR. The multipart upload id is
// mirrored into session metadata so operators can reconcile leftovers with
// an S3 lifecycle rule.
type Driver struct {
	client api
	cfg    Config

	mu      sync.Mutex
	uploads map[string]*multipartState
}

// New creates the driver and verifies bucket access.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}

	var optFuncs []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFuncs = append(optFuncs, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFuncs = append(optFuncs, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFuncs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %q: %w", cfg.Bucket, err)
	}

	slog.Info("s3 storage initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"path_style", cfg.PathStyle,
	)

	return newWithClient(client, cfg), nil
}

func newWithClient(client api, cfg Config) *Driver {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "uploads/"
	}
	return &Driver{
		client:  client,
		cfg:     cfg,
		uploads: make(map[string]*multipartState),
	}
}

// objectKey returns <keyPrefix><YYYY>/<MM>/<uploadId><ext> unless overridden.
func (d *Driver) objectKey(session *models.UploadSession) string {
	if d.cfg.GetObjectKey != nil {
		return d.cfg.GetObjectKey(session)
	}
	now := time.Now().UTC()
	ext := ""
	if session.FileName != "" {
		ext = filepath.Ext(filepath.Base(session.FileName))
	}
	return fmt.Sprintf("%s%04d/%02d/%s%s", d.cfg.KeyPrefix, now.Year(), int(now.Month()), session.UploadID, ext)
}

func (d *Driver) state(uploadID string) *multipartState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uploads[uploadID]
}

func (d *Driver) InitUpload(ctx context.Context, session *models.UploadSession) error {
	key := d.objectKey(session)

	in := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(key),
	}
	if session.MimeType != "" {
		in.ContentType = aws.String(session.MimeType)
	}

	out, err := d.client.CreateMultipartUpload(ctx, in)
	if err != nil {
		return uploaderr.Storage("failed to create multipart upload", err)
	}
	if out.UploadId == nil || *out.UploadId == "" {
		return uploaderr.Storage("s3 returned no multipart upload id", nil)
	}

	d.mu.Lock()
	d.uploads[session.UploadID] = &multipartState{
		multipartID: *out.UploadId,
		key:         key,
		parts:       make(map[int]part),
	}
	d.mu.Unlock()

	slog.Debug("multipart upload created",
		"upload_id", session.UploadID,
		"key", key,
		"multipart_id", *out.UploadId,
	)
	return nil
}

// MultipartID exposes the native multipart upload id for a session, or ""
// when the session is unknown to this process. The service mirrors it into
// session metadata.
func (d *Driver) MultipartID(uploadID string) string {
	if st := d.state(uploadID); st != nil {
		return st.multipartID
	}
	return ""
}

func (d *Driver) WriteChunk(ctx context.Context, session *models.UploadSession, index int, r io.Reader, expectedSize int64, hash string) error {
	st := d.state(session.UploadID)
	if st == nil {
		return uploaderr.Storage(fmt.Sprintf("no multipart state for upload %s", session.UploadID), nil)
	}

	// UploadPart needs a known-length body, so the chunk is buffered.
	data, err := io.ReadAll(r)
	if err != nil {
		return uploaderr.Storage("failed to read chunk body", err)
	}
	if int64(len(data)) != expectedSize {
		return uploaderr.SizeMismatch(expectedSize, int64(len(data)))
	}

	partNumber := int32(index + 1) // S3 parts are 1-based

	out, err := d.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(d.cfg.Bucket),
		Key:           aws.String(st.key),
		UploadId:      aws.String(st.multipartID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return uploaderr.Storage(fmt.Sprintf("failed to upload part %d", partNumber), err)
	}

	etag := ""
	if out.ETag != nil {
		etag = *out.ETag
	}

	// A re-uploaded part number supersedes the prior ETag.
	st.mu.Lock()
	st.parts[index] = part{etag: etag, partNumber: partNumber}
	st.mu.Unlock()

	slog.Debug("part uploaded",
		"upload_id", session.UploadID,
		"part_number", partNumber,
		"size", len(data),
	)
	return nil
}

func (d *Driver) FinalizeUpload(ctx context.Context, session *models.UploadSession) (models.StorageLocation, error) {
	st := d.state(session.UploadID)
	if st == nil {
		return models.StorageLocation{}, uploaderr.Storage(
			fmt.Sprintf("no multipart state for upload %s (initiated in another process?)", session.UploadID), nil)
	}

	st.mu.Lock()
	completed := make([]types.CompletedPart, 0, len(st.parts))
	for _, p := range st.parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.etag),
			PartNumber: aws.Int32(p.partNumber),
		})
	}
	st.mu.Unlock()

	sort.Slice(completed, func(i, j int) bool {
		return *completed[i].PartNumber < *completed[j].PartNumber
	})

	out, err := d.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(d.cfg.Bucket),
		Key:             aws.String(st.key),
		UploadId:        aws.String(st.multipartID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return models.StorageLocation{}, uploaderr.Storage("failed to complete multipart upload", err)
	}

	d.mu.Lock()
	delete(d.uploads, session.UploadID)
	d.mu.Unlock()

	loc := models.StorageLocation{
		Type:   models.LocationS3,
		Bucket: d.cfg.Bucket,
		Key:    st.key,
	}
	if out.Location != nil {
		loc.URL = *out.Location
	}
	if out.ETag != nil {
		loc.ETag = *out.ETag
	}

	slog.Info("multipart upload completed",
		"upload_id", session.UploadID,
		"key", st.key,
		"parts", len(completed),
	)
	return loc, nil
}

func (d *Driver) AbortUpload(ctx context.Context, session *models.UploadSession) error {
	st := d.state(session.UploadID)
	if st == nil {
		// Nothing staged in this process.
		return nil
	}

	_, err := d.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(d.cfg.Bucket),
		Key:      aws.String(st.key),
		UploadId: aws.String(st.multipartID),
	})
	if err != nil {
		return uploaderr.Storage("failed to abort multipart upload", err)
	}

	d.mu.Lock()
	delete(d.uploads, session.UploadID)
	d.mu.Unlock()

	slog.Debug("multipart upload aborted", "upload_id", session.UploadID, "key", st.key)
	return nil
}
