package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/orgware/owconnect/internal/common"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// ErrFilesDisabled is returned when no object store is configured.
var ErrFilesDisabled = &common.Error{Status: http.StatusServiceUnavailable, Code: "FILES_DISABLED", Msg: "file storage is not configured"}

// ObjectStoreConfig points at an S3 compatible bucket (MinIO in development).
type ObjectStoreConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string
	Bucket    string
	Expires   time.Duration
}

func (c ObjectStoreConfig) Enabled() bool { return c.Bucket != "" }

// Files hands out presigned URLs for company logos. The object key is
// stored in the company's logoFile field by the client.
type Files struct {
	cfg       ObjectStoreConfig
	companies *EntityService
	now       func() time.Time
}

func NewFiles(cfg ObjectStoreConfig, companies *EntityService) *Files {
	if cfg.Expires <= 0 {
		cfg.Expires = 15 * time.Minute
	}
	return &Files{cfg: cfg, companies: companies, now: time.Now}
}

func (f *Files) storageKey(company string) string {
	d := f.now()
	return fmt.Sprintf("companies/%s/%d/%02d/%02d/%v", company, d.Year(), d.Month(), d.Day(), uuid.New())
}

func (f *Files) presignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(f.cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(f.cfg.AccessKey, f.cfg.SecretKey, "")))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if f.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(f.cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3PresignClient(client), nil
}

// LogoUploadURL returns a fresh object key and a presigned PUT URL for it.
func (f *Files) LogoUploadURL(ctx context.Context, company string) (key, url string, err error) {
	if !f.cfg.Enabled() {
		return "", "", ErrFilesDisabled
	}
	if _, err := f.companies.Read(ctx, company); err != nil {
		return "", "", err
	}

	pc, err := f.presignClient(ctx)
	if err != nil {
		return "", "", err
	}

	key = f.storageKey(company)
	req, err := presignPutObject(pc, ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(f.cfg.Expires))
	if err != nil {
		return "", "", fmt.Errorf("presign put: %w", err)
	}
	return key, req.URL, nil
}

// LogoURL returns a presigned GET URL of the company's current logo.
func (f *Files) LogoURL(ctx context.Context, company string) (string, error) {
	if !f.cfg.Enabled() {
		return "", ErrFilesDisabled
	}
	rec, err := f.companies.Read(ctx, company)
	if err != nil {
		return "", err
	}
	key := rec.Data.String("logoFile")
	if key == "" {
		return "", &common.NotFoundError{Collection: "logos", Query: "company=" + company}
	}

	pc, err := f.presignClient(ctx)
	if err != nil {
		return "", err
	}
	req, err := presignGetObject(pc, ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(f.cfg.Expires))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}
