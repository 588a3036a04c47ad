package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/server/models"
)

func newFilesForPresign(t *testing.T) (*Files, *EntityService) {
	t.Helper()
	companies := newService(t, definition(t, "companies"), &recordingBus{})
	cfg := ObjectStoreConfig{
		Region:    "us-east-1",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Endpoint:  "http://127.0.0.1:9100",
		Bucket:    "owconnect",
	}
	f := NewFiles(cfg, companies)
	f.now = fixedClock
	return f, companies
}

// stubPresign replaces the AWS seams for the duration of the test.
func stubPresign(t *testing.T, putErr, getErr error) (lastKey *string) {
	t.Helper()
	origLoad := loadDefaultAWSConfig
	origNewS3 := newS3ClientFromConfig
	origNewPre := newS3PresignClient
	origPut := presignPutObject
	origGet := presignGetObject
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNewS3
		newS3PresignClient = origNewPre
		presignPutObject = origPut
		presignGetObject = origGet
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				t.Fatalf("load options fn error: %v", err)
			}
		}
		if lo.Region != "us-east-1" {
			t.Fatalf("region not applied: %q", lo.Region)
		}
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		if opts.BaseEndpoint == nil || *opts.BaseEndpoint != "http://127.0.0.1:9100" {
			t.Fatalf("BaseEndpoint not applied")
		}
		if !opts.UsePathStyle {
			t.Fatalf("path style not enabled for custom endpoint")
		}
		return &s3.Client{}
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient { return &s3.PresignClient{} }

	var key string
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		if putErr != nil {
			return nil, putErr
		}
		if aws.ToString(in.Bucket) != "owconnect" {
			t.Fatalf("unexpected bucket %q", aws.ToString(in.Bucket))
		}
		key = aws.ToString(in.Key)
		return &v4.PresignedHTTPRequest{URL: "https://put/" + key}, nil
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		if getErr != nil {
			return nil, getErr
		}
		key = aws.ToString(in.Key)
		return &v4.PresignedHTTPRequest{URL: "https://get/" + key}, nil
	}
	return &key
}

func TestFiles_LogoUploadURL(t *testing.T) {
	f, _ := newFilesForPresign(t)
	stubPresign(t, nil, nil)

	key, url, err := f.LogoUploadURL(context.Background(), "001")
	if err != nil {
		t.Fatalf("LogoUploadURL err: %v", err)
	}
	if !strings.HasPrefix(key, "companies/001/2024/03/01/") {
		t.Fatalf("unexpected key %q", key)
	}
	if url != "https://put/"+key {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestFiles_LogoUploadURL_UnknownCompany(t *testing.T) {
	f, _ := newFilesForPresign(t)
	stubPresign(t, nil, nil)

	_, _, err := f.LogoUploadURL(context.Background(), "042")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFiles_PresignErrors(t *testing.T) {
	f, companies := newFilesForPresign(t)
	boom := errors.New("boom")
	stubPresign(t, boom, boom)
	ctx := context.Background()

	if _, _, err := f.LogoUploadURL(ctx, "001"); !errors.Is(err, boom) {
		t.Fatalf("expected put error, got %v", err)
	}

	cur, _ := companies.Read(ctx, "001")
	if _, err := companies.Update(ctx, cur.ID, models.Document{"logoFile": "companies/001/logo"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.LogoURL(ctx, "001"); !errors.Is(err, boom) {
		t.Fatalf("expected get error, got %v", err)
	}
}

func TestFiles_LogoURL(t *testing.T) {
	f, companies := newFilesForPresign(t)
	last := stubPresign(t, nil, nil)
	ctx := context.Background()

	if _, err := f.LogoURL(ctx, "001"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected not found without logo, got %v", err)
	}

	cur, _ := companies.Read(ctx, "001")
	if _, err := companies.Update(ctx, cur.ID, models.Document{"logoFile": "companies/001/logo.png"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	url, err := f.LogoURL(ctx, "001")
	if err != nil {
		t.Fatalf("LogoURL err: %v", err)
	}
	if *last != "companies/001/logo.png" || url != "https://get/companies/001/logo.png" {
		t.Fatalf("unexpected presign key=%q url=%q", *last, url)
	}
}

func TestFiles_Disabled(t *testing.T) {
	f := NewFiles(ObjectStoreConfig{}, nil)

	if _, _, err := f.LogoUploadURL(context.Background(), "001"); !errors.Is(err, ErrFilesDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
	if _, err := f.LogoURL(context.Background(), "001"); !errors.Is(err, ErrFilesDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}
