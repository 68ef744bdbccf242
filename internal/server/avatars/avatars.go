// Package avatars hands out presigned S3 upload URLs for profile pictures.
package avatars

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	sc "github.com/dmitrijs2005/todokeeper/internal/server/config"
)

const UploadExpiry = 15 * time.Minute

var ErrDisabled = errors.New("avatar uploads are not configured")

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
)

// Upload is a presigned PUT target and the URL the object will be served
// from once uploaded.
type Upload struct {
	Key        string
	UploadURL  string
	PictureURL string
	ExpiresAt  time.Time
}

type Presigner struct {
	config *sc.Config
	now    func() time.Time
}

func NewPresigner(config *sc.Config) *Presigner {
	return &Presigner{config: config, now: time.Now}
}

func (p *Presigner) Enabled() bool {
	return p != nil && p.config != nil && p.config.AvatarsEnabled()
}

func (p *Presigner) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(p.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			p.config.S3AccessKey,
			p.config.S3SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if p.config.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(p.config.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return newS3PresignClient(client), nil
}

// PresignUpload returns a fresh object key under the account's prefix with a
// presigned PUT URL valid for UploadExpiry.
func (p *Presigner) PresignUpload(ctx context.Context, accountID string) (*Upload, error) {
	if !p.Enabled() {
		return nil, ErrDisabled
	}

	presignClient, err := p.getPresignClient(ctx)
	if err != nil {
		return nil, err
	}

	bucket := p.config.S3Bucket
	key := StorageKey(accountID)

	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(UploadExpiry))
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}

	return &Upload{
		Key:        key,
		UploadURL:  req.URL,
		PictureURL: p.PublicURL(key),
		ExpiresAt:  p.now().Add(UploadExpiry),
	}, nil
}

// PublicURL is where a stored avatar is served from: the configured public
// base, the custom endpoint in path style, or the virtual-hosted AWS URL.
func (p *Presigner) PublicURL(key string) string {
	switch {
	case p.config.S3PublicBaseURL != "":
		return strings.TrimRight(p.config.S3PublicBaseURL, "/") + "/" + key
	case p.config.S3BaseEndpoint != "":
		return strings.TrimRight(p.config.S3BaseEndpoint, "/") + "/" + p.config.S3Bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.config.S3Bucket, p.config.S3Region, key)
	}
}

func StorageKey(accountID string) string {
	return fmt.Sprintf("avatars/%s/%s", accountID, uuid.NewString())
}
