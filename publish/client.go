/*
Package publish copies a built site to an S3 bucket and invalidates the changed
paths on a CloudFront distribution.

Only objects whose contents differ from the bucket are uploaded: the MD5 of each
local object is compared with the ETag of the remote one. Objects in the bucket
that are no longer built are deleted only when deletion is enabled.

Credentials are taken from the AWS_ACCESS_KEY and AWS_SECRET environment
variables when set (see the command line flags), and otherwise from the default
AWS credential chain. They are never read from the configuration file.
*/
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/QBayLogic/qbaymid/config"
)

var (
	// ErrNoBucket is returned when no bucket is configured.
	ErrNoBucket = errors.New("no s3 bucket configured")
	// ErrNoDistribution is returned when no CloudFront distribution is configured.
	ErrNoDistribution = errors.New("no cloudfront distribution configured")
)

// defaultRegion is used when neither the configuration nor the environment name one.
const defaultRegion = "us-east-1"

// S3API is the part of the S3 client used by Syncer.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	PutBucketWebsite(ctx context.Context, params *s3.PutBucketWebsiteInput, optFns ...func(*s3.Options)) (*s3.PutBucketWebsiteOutput, error)
}

// CloudFrontAPI is the part of the CloudFront client used by CDN.
type CloudFrontAPI interface {
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
	GetInvalidation(ctx context.Context, params *cloudfront.GetInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetInvalidationOutput, error)
}

// Credentials are static AWS keys. Empty keys select the default credential chain.
type Credentials struct {
	AccessKey string
	Secret    string
}

// Clients returns S3 and CloudFront clients for the bucket settings.
func Clients(ctx context.Context, c config.S3, creds Credentials) (*s3.Client, *cloudfront.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.NewAdaptiveMode()
		}),
	}
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if creds.AccessKey != "" && creds.Secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.Secret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = defaultRegion
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})
	return s3Client, cloudfront.NewFromConfig(awsCfg), nil
}

// logAPIError logs the service error code of a failed AWS call.
func logAPIError(log *zap.Logger, op string, err error) {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		log.Error("AWS request failed",
			zap.String("op", op),
			zap.String("code", ae.ErrorCode()),
			zap.String("message", ae.ErrorMessage()),
			zap.String("fault", ae.ErrorFault().String()))
		return
	}
	log.Error("AWS request failed", zap.String("op", op), zap.Error(err))
}
