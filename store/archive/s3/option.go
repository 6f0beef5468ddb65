package s3

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const (
	defaultRegion      = "us-east-1"
	defaultPrefix      = "purged"
	defaultSessionName = "mailroute-archive"
)

// Option configures the S3 archiver.
type Option func(*options)

type options struct {
	bucket    string
	prefix    string
	region    string
	endpoint  string
	pathStyle bool
	creds     credentialSource
	logger    *slog.Logger
}

func newOptions(opts []Option) (*options, error) {
	o := &options{
		region: defaultRegion,
		prefix: defaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bucket == "" {
		return nil, fmt.Errorf("s3 archive: bucket is required")
	}
	return o, nil
}

// awsConfig resolves the SDK config for the chosen credential source.
// Without one the SDK default chain applies.
func (o *options) awsConfig(ctx context.Context) (aws.Config, error) {
	load := []func(*config.LoadOptions) error{config.WithRegion(o.region)}
	if o.creds != nil {
		provider, err := o.creds.provider(ctx, o.region)
		if err != nil {
			return aws.Config{}, err
		}
		load = append(load, config.WithCredentialsProvider(provider))
	}
	return config.LoadDefaultConfig(ctx, load...)
}

// credentialSource yields the credentials the archiver signs uploads with.
type credentialSource interface {
	provider(ctx context.Context, region string) (aws.CredentialsProvider, error)
}

type staticKeys struct {
	accessKey, secretKey, sessionToken string
}

func (s staticKeys) provider(context.Context, string) (aws.CredentialsProvider, error) {
	return credentials.NewStaticCredentialsProvider(s.accessKey, s.secretKey, s.sessionToken), nil
}

type assumedRole struct {
	arn, externalID string
}

// provider assumes the role using whatever the default chain resolves as
// the base identity.
func (r assumedRole) provider(ctx context.Context, region string) (aws.CredentialsProvider, error) {
	base, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load base identity for %s: %w", r.arn, err)
	}
	return stscreds.NewAssumeRoleProvider(sts.NewFromConfig(base), r.arn, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = defaultSessionName
		if r.externalID != "" {
			o.ExternalID = aws.String(r.externalID)
		}
	}), nil
}

// WithBucket names the bucket purged messages are written to. Required.
func WithBucket(bucket string) Option {
	return func(o *options) { o.bucket = bucket }
}

// WithPrefix sets the key prefix. Defaults to "purged".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithRegion sets the AWS region. Defaults to us-east-1.
func WithRegion(region string) Option {
	return func(o *options) {
		if region != "" {
			o.region = region
		}
	}
}

// WithEndpoint targets an S3-compatible service such as MinIO.
// pathStyle is usually required by those services.
func WithEndpoint(endpoint string, pathStyle bool) Option {
	return func(o *options) {
		o.endpoint = endpoint
		o.pathStyle = pathStyle
	}
}

// WithStaticCredentials signs requests with fixed keys. sessionToken may be
// empty.
func WithStaticCredentials(accessKey, secretKey, sessionToken string) Option {
	return func(o *options) {
		o.creds = staticKeys{accessKey: accessKey, secretKey: secretKey, sessionToken: sessionToken}
	}
}

// WithAssumeRole signs requests with credentials from an STS role.
func WithAssumeRole(roleARN, externalID string) Option {
	return func(o *options) {
		o.creds = assumedRole{arn: roleARN, externalID: externalID}
	}
}

// WithLogger sets the logger. nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
