// Package cloud resolves the shared AWS SDK configuration used by stackctl's
// CloudFormation and S3 clients.
package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/example/stackctl/internal/version"
)

// Load resolves the default AWS configuration. A non-empty region overrides
// whatever the environment and shared config files would pick; the stackctl
// version is stamped into the request user agent.
func Load(ctx context.Context, region string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithAppID("stackctl-" + version.Version),
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		return aws.Config{}, fmt.Errorf("an AWS region is required (set --region or AWS_REGION)")
	}
	return cfg, nil
}
