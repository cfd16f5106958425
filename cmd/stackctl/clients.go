// clients.go centralizes AWS configuration and service client construction so
// tests can substitute scripted fakes.
package main

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/example/stackctl/internal/assets"
	"github.com/example/stackctl/internal/cloud"
	"github.com/example/stackctl/internal/engine"
)

var (
	loadAWSConfig = cloud.Load
	newCFNClient  = func(cfg aws.Config) engine.CFNAPI { return cloudformation.NewFromConfig(cfg) }
	newS3Client   = func(cfg aws.Config) assets.S3API { return s3.NewFromConfig(cfg) }
)
