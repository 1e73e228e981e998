package config

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSConfig holds configuration for SQS connection
type SQSConfig struct {
	Region   string `env:"REGION"`
	QueueUrl string `env:"QUEUE_URL"`
	Profile  string `env:"PROFILE"` // Optional AWS profile
}

func loadAWS(ctx context.Context, region, profile string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

// LoadSQSClient loads an SQS client from config
func LoadSQSClient(ctx context.Context, cfg SQSConfig) (*sqs.Client, error) {
	awsCfg, err := loadAWS(ctx, cfg.Region, cfg.Profile)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// LoadSESClient loads an SES v2 client for the mail settings
func LoadSESClient(ctx context.Context, cfg MailConfig) (*sesv2.Client, error) {
	awsCfg, err := loadAWS(ctx, cfg.SESRegion, cfg.SESProfile)
	if err != nil {
		return nil, err
	}
	return sesv2.NewFromConfig(awsCfg), nil
}
