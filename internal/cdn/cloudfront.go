// Package cdn invalidates cached copies of published artifacts on the
// content-distribution layer.
package cdn

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/rs/zerolog/log"

	"github.com/martazobro/s3-plugin/internal/storage"
)

// Invalidator drops cached copies of the given paths. Paths are absolute,
// slash-prefixed object keys.
type Invalidator interface {
	Invalidate(ctx context.Context, paths []string) error
}

// CloudFront implements Invalidator against an AWS CloudFront distribution.
type CloudFront struct {
	client         *cloudfront.Client
	distributionID string
}

// NewCloudFront builds an invalidator for one distribution, authenticating
// the same way the storage client does.
func NewCloudFront(ctx context.Context, creds storage.Credentials, region, distributionID string) (*CloudFront, error) {
	if distributionID == "" {
		return nil, fmt.Errorf("cloudfront distribution id must be provided")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if !creds.UseRole {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			awscredentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &CloudFront{
		client:         cloudfront.NewFromConfig(cfg),
		distributionID: distributionID,
	}, nil
}

func (c *CloudFront) Invalidate(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	items := make([]string, len(paths))
	copy(items, paths)

	out, err := c.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(c.distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(fmt.Sprintf("s3-plugin-%d", time.Now().UnixNano())),
			Paths: &types.Paths{
				Items:    items,
				Quantity: aws.Int32(int32(len(items))),
			},
		},
	})
	if err != nil {
		return err
	}

	if out.Invalidation != nil && out.Invalidation.Id != nil {
		log.Info().
			Str("distribution", c.distributionID).
			Str("invalidation", aws.ToString(out.Invalidation.Id)).
			Int("paths", len(items)).
			Msg("cdn invalidation created")
	}
	return nil
}

var _ Invalidator = (*CloudFront)(nil)
