// Package aws provides client construction and shared error classification
// for the remote control plane.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Clients bundles the service clients used by the lifecycle managers.
// Each manager declares its own narrow interface over the client it needs;
// this struct only owns construction.
type Clients struct {
	EC2 *ec2.Client
	ELB *elbv2.Client
	IAM *iam.Client
	STS *sts.Client
}

// NewClients builds service clients for the given region using the default
// credential chain (environment, shared config, instance role).
func NewClients(ctx context.Context, region string) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return clientsFromConfig(cfg), nil
}

// NewClientsWithStaticCredentials builds service clients with explicit
// credentials, bypassing the default chain. Used when the caller supplies
// keys directly (e.g. scripted CI runs).
func NewClientsWithStaticCredentials(ctx context.Context, region, accessKey, secretKey string) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return clientsFromConfig(cfg), nil
}

func clientsFromConfig(cfg aws.Config) *Clients {
	return &Clients{
		EC2: ec2.NewFromConfig(cfg),
		ELB: elbv2.NewFromConfig(cfg),
		IAM: iam.NewFromConfig(cfg),
		STS: sts.NewFromConfig(cfg),
	}
}
