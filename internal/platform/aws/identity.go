package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSClient is the subset of the STS API used for the account lookup.
type STSClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// CallerIdentity describes the account the credentials resolve to.
// Shown in the confirmation prompt before any mutating run.
type CallerIdentity struct {
	Account string
	ARN     string
	UserID  string
}

// LookupCallerIdentity resolves the current credentials to an account.
func LookupCallerIdentity(ctx context.Context, client STSClient) (*CallerIdentity, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve caller identity: %w", err)
	}

	identity := &CallerIdentity{}
	if out.Account != nil {
		identity.Account = *out.Account
	}
	if out.Arn != nil {
		identity.ARN = *out.Arn
	}
	if out.UserId != nil {
		identity.UserID = *out.UserId
	}
	return identity, nil
}
