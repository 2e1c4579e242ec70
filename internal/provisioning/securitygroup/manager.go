// Package securitygroup manages the edge-facing and app-facing security
// groups for one environment.
package securitygroup

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	platformaws "github.com/skiffcloud/skiff/internal/platform/aws"
	"github.com/skiffcloud/skiff/internal/provisioning"
	"github.com/skiffcloud/skiff/internal/util/naming"
	"github.com/skiffcloud/skiff/internal/util/tags"
)

// EC2Client is the subset of the EC2 API used for security-group management.
type EC2Client interface {
	CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	RevokeSecurityGroupIngress(ctx context.Context, params *ec2.RevokeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error)
	DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
}

const stageName = "securitygroups"

// Manager is the security-group lifecycle manager.
type Manager struct {
	client EC2Client
}

// NewManager creates a security-group manager.
func NewManager(client EC2Client) *Manager {
	return &Manager{client: client}
}

// ProvisionGroups creates the edge group, open to the internet on 80/443,
// then the app group, reachable only from the edge group plus SSH. The ids
// are recorded in creation order so teardown can walk them in reverse.
func (m *Manager) ProvisionGroups(ctx *provisioning.Context) error {
	edgeID, err := m.createGroup(ctx, naming.EdgeSecurityGroup(ctx.Config.AppName),
		"edge security group, internet-facing")
	if err != nil {
		return err
	}
	ctx.Resources.SecurityGroupIDs = append(ctx.Resources.SecurityGroupIDs, edgeID)

	_, err = m.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: awssdk.String(edgeID),
		IpPermissions: []ec2types.IpPermission{
			tcpFromAnywhere(80),
			tcpFromAnywhere(443),
		},
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeSecurityGroup,
			"failed to authorize edge security group ingress", err)
	}

	appID, err := m.createGroup(ctx, naming.AppSecurityGroup(ctx.Config.AppName),
		"app security group, reachable from the edge group only")
	if err != nil {
		return err
	}
	ctx.Resources.SecurityGroupIDs = append(ctx.Resources.SecurityGroupIDs, appID)

	_, err = m.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: awssdk.String(appID),
		IpPermissions: []ec2types.IpPermission{
			{
				IpProtocol: awssdk.String("tcp"),
				FromPort:   awssdk.Int32(80),
				ToPort:     awssdk.Int32(80),
				UserIdGroupPairs: []ec2types.UserIdGroupPair{
					{GroupId: awssdk.String(edgeID)},
				},
			},
			tcpFromAnywhere(22),
		},
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeSecurityGroup,
			"failed to authorize app security group ingress", err)
	}
	return nil
}

func (m *Manager) createGroup(ctx *provisioning.Context, name, description string) (string, error) {
	tagMap := tags.NewBuilder(ctx.Config.AppName, ctx.Resources.RunID).WithName(name).Merge(ctx.Config.ExtraTags).Build()

	provisioning.LogResourceCreating(ctx.Observer, stageName, "security group", name)
	out, err := m.client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   awssdk.String(name),
		Description: awssdk.String(description),
		VpcId:       awssdk.String(ctx.Resources.VPCID),
		TagSpecifications: []ec2types.TagSpecification{
			platformaws.EC2TagSpec(ec2types.ResourceTypeSecurityGroup, tagMap),
		},
	})
	if err != nil {
		return "", provisioning.NewError(provisioning.CodeSecurityGroup,
			fmt.Sprintf("failed to create security group %s", name), err)
	}
	groupID := awssdk.ToString(out.GroupId)
	provisioning.LogResourceCreated(ctx.Observer, stageName, "security group", name, groupID)
	return groupID, nil
}

func tcpFromAnywhere(port int32) ec2types.IpPermission {
	return ec2types.IpPermission{
		IpProtocol: awssdk.String("tcp"),
		FromPort:   awssdk.Int32(port),
		ToPort:     awssdk.Int32(port),
		IpRanges: []ec2types.IpRange{
			{CidrIp: awssdk.String("0.0.0.0/0")},
		},
	}
}

// DestroyGroups deletes the recorded groups in reverse creation order. For
// each group the current ingress rules are revoked first and the provider is
// given a short settle delay before the delete, since a group whose rules
// still reference a peer group cannot be removed. A DependencyViolation on
// delete gets one longer-delay retry before the error propagates.
func (m *Manager) DestroyGroups(ctx *provisioning.Context) error {
	remaining := make([]string, 0, len(ctx.Resources.SecurityGroupIDs))
	var firstErr error

	for i := len(ctx.Resources.SecurityGroupIDs) - 1; i >= 0; i-- {
		groupID := ctx.Resources.SecurityGroupIDs[i]
		if err := m.destroyGroup(ctx, groupID); err != nil {
			remaining = append([]string{groupID}, remaining...)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	ctx.Resources.SecurityGroupIDs = remaining
	if firstErr != nil {
		return provisioning.NewError(provisioning.CodeSecurityGroup,
			"failed to delete one or more security groups", firstErr)
	}
	return nil
}

func (m *Manager) destroyGroup(ctx *provisioning.Context, groupID string) error {
	out, err := m.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{groupID},
	})
	if err != nil {
		if platformaws.IsNotFound(err) {
			// Already gone out-of-band.
			return nil
		}
		return fmt.Errorf("describing security group %s: %w", groupID, err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil
	}

	if perms := out.SecurityGroups[0].IpPermissions; len(perms) > 0 {
		_, err = m.client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       awssdk.String(groupID),
			IpPermissions: perms,
		})
		if err != nil && !platformaws.IsNotFound(err) {
			return fmt.Errorf("revoking ingress on security group %s: %w", groupID, err)
		}
		time.Sleep(ctx.Timeouts.RevokeSettleWait)
	}

	provisioning.LogResourceDeleting(ctx.Observer, stageName, "security group", groupID)
	err = m.deleteGroup(ctx, groupID)
	if platformaws.IsDependencyViolation(err) {
		ctx.Observer.Printf("security group %s still referenced, retrying delete after %s", groupID, ctx.Timeouts.DependencyRetryWait)
		time.Sleep(ctx.Timeouts.DependencyRetryWait)
		err = m.deleteGroup(ctx, groupID)
	}
	if err != nil {
		return fmt.Errorf("deleting security group %s: %w", groupID, err)
	}
	provisioning.LogResourceDeleted(ctx.Observer, stageName, "security group", groupID)
	return nil
}

func (m *Manager) deleteGroup(ctx *provisioning.Context, groupID string) error {
	_, err := m.client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: awssdk.String(groupID),
	})
	if err != nil && !platformaws.IsNotFound(err) {
		return err
	}
	return nil
}

// ListTagged returns the security group ids carrying this run's tags.
// Advisory read: failures are treated as "nothing found".
func (m *Manager) ListTagged(ctx *provisioning.Context) []string {
	out, err := m.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: platformaws.EC2RunFilters(ctx.Config.AppName, ctx.Resources.RunID),
	})
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(out.SecurityGroups))
	for _, group := range out.SecurityGroups {
		ids = append(ids, awssdk.ToString(group.GroupId))
	}
	return ids
}
