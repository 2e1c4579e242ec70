// Package identity manages the IAM role and instance profile attached to
// the environment's compute instance.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	platformaws "github.com/skiffcloud/skiff/internal/platform/aws"
	"github.com/skiffcloud/skiff/internal/provisioning"
	"github.com/skiffcloud/skiff/internal/util/naming"
	"github.com/skiffcloud/skiff/internal/util/retry"
	"github.com/skiffcloud/skiff/internal/util/tags"
)

// IAMClient is the subset of the IAM API used for identity management.
type IAMClient interface {
	ListRoles(ctx context.Context, params *iam.ListRolesInput, optFns ...func(*iam.Options)) (*iam.ListRolesOutput, error)
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	CreateInstanceProfile(ctx context.Context, params *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error)
	GetInstanceProfile(ctx context.Context, params *iam.GetInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.GetInstanceProfileOutput, error)
	DeleteInstanceProfile(ctx context.Context, params *iam.DeleteInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error)
	AddRoleToInstanceProfile(ctx context.Context, params *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error)
	RemoveRoleFromInstanceProfile(ctx context.Context, params *iam.RemoveRoleFromInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error)
	ListInstanceProfiles(ctx context.Context, params *iam.ListInstanceProfilesInput, optFns ...func(*iam.Options)) (*iam.ListInstanceProfilesOutput, error)
	ListInstanceProfileTags(ctx context.Context, params *iam.ListInstanceProfileTagsInput, optFns ...func(*iam.Options)) (*iam.ListInstanceProfileTagsOutput, error)
}

const stageName = "identity"

// ec2TrustPolicy lets EC2 assume the role on the instance's behalf.
const ec2TrustPolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {"Service": "ec2.amazonaws.com"},
      "Action": "sts:AssumeRole"
    }
  ]
}`

// managedPolicyARNs is the fixed policy list attached to the instance role.
var managedPolicyARNs = []string{
	"arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore",
	"arn:aws:iam::aws:policy/CloudWatchAgentServerPolicy",
}

// Manager is the IAM role and instance-profile lifecycle manager.
type Manager struct {
	client IAMClient
}

// NewManager creates an identity manager.
func NewManager(client IAMClient) *Manager {
	return &Manager{client: client}
}

// ProvisionProfile creates the instance role, attaches the managed policies,
// creates the instance profile, adds the role to it, and waits for the
// profile to report the role attached. IAM is eventually consistent: the
// profile can report success on creation while a launch referencing it still
// fails, so propagation is verified with exponential backoff before the
// stage completes.
func (m *Manager) ProvisionProfile(ctx *provisioning.Context) error {
	if err := m.verifyPermissions(ctx); err != nil {
		return err
	}

	roleName := naming.Role(ctx.Config.AppName)
	profileName := naming.InstanceProfile(ctx.Config.AppName)

	provisioning.LogResourceCreating(ctx.Observer, stageName, "role", roleName)
	_, err := m.client.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 awssdk.String(roleName),
		AssumeRolePolicyDocument: awssdk.String(ec2TrustPolicy),
		Tags:                     iamTags(ctx.Config.AppName, ctx.Resources.RunID, roleName, ctx.Config.ExtraTags),
	})
	if err != nil {
		if platformaws.IsAccessDenied(err) {
			return provisioning.NewError(provisioning.CodeIdentityPermission,
				"caller is not permitted to create IAM roles", err)
		}
		return provisioning.NewError(provisioning.CodeIdentity,
			fmt.Sprintf("failed to create role %s", roleName), err)
	}

	if _, err := m.client.GetRole(ctx, &iam.GetRoleInput{RoleName: awssdk.String(roleName)}); err != nil {
		return provisioning.NewError(provisioning.CodeIdentityRoleVerification,
			fmt.Sprintf("role %s not readable after creation", roleName), err)
	}
	provisioning.LogResourceCreated(ctx.Observer, stageName, "role", roleName, roleName)

	for _, policyARN := range managedPolicyARNs {
		_, err := m.client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  awssdk.String(roleName),
			PolicyArn: awssdk.String(policyARN),
		})
		if err != nil {
			return provisioning.NewError(provisioning.CodeIdentity,
				fmt.Sprintf("failed to attach policy %s to role %s", policyARN, roleName), err)
		}
	}

	provisioning.LogResourceCreating(ctx.Observer, stageName, "instance profile", profileName)
	_, err = m.client.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
		InstanceProfileName: awssdk.String(profileName),
		Tags:                iamTags(ctx.Config.AppName, ctx.Resources.RunID, profileName, ctx.Config.ExtraTags),
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeIdentity,
			fmt.Sprintf("failed to create instance profile %s", profileName), err)
	}

	_, err = m.client.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
		InstanceProfileName: awssdk.String(profileName),
		RoleName:            awssdk.String(roleName),
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeIdentity,
			fmt.Sprintf("failed to add role %s to instance profile %s", roleName, profileName), err)
	}

	if err := m.waitForPropagation(ctx, profileName, roleName); err != nil {
		return err
	}

	ctx.Resources.InstanceProfile = profileName
	provisioning.LogResourceCreated(ctx.Observer, stageName, "instance profile", profileName, profileName)
	return nil
}

// verifyPermissions probes the IAM API before any mutation so a caller
// without IAM access fails up front with a permission code instead of
// half-way through the sequence.
func (m *Manager) verifyPermissions(ctx *provisioning.Context) error {
	_, err := m.client.ListRoles(ctx, &iam.ListRolesInput{MaxItems: awssdk.Int32(1)})
	if err != nil {
		if platformaws.IsAccessDenied(err) {
			return provisioning.NewError(provisioning.CodeIdentityPermission,
				"caller lacks the IAM permissions required to provision an instance profile", err)
		}
		return provisioning.NewError(provisioning.CodeIdentity, "failed to verify IAM access", err)
	}
	return nil
}

// waitForPropagation polls the profile until it reports the role attached.
// A profile read failure is fatal and stops retrying; a profile that simply
// does not list the role yet is retried until the budget runs out, which is
// escalated to a propagation-timeout code because a missing profile blocks
// the compute launch entirely.
func (m *Manager) waitForPropagation(ctx *provisioning.Context, profileName, roleName string) error {
	notAttached := errors.New("role not attached yet")

	err := retry.WithExponentialBackoff(ctx, func() error {
		out, err := m.client.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
			InstanceProfileName: awssdk.String(profileName),
		})
		if err != nil {
			if platformaws.IsNotFound(err) {
				return notAttached
			}
			return retry.Fatal(provisioning.NewError(provisioning.CodeIdentityProfileVerification,
				fmt.Sprintf("failed to read instance profile %s", profileName), err))
		}
		for _, role := range out.InstanceProfile.Roles {
			if awssdk.ToString(role.RoleName) == roleName {
				return nil
			}
		}
		return notAttached
	},
		retry.WithMaxAttempts(ctx.Timeouts.ProfileAttempts),
		retry.WithInitialDelay(ctx.Timeouts.ProfileBaseDelay),
		retry.WithMaxDelay(ctx.Timeouts.ProfileMaxDelay),
		retry.WithMultiplier(1.5),
	)
	if err == nil {
		return nil
	}

	var typed *provisioning.Error
	if errors.As(err, &typed) {
		return typed
	}
	return provisioning.NewError(provisioning.CodeIdentityPropagationTimeout,
		fmt.Sprintf("instance profile %s did not report role %s attached in time", profileName, roleName), err)
}

// DestroyProfile detaches the profile's role and policies and deletes both.
// Each lookup tolerates resources already removed out-of-band.
func (m *Manager) DestroyProfile(ctx *provisioning.Context) error {
	profileName := ctx.Resources.InstanceProfile
	if profileName == "" {
		profileName = naming.InstanceProfile(ctx.Config.AppName)
	}

	out, err := m.client.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
		InstanceProfileName: awssdk.String(profileName),
	})
	if err != nil {
		if platformaws.IsNotFound(err) {
			ctx.Resources.InstanceProfile = ""
			return nil
		}
		return provisioning.NewError(provisioning.CodeIdentity,
			fmt.Sprintf("failed to look up instance profile %s", profileName), err)
	}

	for _, role := range out.InstanceProfile.Roles {
		roleName := awssdk.ToString(role.RoleName)
		if err := m.destroyRole(ctx, profileName, roleName); err != nil {
			return err
		}
	}

	provisioning.LogResourceDeleting(ctx.Observer, stageName, "instance profile", profileName)
	_, err = m.client.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{
		InstanceProfileName: awssdk.String(profileName),
	})
	if err != nil && !platformaws.IsNotFound(err) {
		return provisioning.NewError(provisioning.CodeIdentity,
			fmt.Sprintf("failed to delete instance profile %s", profileName), err)
	}
	ctx.Resources.InstanceProfile = ""
	provisioning.LogResourceDeleted(ctx.Observer, stageName, "instance profile", profileName)
	return nil
}

func (m *Manager) destroyRole(ctx *provisioning.Context, profileName, roleName string) error {
	policies, err := m.client.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: awssdk.String(roleName),
	})
	if err != nil && !platformaws.IsNotFound(err) {
		return provisioning.NewError(provisioning.CodeIdentity,
			fmt.Sprintf("failed to list policies attached to role %s", roleName), err)
	}
	if policies != nil {
		for _, policy := range policies.AttachedPolicies {
			_, err := m.client.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
				RoleName:  awssdk.String(roleName),
				PolicyArn: policy.PolicyArn,
			})
			if err != nil && !platformaws.IsNotFound(err) {
				return provisioning.NewError(provisioning.CodeIdentity,
					fmt.Sprintf("failed to detach policy %s from role %s", awssdk.ToString(policy.PolicyArn), roleName), err)
			}
		}
	}

	_, err = m.client.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
		InstanceProfileName: awssdk.String(profileName),
		RoleName:            awssdk.String(roleName),
	})
	if err != nil && !platformaws.IsNotFound(err) {
		return provisioning.NewError(provisioning.CodeIdentity,
			fmt.Sprintf("failed to remove role %s from instance profile %s", roleName, profileName), err)
	}

	provisioning.LogResourceDeleting(ctx.Observer, stageName, "role", roleName)
	_, err = m.client.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: awssdk.String(roleName)})
	if err != nil && !platformaws.IsNotFound(err) {
		return provisioning.NewError(provisioning.CodeIdentity,
			fmt.Sprintf("failed to delete role %s", roleName), err)
	}
	provisioning.LogResourceDeleted(ctx.Observer, stageName, "role", roleName)
	return nil
}

// ListTagged returns the instance profile names carrying this run's tags.
// IAM list calls cannot filter by tag server-side, so the profiles are listed
// and their tags read one by one. Advisory read: failures are treated as
// "nothing found".
func (m *Manager) ListTagged(ctx *provisioning.Context) []string {
	out, err := m.client.ListInstanceProfiles(ctx, &iam.ListInstanceProfilesInput{})
	if err != nil {
		return nil
	}

	var names []string
	for _, profile := range out.InstanceProfiles {
		name := awssdk.ToString(profile.InstanceProfileName)
		tagsOut, err := m.client.ListInstanceProfileTags(ctx, &iam.ListInstanceProfileTagsInput{
			InstanceProfileName: awssdk.String(name),
		})
		if err != nil {
			continue
		}
		if hasRunTags(tagsOut.Tags, ctx.Config.AppName, ctx.Resources.RunID) {
			names = append(names, name)
		}
	}
	return names
}

// hasRunTags reports whether the tag set carries both the app and run-id
// tags of this run.
func hasRunTags(ts []iamtypes.Tag, app, runID string) bool {
	var appMatch, runMatch bool
	for _, tag := range ts {
		switch awssdk.ToString(tag.Key) {
		case tags.KeyApp:
			appMatch = awssdk.ToString(tag.Value) == app
		case tags.KeyRunID:
			runMatch = awssdk.ToString(tag.Value) == runID
		}
	}
	return appMatch && runMatch
}

// iamTags converts the run's tag map into the IAM tag slice. Keys are sorted
// so request bodies are deterministic.
func iamTags(app, runID, name string, extra map[string]string) []iamtypes.Tag {
	tagMap := tags.NewBuilder(app, runID).WithName(name).Merge(extra).Build()
	keys := make([]string, 0, len(tagMap))
	for k := range tagMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]iamtypes.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, iamtypes.Tag{Key: awssdk.String(k), Value: awssdk.String(tagMap[k])})
	}
	return out
}
