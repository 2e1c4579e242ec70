package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffcloud/skiff/internal/config"
	"github.com/skiffcloud/skiff/internal/provisioning"
	"github.com/skiffcloud/skiff/internal/util/tags"
)

type mockIAM struct {
	calls []string

	listRolesFn       func(*iam.ListRolesInput) (*iam.ListRolesOutput, error)
	createRoleFn      func(*iam.CreateRoleInput) (*iam.CreateRoleOutput, error)
	getProfileFn      func(*iam.GetInstanceProfileInput) (*iam.GetInstanceProfileOutput, error)
	listAttachedFn    func(*iam.ListAttachedRolePoliciesInput) (*iam.ListAttachedRolePoliciesOutput, error)
	listProfilesFn    func(*iam.ListInstanceProfilesInput) (*iam.ListInstanceProfilesOutput, error)
	listProfileTagsFn func(*iam.ListInstanceProfileTagsInput) (*iam.ListInstanceProfileTagsOutput, error)

	getProfileCallCount int
	attachedPolicyCount int
	detachedPolicyCount int
}

func (m *mockIAM) ListRoles(_ context.Context, p *iam.ListRolesInput, _ ...func(*iam.Options)) (*iam.ListRolesOutput, error) {
	m.calls = append(m.calls, "ListRoles")
	if m.listRolesFn != nil {
		return m.listRolesFn(p)
	}
	return &iam.ListRolesOutput{}, nil
}

func (m *mockIAM) CreateRole(_ context.Context, p *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	m.calls = append(m.calls, "CreateRole")
	if m.createRoleFn != nil {
		return m.createRoleFn(p)
	}
	return &iam.CreateRoleOutput{Role: &iamtypes.Role{RoleName: p.RoleName}}, nil
}

func (m *mockIAM) GetRole(_ context.Context, p *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	m.calls = append(m.calls, "GetRole")
	return &iam.GetRoleOutput{Role: &iamtypes.Role{RoleName: p.RoleName}}, nil
}

func (m *mockIAM) DeleteRole(_ context.Context, _ *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	m.calls = append(m.calls, "DeleteRole")
	return &iam.DeleteRoleOutput{}, nil
}

func (m *mockIAM) AttachRolePolicy(_ context.Context, _ *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	m.calls = append(m.calls, "AttachRolePolicy")
	m.attachedPolicyCount++
	return &iam.AttachRolePolicyOutput{}, nil
}

func (m *mockIAM) DetachRolePolicy(_ context.Context, _ *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	m.calls = append(m.calls, "DetachRolePolicy")
	m.detachedPolicyCount++
	return &iam.DetachRolePolicyOutput{}, nil
}

func (m *mockIAM) ListAttachedRolePolicies(_ context.Context, p *iam.ListAttachedRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	m.calls = append(m.calls, "ListAttachedRolePolicies")
	if m.listAttachedFn != nil {
		return m.listAttachedFn(p)
	}
	return &iam.ListAttachedRolePoliciesOutput{}, nil
}

func (m *mockIAM) CreateInstanceProfile(_ context.Context, p *iam.CreateInstanceProfileInput, _ ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error) {
	m.calls = append(m.calls, "CreateInstanceProfile")
	return &iam.CreateInstanceProfileOutput{
		InstanceProfile: &iamtypes.InstanceProfile{InstanceProfileName: p.InstanceProfileName},
	}, nil
}

func (m *mockIAM) GetInstanceProfile(_ context.Context, p *iam.GetInstanceProfileInput, _ ...func(*iam.Options)) (*iam.GetInstanceProfileOutput, error) {
	m.calls = append(m.calls, "GetInstanceProfile")
	m.getProfileCallCount++
	if m.getProfileFn != nil {
		return m.getProfileFn(p)
	}
	return &iam.GetInstanceProfileOutput{
		InstanceProfile: &iamtypes.InstanceProfile{
			InstanceProfileName: p.InstanceProfileName,
			Roles:               []iamtypes.Role{{RoleName: awssdk.String("webapp-instance-role")}},
		},
	}, nil
}

func (m *mockIAM) DeleteInstanceProfile(_ context.Context, _ *iam.DeleteInstanceProfileInput, _ ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error) {
	m.calls = append(m.calls, "DeleteInstanceProfile")
	return &iam.DeleteInstanceProfileOutput{}, nil
}

func (m *mockIAM) AddRoleToInstanceProfile(_ context.Context, _ *iam.AddRoleToInstanceProfileInput, _ ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error) {
	m.calls = append(m.calls, "AddRoleToInstanceProfile")
	return &iam.AddRoleToInstanceProfileOutput{}, nil
}

func (m *mockIAM) RemoveRoleFromInstanceProfile(_ context.Context, _ *iam.RemoveRoleFromInstanceProfileInput, _ ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error) {
	m.calls = append(m.calls, "RemoveRoleFromInstanceProfile")
	return &iam.RemoveRoleFromInstanceProfileOutput{}, nil
}

func (m *mockIAM) ListInstanceProfiles(_ context.Context, p *iam.ListInstanceProfilesInput, _ ...func(*iam.Options)) (*iam.ListInstanceProfilesOutput, error) {
	m.calls = append(m.calls, "ListInstanceProfiles")
	if m.listProfilesFn != nil {
		return m.listProfilesFn(p)
	}
	return &iam.ListInstanceProfilesOutput{}, nil
}

func (m *mockIAM) ListInstanceProfileTags(_ context.Context, p *iam.ListInstanceProfileTagsInput, _ ...func(*iam.Options)) (*iam.ListInstanceProfileTagsOutput, error) {
	m.calls = append(m.calls, "ListInstanceProfileTags")
	if m.listProfileTagsFn != nil {
		return m.listProfileTagsFn(p)
	}
	return &iam.ListInstanceProfileTagsOutput{}, nil
}

type discardStore struct{}

func (discardStore) Save(*provisioning.ResourceSet) error     { return nil }
func (discardStore) Load() (*provisioning.ResourceSet, error) { return &provisioning.ResourceSet{}, nil }

func testCtx(t *testing.T) *provisioning.Context {
	t.Helper()
	cfg := &config.Config{AppName: "webapp", Region: "us-east-1"}
	timeouts := config.LoadTimeouts()
	timeouts.ProfileAttempts = 4
	timeouts.ProfileBaseDelay = time.Millisecond
	timeouts.ProfileMaxDelay = 2 * time.Millisecond
	return &provisioning.Context{
		Context:   context.Background(),
		Config:    cfg,
		Resources: provisioning.NewResourceSet("webapp", "run1", "us-east-1"),
		Store:     discardStore{},
		Observer:  provisioning.NewConsoleObserver(),
		Timeouts:  timeouts,
	}
}

func TestProvisionProfile_HappyPath(t *testing.T) {
	t.Parallel()

	client := &mockIAM{}
	ctx := testCtx(t)

	require.NoError(t, NewManager(client).ProvisionProfile(ctx))

	assert.Equal(t, "webapp-instance-profile", ctx.Resources.InstanceProfile)
	assert.Equal(t, []string{
		"ListRoles",
		"CreateRole",
		"GetRole",
		"AttachRolePolicy",
		"AttachRolePolicy",
		"CreateInstanceProfile",
		"AddRoleToInstanceProfile",
		"GetInstanceProfile",
	}, client.calls)
}

func TestProvisionProfile_PreflightDenied(t *testing.T) {
	t.Parallel()

	client := &mockIAM{
		listRolesFn: func(*iam.ListRolesInput) (*iam.ListRolesOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDenied"}
		},
	}
	ctx := testCtx(t)

	err := NewManager(client).ProvisionProfile(ctx)
	require.Error(t, err)
	assert.True(t, provisioning.IsPermissionError(err))
	// Nothing was mutated.
	assert.NotContains(t, client.calls, "CreateRole")
	assert.Empty(t, ctx.Resources.InstanceProfile)
}

func TestProvisionProfile_CreateRoleDenied(t *testing.T) {
	t.Parallel()

	client := &mockIAM{
		createRoleFn: func(*iam.CreateRoleInput) (*iam.CreateRoleOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDenied"}
		},
	}

	err := NewManager(client).ProvisionProfile(testCtx(t))
	require.Error(t, err)
	assert.True(t, provisioning.IsPermissionError(err))
}

func TestProvisionProfile_PropagationTimeout(t *testing.T) {
	t.Parallel()

	client := &mockIAM{
		getProfileFn: func(p *iam.GetInstanceProfileInput) (*iam.GetInstanceProfileOutput, error) {
			// Profile exists but never reports the role attached.
			return &iam.GetInstanceProfileOutput{
				InstanceProfile: &iamtypes.InstanceProfile{InstanceProfileName: p.InstanceProfileName},
			}, nil
		},
	}
	ctx := testCtx(t)

	err := NewManager(client).ProvisionProfile(ctx)
	require.Error(t, err)
	assert.Equal(t, provisioning.CodeIdentityPropagationTimeout, provisioning.CodeOf(err))
	// The attempt budget bounds the propagation checks exactly.
	assert.Equal(t, ctx.Timeouts.ProfileAttempts, client.getProfileCallCount)
	assert.Empty(t, ctx.Resources.InstanceProfile)
}

func TestProvisionProfile_PropagationReadFailureIsFatal(t *testing.T) {
	t.Parallel()

	client := &mockIAM{
		getProfileFn: func(*iam.GetInstanceProfileInput) (*iam.GetInstanceProfileOutput, error) {
			return nil, errors.New("internal failure")
		},
	}

	err := NewManager(client).ProvisionProfile(testCtx(t))
	require.Error(t, err)
	assert.Equal(t, provisioning.CodeIdentityProfileVerification, provisioning.CodeOf(err))
	// Fatal read failures stop the poll immediately.
	assert.Equal(t, 1, client.getProfileCallCount)
}

func TestProvisionProfile_ProfileNotVisibleYetIsRetried(t *testing.T) {
	t.Parallel()

	client := &mockIAM{}
	client.getProfileFn = func(p *iam.GetInstanceProfileInput) (*iam.GetInstanceProfileOutput, error) {
		if client.getProfileCallCount < 3 {
			return nil, &smithy.GenericAPIError{Code: "NoSuchEntity"}
		}
		return &iam.GetInstanceProfileOutput{
			InstanceProfile: &iamtypes.InstanceProfile{
				InstanceProfileName: p.InstanceProfileName,
				Roles:               []iamtypes.Role{{RoleName: awssdk.String("webapp-instance-role")}},
			},
		}, nil
	}
	ctx := testCtx(t)

	require.NoError(t, NewManager(client).ProvisionProfile(ctx))
	assert.Equal(t, 3, client.getProfileCallCount)
	assert.Equal(t, "webapp-instance-profile", ctx.Resources.InstanceProfile)
}

func TestDestroyProfile_DetachesEverything(t *testing.T) {
	t.Parallel()

	client := &mockIAM{
		listAttachedFn: func(*iam.ListAttachedRolePoliciesInput) (*iam.ListAttachedRolePoliciesOutput, error) {
			return &iam.ListAttachedRolePoliciesOutput{AttachedPolicies: []iamtypes.AttachedPolicy{
				{PolicyArn: awssdk.String("arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore")},
				{PolicyArn: awssdk.String("arn:aws:iam::aws:policy/CloudWatchAgentServerPolicy")},
			}}, nil
		},
	}
	ctx := testCtx(t)
	ctx.Resources.InstanceProfile = "webapp-instance-profile"

	require.NoError(t, NewManager(client).DestroyProfile(ctx))

	assert.Equal(t, 2, client.detachedPolicyCount)
	assert.Equal(t, []string{
		"GetInstanceProfile",
		"ListAttachedRolePolicies",
		"DetachRolePolicy",
		"DetachRolePolicy",
		"RemoveRoleFromInstanceProfile",
		"DeleteRole",
		"DeleteInstanceProfile",
	}, client.calls)
	assert.Empty(t, ctx.Resources.InstanceProfile)
}

func TestListTagged_MatchesOnlyThisRun(t *testing.T) {
	t.Parallel()

	client := &mockIAM{
		listProfilesFn: func(*iam.ListInstanceProfilesInput) (*iam.ListInstanceProfilesOutput, error) {
			return &iam.ListInstanceProfilesOutput{InstanceProfiles: []iamtypes.InstanceProfile{
				{InstanceProfileName: awssdk.String("webapp-instance-profile")},
				{InstanceProfileName: awssdk.String("other-profile")},
			}}, nil
		},
		listProfileTagsFn: func(p *iam.ListInstanceProfileTagsInput) (*iam.ListInstanceProfileTagsOutput, error) {
			if awssdk.ToString(p.InstanceProfileName) == "webapp-instance-profile" {
				return &iam.ListInstanceProfileTagsOutput{Tags: []iamtypes.Tag{
					{Key: awssdk.String(tags.KeyApp), Value: awssdk.String("webapp")},
					{Key: awssdk.String(tags.KeyRunID), Value: awssdk.String("run1")},
				}}, nil
			}
			// Same app, different run.
			return &iam.ListInstanceProfileTagsOutput{Tags: []iamtypes.Tag{
				{Key: awssdk.String(tags.KeyApp), Value: awssdk.String("webapp")},
				{Key: awssdk.String(tags.KeyRunID), Value: awssdk.String("run9")},
			}}, nil
		},
	}

	got := NewManager(client).ListTagged(testCtx(t))
	assert.Equal(t, []string{"webapp-instance-profile"}, got)
}

func TestListTagged_ListFailureTreatedAsEmpty(t *testing.T) {
	t.Parallel()

	client := &mockIAM{
		listProfilesFn: func(*iam.ListInstanceProfilesInput) (*iam.ListInstanceProfilesOutput, error) {
			return nil, errors.New("throttled")
		},
	}

	assert.Empty(t, NewManager(client).ListTagged(testCtx(t)))
}

func TestDestroyProfile_AlreadyGone(t *testing.T) {
	t.Parallel()

	client := &mockIAM{
		getProfileFn: func(*iam.GetInstanceProfileInput) (*iam.GetInstanceProfileOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "NoSuchEntity"}
		},
	}
	ctx := testCtx(t)
	ctx.Resources.InstanceProfile = "webapp-instance-profile"

	require.NoError(t, NewManager(client).DestroyProfile(ctx))
	assert.NotContains(t, client.calls, "DeleteInstanceProfile")
	assert.Empty(t, ctx.Resources.InstanceProfile)
}
