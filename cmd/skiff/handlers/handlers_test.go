package handlers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffcloud/skiff/internal/config"
	platformaws "github.com/skiffcloud/skiff/internal/platform/aws"
	"github.com/skiffcloud/skiff/internal/provisioning"
)

type fakeStore struct {
	state   *provisioning.ResourceSet
	loadErr error
	saves   int
}

func (f *fakeStore) Save(rs *provisioning.ResourceSet) error {
	f.saves++
	copied := *rs
	f.state = &copied
	return nil
}

func (f *fakeStore) Load() (*provisioning.ResourceSet, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.state == nil {
		return &provisioning.ResourceSet{}, nil
	}
	return f.state, nil
}

// writeTestConfig writes a valid config file into a temp dir and returns its
// path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "skiff.yaml")
	content := `app_name: webapp
region: us-east-1
zones: [us-east-1a, us-east-1b]
base_cidr: 10.0.0.0/16
instance_type: t3.micro
image_id: ami-123
state_dir: ` + dir + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// swapFactories replaces the handler factory variables for one test and
// restores them afterwards.
func swapFactories(t *testing.T, store provisioning.Store, confirmAnswer bool) {
	t.Helper()

	origStore := newStore
	origClients := newAWSClients
	origIdentity := lookupCallerIdentity
	origConfirm := confirmPrompt
	t.Cleanup(func() {
		newStore = origStore
		newAWSClients = origClients
		lookupCallerIdentity = origIdentity
		confirmPrompt = origConfirm
	})

	newStore = func(string) provisioning.Store { return store }
	newAWSClients = func(context.Context, *config.Config) (*platformaws.Clients, error) {
		return &platformaws.Clients{}, nil
	}
	lookupCallerIdentity = func(context.Context, platformaws.STSClient) (*platformaws.CallerIdentity, error) {
		return &platformaws.CallerIdentity{Account: "123456789012", ARN: "arn:aws:iam::123456789012:user/dev"}, nil
	}
	confirmPrompt = func(context.Context, string, string) (bool, error) {
		return confirmAnswer, nil
	}
}

func TestCreate_RefusesWhenStateExists(t *testing.T) {
	existing := provisioning.NewResourceSet("webapp", "oldrun", "us-east-1")
	existing.VPCID = "vpc-old"
	store := &fakeStore{state: existing}
	swapFactories(t, store, true)

	err := Create(context.Background(), writeTestConfig(t), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has provisioned resources")
}

func TestCreate_DeclinedConfirmationIsNotAnError(t *testing.T) {
	store := &fakeStore{}
	swapFactories(t, store, false)

	err := Create(context.Background(), writeTestConfig(t), false)
	require.NoError(t, err)
	// Nothing was persisted.
	assert.Zero(t, store.saves)
}

func TestCreate_InvalidConfig(t *testing.T) {
	swapFactories(t, &fakeStore{}, true)

	dir := t.TempDir()
	path := filepath.Join(dir, "skiff.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_name: '-bad-'\n"), 0o600))

	err := Create(context.Background(), path, true)
	assert.Error(t, err)
}

func TestDestroy_NothingToDestroy(t *testing.T) {
	store := &fakeStore{}
	swapFactories(t, store, true)

	err := Destroy(context.Background(), writeTestConfig(t), true)
	require.NoError(t, err)
	assert.Zero(t, store.saves)
}

func TestDestroy_DeclinedConfirmationIsNotAnError(t *testing.T) {
	existing := provisioning.NewResourceSet("webapp", "run1", "us-east-1")
	existing.VPCID = "vpc-1"
	store := &fakeStore{state: existing}
	swapFactories(t, store, false)

	err := Destroy(context.Background(), writeTestConfig(t), false)
	require.NoError(t, err)
	// The resource set was not touched.
	assert.Equal(t, "vpc-1", store.state.VPCID)
}

func TestDestroy_StateLoadFailure(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("corrupt state")}
	swapFactories(t, store, true)

	err := Destroy(context.Background(), writeTestConfig(t), true)
	assert.Error(t, err)
}

func TestStatus_EmptyState(t *testing.T) {
	swapFactories(t, &fakeStore{}, true)

	assert.NoError(t, Status(context.Background(), writeTestConfig(t)))
}

func TestStatus_RendersRecordedResources(t *testing.T) {
	existing := provisioning.NewResourceSet("webapp", "run1", "us-east-1")
	existing.VPCID = "vpc-1"
	existing.InstanceID = "i-123"
	swapFactories(t, &fakeStore{state: existing}, true)

	assert.NoError(t, Status(context.Background(), writeTestConfig(t)))
}

func TestDescribeResources(t *testing.T) {
	rs := provisioning.NewResourceSet("webapp", "run1", "us-east-1")
	rs.VPCID = "vpc-1"
	rs.SubnetIDs = []string{"subnet-1", "subnet-2"}
	rs.SecurityGroupIDs = []string{"sg-1", "sg-2"}
	rs.InstanceID = "i-123"
	rs.InstanceProfile = "webapp-instance-profile"

	summary := describeResources(rs)
	assert.Contains(t, summary, "run run1")
	assert.Contains(t, summary, "instance i-123")
	assert.Contains(t, summary, "VPC vpc-1 with 2 subnet(s)")
	assert.Contains(t, summary, "2 security group(s)")
}

func TestBuildStages_OrderMatchesCreationSequence(t *testing.T) {
	stages := buildStages(&platformaws.Clients{})

	names := make([]string, len(stages))
	for i, stage := range stages {
		names[i] = stage.Name
	}
	assert.Equal(t, []string{
		"network",
		"subnets",
		"securitygroups",
		"identityprofile",
		"computeinstance",
		"loadbalancer",
		"targetregistration",
		"healthcheck",
	}, names)

	// The two trailing stages fold their teardown into earlier stages.
	assert.Nil(t, stages[6].Destroy)
	assert.Nil(t, stages[7].Destroy)
	for _, stage := range stages[:6] {
		assert.NotNil(t, stage.Destroy, stage.Name)
	}
}

func TestNewAWSClients_StaticCredentialsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Region:          "us-east-1",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "shhh",
	}

	clients, err := newAWSClients(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, clients.EC2)
	assert.NotNil(t, clients.STS)
}

func TestNewRunID_ShortAndUnique(t *testing.T) {
	a := newRunID()
	b := newRunID()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}
