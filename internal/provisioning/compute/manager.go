// Package compute manages the environment's SSH key pair and EC2 instance.
package compute

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	platformaws "github.com/skiffcloud/skiff/internal/platform/aws"
	"github.com/skiffcloud/skiff/internal/provisioning"
	"github.com/skiffcloud/skiff/internal/util/keygen"
	"github.com/skiffcloud/skiff/internal/util/naming"
	"github.com/skiffcloud/skiff/internal/util/retry"
	"github.com/skiffcloud/skiff/internal/util/tags"
)

// EC2Client is the subset of the EC2 API used for compute management.
type EC2Client interface {
	ImportKeyPair(ctx context.Context, params *ec2.ImportKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.ImportKeyPairOutput, error)
	DeleteKeyPair(ctx context.Context, params *ec2.DeleteKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

const stageName = "compute"

const keyBits = 2048

// bootstrapScript is the minimal user data run on first boot. It installs
// and starts a plain web server so the load balancer health check has
// something to probe.
const bootstrapScript = `#!/bin/bash
set -euo pipefail
dnf install -y nginx
systemctl enable --now nginx
`

// Manager is the compute lifecycle manager.
type Manager struct {
	client EC2Client
}

// NewManager creates a compute manager.
func NewManager(client EC2Client) *Manager {
	return &Manager{client: client}
}

// ProvisionInstance generates and imports a fresh SSH key pair, writes the
// private key to the state directory, launches one instance with the
// environment's instance profile and bootstrap script, and waits for it to
// reach the running state. Any failure before the launch call succeeds
// deletes the key pair again before the error propagates, so a half-created
// stage leaves nothing behind. A launched instance that never reaches
// running stays recorded along with its key pair: cleaning both up is the
// rollback's terminate path, which needs the identifiers.
func (m *Manager) ProvisionInstance(ctx *provisioning.Context) error {
	keyName := naming.KeyPair(ctx.Config.AppName, ctx.Resources.RunID)

	keyPair, err := keygen.GenerateRSAKeyPair(keyBits)
	if err != nil {
		return provisioning.NewError(provisioning.CodeCompute, "failed to generate SSH key pair", err)
	}

	provisioning.LogResourceCreating(ctx.Observer, stageName, "key pair", keyName)
	tagMap := tags.NewBuilder(ctx.Config.AppName, ctx.Resources.RunID).WithName(keyName).Merge(ctx.Config.ExtraTags).Build()
	_, err = m.client.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
		KeyName:           awssdk.String(keyName),
		PublicKeyMaterial: keyPair.PublicKey,
		TagSpecifications: []ec2types.TagSpecification{
			platformaws.EC2TagSpec(ec2types.ResourceTypeKeyPair, tagMap),
		},
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeCompute,
			fmt.Sprintf("failed to import key pair %s", keyName), err)
	}
	ctx.Resources.KeyPairName = keyName
	provisioning.LogResourceCreated(ctx.Observer, stageName, "key pair", keyName, keyName)

	keyPath := ctx.Config.PrivateKeyPath()
	if err := keyPair.WritePrivateKey(keyPath); err != nil {
		return m.compensateKeyPair(ctx,
			provisioning.NewError(provisioning.CodeCompute, "failed to write private key file", err))
	}
	ctx.Resources.PrivateKeyPath = keyPath

	instanceID, err := m.launchInstance(ctx, keyName)
	if err != nil {
		return m.compensateKeyPair(ctx, err)
	}
	ctx.Resources.InstanceID = instanceID

	if !m.waitForState(ctx, instanceID, ec2types.InstanceStateNameRunning,
		ctx.Timeouts.InstanceRunningAttempts, ctx.Timeouts.InstanceRunningInterval) {
		return provisioning.NewError(provisioning.CodeCompute,
			fmt.Sprintf("instance %s did not reach running state in time", instanceID), nil)
	}
	provisioning.LogResourceCreated(ctx.Observer, stageName, "instance", naming.Instance(ctx.Config.AppName), instanceID)
	return nil
}

func (m *Manager) launchInstance(ctx *provisioning.Context, keyName string) (string, error) {
	name := naming.Instance(ctx.Config.AppName)
	tagMap := tags.NewBuilder(ctx.Config.AppName, ctx.Resources.RunID).WithName(name).Merge(ctx.Config.ExtraTags).Build()

	input := &ec2.RunInstancesInput{
		ImageId:      awssdk.String(ctx.Config.ImageID),
		InstanceType: ec2types.InstanceType(ctx.Config.InstanceType),
		KeyName:      awssdk.String(keyName),
		MinCount:     awssdk.Int32(1),
		MaxCount:     awssdk.Int32(1),
		UserData:     awssdk.String(base64.StdEncoding.EncodeToString([]byte(bootstrapScript))),
		TagSpecifications: []ec2types.TagSpecification{
			platformaws.EC2TagSpec(ec2types.ResourceTypeInstance, tagMap),
		},
	}
	if len(ctx.Resources.SubnetIDs) > 0 {
		input.SubnetId = awssdk.String(ctx.Resources.SubnetIDs[0])
	}
	if n := len(ctx.Resources.SecurityGroupIDs); n > 0 {
		// The app group is created last.
		input.SecurityGroupIds = []string{ctx.Resources.SecurityGroupIDs[n-1]}
	}
	if ctx.Resources.InstanceProfile != "" {
		input.IamInstanceProfile = &ec2types.IamInstanceProfileSpecification{
			Name: awssdk.String(ctx.Resources.InstanceProfile),
		}
	}

	provisioning.LogResourceCreating(ctx.Observer, stageName, "instance", name)
	out, err := m.client.RunInstances(ctx, input)
	if err != nil {
		return "", provisioning.NewError(provisioning.CodeCompute, "failed to launch instance", err)
	}
	if len(out.Instances) == 0 {
		return "", provisioning.NewError(provisioning.CodeCompute, "launch returned no instances", nil)
	}
	return awssdk.ToString(out.Instances[0].InstanceId), nil
}

// compensateKeyPair deletes the imported key pair and the local private key
// file, then returns the originating error unchanged.
func (m *Manager) compensateKeyPair(ctx *provisioning.Context, cause error) error {
	if ctx.Resources.KeyPairName != "" {
		_, err := m.client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
			KeyName: awssdk.String(ctx.Resources.KeyPairName),
		})
		if err != nil && !platformaws.IsNotFound(err) {
			ctx.Observer.Printf("failed to delete key pair %s during compensation: %v", ctx.Resources.KeyPairName, err)
		} else {
			ctx.Resources.KeyPairName = ""
		}
	}
	if ctx.Resources.PrivateKeyPath != "" {
		if err := keygen.RemovePrivateKey(ctx.Resources.PrivateKeyPath); err != nil {
			ctx.Observer.Printf("failed to remove private key file: %v", err)
		} else {
			ctx.Resources.PrivateKeyPath = ""
		}
	}
	return cause
}

// waitForState polls the instance at a fixed interval until it reports the
// wanted state. A describe failure counts against the attempt budget.
func (m *Manager) waitForState(ctx *provisioning.Context, instanceID string, want ec2types.InstanceStateName, maxAttempts int, interval time.Duration) bool {
	return retry.WaitFor(ctx, func() (bool, error) {
		out, err := m.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			// A terminated instance eventually disappears from describes.
			if want == ec2types.InstanceStateNameTerminated && platformaws.IsNotFound(err) {
				return true, nil
			}
			return false, err
		}
		for _, reservation := range out.Reservations {
			for _, instance := range reservation.Instances {
				if instance.State != nil && instance.State.Name == want {
					return true, nil
				}
			}
		}
		return false, nil
	}, maxAttempts, interval)
}

// DestroyInstance terminates the instance, waits for the terminated state,
// then deletes the key pair remotely and removes the local private key file.
func (m *Manager) DestroyInstance(ctx *provisioning.Context) error {
	if ctx.Resources.InstanceID != "" {
		provisioning.LogResourceDeleting(ctx.Observer, stageName, "instance", ctx.Resources.InstanceID)
		_, err := m.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: []string{ctx.Resources.InstanceID},
		})
		if err != nil && !platformaws.IsNotFound(err) {
			return provisioning.NewError(provisioning.CodeCompute,
				fmt.Sprintf("failed to terminate instance %s", ctx.Resources.InstanceID), err)
		}

		if err == nil && !m.waitForState(ctx, ctx.Resources.InstanceID, ec2types.InstanceStateNameTerminated,
			ctx.Timeouts.InstanceTerminatedAttempts, ctx.Timeouts.InstanceTerminatedInterval) {
			return provisioning.NewError(provisioning.CodeCompute,
				fmt.Sprintf("instance %s did not reach terminated state in time", ctx.Resources.InstanceID), nil)
		}
		provisioning.LogResourceDeleted(ctx.Observer, stageName, "instance", ctx.Resources.InstanceID)
		ctx.Resources.InstanceID = ""
	}

	return m.destroyKeyPair(ctx)
}

func (m *Manager) destroyKeyPair(ctx *provisioning.Context) error {
	if ctx.Resources.KeyPairName != "" {
		provisioning.LogResourceDeleting(ctx.Observer, stageName, "key pair", ctx.Resources.KeyPairName)
		_, err := m.client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
			KeyName: awssdk.String(ctx.Resources.KeyPairName),
		})
		if err != nil && !platformaws.IsNotFound(err) {
			return provisioning.NewError(provisioning.CodeCompute,
				fmt.Sprintf("failed to delete key pair %s", ctx.Resources.KeyPairName), err)
		}
		provisioning.LogResourceDeleted(ctx.Observer, stageName, "key pair", ctx.Resources.KeyPairName)
		ctx.Resources.KeyPairName = ""
	}

	if ctx.Resources.PrivateKeyPath != "" {
		if err := keygen.RemovePrivateKey(ctx.Resources.PrivateKeyPath); err != nil {
			return provisioning.NewError(provisioning.CodeCompute, "failed to remove private key file", err)
		}
		ctx.Resources.PrivateKeyPath = ""
	}
	return nil
}

// ListTagged returns the instance ids carrying this run's tags. Advisory
// read: failures are treated as "nothing found".
func (m *Manager) ListTagged(ctx *provisioning.Context) []string {
	out, err := m.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: platformaws.EC2RunFilters(ctx.Config.AppName, ctx.Resources.RunID),
	})
	if err != nil {
		return nil
	}
	var ids []string
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			ids = append(ids, awssdk.ToString(instance.InstanceId))
		}
	}
	return ids
}
