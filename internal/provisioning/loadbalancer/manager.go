// Package loadbalancer manages the ALB, target group, and listener fronting
// the environment's compute instance.
package loadbalancer

import (
	"context"
	"fmt"
	"sort"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	platformaws "github.com/skiffcloud/skiff/internal/platform/aws"
	"github.com/skiffcloud/skiff/internal/provisioning"
	"github.com/skiffcloud/skiff/internal/util/naming"
	"github.com/skiffcloud/skiff/internal/util/retry"
	"github.com/skiffcloud/skiff/internal/util/tags"
)

// ELBClient is the subset of the ELBv2 API used for load-balancer management.
type ELBClient interface {
	CreateLoadBalancer(ctx context.Context, params *elbv2.CreateLoadBalancerInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateLoadBalancerOutput, error)
	DeleteLoadBalancer(ctx context.Context, params *elbv2.DeleteLoadBalancerInput, optFns ...func(*elbv2.Options)) (*elbv2.DeleteLoadBalancerOutput, error)
	CreateTargetGroup(ctx context.Context, params *elbv2.CreateTargetGroupInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateTargetGroupOutput, error)
	DeleteTargetGroup(ctx context.Context, params *elbv2.DeleteTargetGroupInput, optFns ...func(*elbv2.Options)) (*elbv2.DeleteTargetGroupOutput, error)
	CreateListener(ctx context.Context, params *elbv2.CreateListenerInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateListenerOutput, error)
	DescribeListeners(ctx context.Context, params *elbv2.DescribeListenersInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeListenersOutput, error)
	DeleteListener(ctx context.Context, params *elbv2.DeleteListenerInput, optFns ...func(*elbv2.Options)) (*elbv2.DeleteListenerOutput, error)
	RegisterTargets(ctx context.Context, params *elbv2.RegisterTargetsInput, optFns ...func(*elbv2.Options)) (*elbv2.RegisterTargetsOutput, error)
	DescribeTargetHealth(ctx context.Context, params *elbv2.DescribeTargetHealthInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetHealthOutput, error)
	DescribeLoadBalancers(ctx context.Context, params *elbv2.DescribeLoadBalancersInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancersOutput, error)
	DescribeTags(ctx context.Context, params *elbv2.DescribeTagsInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTagsOutput, error)
}

const stageName = "loadbalancer"

// Manager is the load-balancer lifecycle manager.
type Manager struct {
	client ELBClient
}

// NewManager creates a load-balancer manager.
func NewManager(client ELBClient) *Manager {
	return &Manager{client: client}
}

// ProvisionLoadBalancer creates the ALB, the target group, and a listener
// forwarding to the target group, in that order.
func (m *Manager) ProvisionLoadBalancer(ctx *provisioning.Context) error {
	app := ctx.Config.AppName
	lbName := naming.LoadBalancer(app)

	input := &elbv2.CreateLoadBalancerInput{
		Name:    awssdk.String(lbName),
		Subnets: ctx.Resources.SubnetIDs,
		Scheme:  elbv2types.LoadBalancerSchemeEnumInternetFacing,
		Type:    elbv2types.LoadBalancerTypeEnumApplication,
		Tags:    elbTags(app, ctx.Resources.RunID, lbName, ctx.Config.ExtraTags),
	}
	if len(ctx.Resources.SecurityGroupIDs) > 0 {
		// The edge group is created first.
		input.SecurityGroups = []string{ctx.Resources.SecurityGroupIDs[0]}
	}

	provisioning.LogResourceCreating(ctx.Observer, stageName, "load balancer", lbName)
	lbOut, err := m.client.CreateLoadBalancer(ctx, input)
	if err != nil {
		return provisioning.NewError(provisioning.CodeLoadBalancer,
			fmt.Sprintf("failed to create load balancer %s", lbName), err)
	}
	if len(lbOut.LoadBalancers) == 0 {
		return provisioning.NewError(provisioning.CodeLoadBalancer,
			"load balancer creation returned no load balancers", nil)
	}
	ctx.Resources.LoadBalancerARN = awssdk.ToString(lbOut.LoadBalancers[0].LoadBalancerArn)
	provisioning.LogResourceCreated(ctx.Observer, stageName, "load balancer", lbName, ctx.Resources.LoadBalancerARN)

	tgName := naming.TargetGroup(app)
	provisioning.LogResourceCreating(ctx.Observer, stageName, "target group", tgName)
	tgOut, err := m.client.CreateTargetGroup(ctx, &elbv2.CreateTargetGroupInput{
		Name:                awssdk.String(tgName),
		Protocol:            elbv2types.ProtocolEnumHttp,
		Port:                awssdk.Int32(80),
		VpcId:               awssdk.String(ctx.Resources.VPCID),
		TargetType:          elbv2types.TargetTypeEnumInstance,
		HealthCheckProtocol: elbv2types.ProtocolEnumHttp,
		HealthCheckPath:     awssdk.String("/"),
		Tags:                elbTags(app, ctx.Resources.RunID, tgName, ctx.Config.ExtraTags),
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeLoadBalancer,
			fmt.Sprintf("failed to create target group %s", tgName), err)
	}
	if len(tgOut.TargetGroups) == 0 {
		return provisioning.NewError(provisioning.CodeLoadBalancer,
			"target group creation returned no target groups", nil)
	}
	ctx.Resources.TargetGroupARN = awssdk.ToString(tgOut.TargetGroups[0].TargetGroupArn)
	provisioning.LogResourceCreated(ctx.Observer, stageName, "target group", tgName, ctx.Resources.TargetGroupARN)

	_, err = m.client.CreateListener(ctx, &elbv2.CreateListenerInput{
		LoadBalancerArn: awssdk.String(ctx.Resources.LoadBalancerARN),
		Protocol:        elbv2types.ProtocolEnumHttp,
		Port:            awssdk.Int32(80),
		DefaultActions: []elbv2types.Action{
			{
				Type:           elbv2types.ActionTypeEnumForward,
				TargetGroupArn: awssdk.String(ctx.Resources.TargetGroupARN),
			},
		},
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeLoadBalancer, "failed to create listener", err)
	}
	return nil
}

// RegisterTarget registers the compute instance against the target group.
func (m *Manager) RegisterTarget(ctx *provisioning.Context) error {
	_, err := m.client.RegisterTargets(ctx, &elbv2.RegisterTargetsInput{
		TargetGroupArn: awssdk.String(ctx.Resources.TargetGroupARN),
		Targets: []elbv2types.TargetDescription{
			{Id: awssdk.String(ctx.Resources.InstanceID)},
		},
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeLoadBalancer,
			fmt.Sprintf("failed to register instance %s with target group", ctx.Resources.InstanceID), err)
	}
	ctx.Observer.Printf("registered instance %s with target group", ctx.Resources.InstanceID)
	return nil
}

// WaitForHealthy polls target health at a fixed interval until the instance
// reports healthy. Skippable via configuration for images whose bootstrap
// takes longer than the polling budget.
func (m *Manager) WaitForHealthy(ctx *provisioning.Context) error {
	if ctx.Config.SkipHealthCheck {
		ctx.Observer.Printf("skipping target health check")
		return nil
	}

	healthy := retry.WaitFor(ctx, func() (bool, error) {
		out, err := m.client.DescribeTargetHealth(ctx, &elbv2.DescribeTargetHealthInput{
			TargetGroupArn: awssdk.String(ctx.Resources.TargetGroupARN),
			Targets: []elbv2types.TargetDescription{
				{Id: awssdk.String(ctx.Resources.InstanceID)},
			},
		})
		if err != nil {
			return false, err
		}
		for _, desc := range out.TargetHealthDescriptions {
			if desc.TargetHealth != nil && desc.TargetHealth.State == elbv2types.TargetHealthStateEnumHealthy {
				return true, nil
			}
		}
		return false, nil
	}, ctx.Timeouts.TargetHealthyAttempts, ctx.Timeouts.TargetHealthyInterval)

	if !healthy {
		return provisioning.NewError(provisioning.CodeLoadBalancer,
			fmt.Sprintf("instance %s did not report healthy in time", ctx.Resources.InstanceID), nil)
	}
	ctx.Observer.Printf("instance %s is healthy", ctx.Resources.InstanceID)
	return nil
}

// DestroyLoadBalancer deletes all listeners, the target group, then the load
// balancer, in that order. Resources already gone remotely are treated as
// deleted.
func (m *Manager) DestroyLoadBalancer(ctx *provisioning.Context) error {
	if ctx.Resources.LoadBalancerARN != "" {
		if err := m.destroyListeners(ctx); err != nil {
			return err
		}
	}

	if ctx.Resources.TargetGroupARN != "" {
		provisioning.LogResourceDeleting(ctx.Observer, stageName, "target group", ctx.Resources.TargetGroupARN)
		_, err := m.client.DeleteTargetGroup(ctx, &elbv2.DeleteTargetGroupInput{
			TargetGroupArn: awssdk.String(ctx.Resources.TargetGroupARN),
		})
		if err != nil && !platformaws.IsNotFound(err) {
			return provisioning.NewError(provisioning.CodeLoadBalancer, "failed to delete target group", err)
		}
		ctx.Resources.TargetGroupARN = ""
		provisioning.LogResourceDeleted(ctx.Observer, stageName, "target group", naming.TargetGroup(ctx.Config.AppName))
	}

	if ctx.Resources.LoadBalancerARN != "" {
		provisioning.LogResourceDeleting(ctx.Observer, stageName, "load balancer", ctx.Resources.LoadBalancerARN)
		_, err := m.client.DeleteLoadBalancer(ctx, &elbv2.DeleteLoadBalancerInput{
			LoadBalancerArn: awssdk.String(ctx.Resources.LoadBalancerARN),
		})
		if err != nil && !platformaws.IsNotFound(err) {
			return provisioning.NewError(provisioning.CodeLoadBalancer, "failed to delete load balancer", err)
		}
		ctx.Resources.LoadBalancerARN = ""
		provisioning.LogResourceDeleted(ctx.Observer, stageName, "load balancer", naming.LoadBalancer(ctx.Config.AppName))
	}
	return nil
}

func (m *Manager) destroyListeners(ctx *provisioning.Context) error {
	out, err := m.client.DescribeListeners(ctx, &elbv2.DescribeListenersInput{
		LoadBalancerArn: awssdk.String(ctx.Resources.LoadBalancerARN),
	})
	if err != nil {
		if platformaws.IsNotFound(err) {
			return nil
		}
		return provisioning.NewError(provisioning.CodeLoadBalancer, "failed to list listeners", err)
	}

	for _, listener := range out.Listeners {
		_, err := m.client.DeleteListener(ctx, &elbv2.DeleteListenerInput{
			ListenerArn: listener.ListenerArn,
		})
		if err != nil && !platformaws.IsNotFound(err) {
			return provisioning.NewError(provisioning.CodeLoadBalancer,
				fmt.Sprintf("failed to delete listener %s", awssdk.ToString(listener.ListenerArn)), err)
		}
	}
	return nil
}

// describeTagsBatchSize is the ELBv2 limit on resource ARNs per DescribeTags
// call.
const describeTagsBatchSize = 20

// ListTagged returns the load balancer ARNs carrying this run's tags. The
// ELBv2 API cannot filter describes by tag server-side, so tags are read in
// batches after listing. Advisory read: failures are treated as "nothing
// found".
func (m *Manager) ListTagged(ctx *provisioning.Context) []string {
	out, err := m.client.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{})
	if err != nil {
		return nil
	}

	arns := make([]string, 0, len(out.LoadBalancers))
	for _, lb := range out.LoadBalancers {
		arns = append(arns, awssdk.ToString(lb.LoadBalancerArn))
	}

	var matched []string
	for start := 0; start < len(arns); start += describeTagsBatchSize {
		end := start + describeTagsBatchSize
		if end > len(arns) {
			end = len(arns)
		}
		tagsOut, err := m.client.DescribeTags(ctx, &elbv2.DescribeTagsInput{
			ResourceArns: arns[start:end],
		})
		if err != nil {
			continue
		}
		for _, desc := range tagsOut.TagDescriptions {
			if hasRunTags(desc.Tags, ctx.Config.AppName, ctx.Resources.RunID) {
				matched = append(matched, awssdk.ToString(desc.ResourceArn))
			}
		}
	}
	return matched
}

// hasRunTags reports whether the tag set carries both the app and run-id
// tags of this run.
func hasRunTags(ts []elbv2types.Tag, app, runID string) bool {
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

// elbTags converts the run's tag map into the ELBv2 tag slice. Keys are
// sorted so request bodies are deterministic.
func elbTags(app, runID, name string, extra map[string]string) []elbv2types.Tag {
	tagMap := tags.NewBuilder(app, runID).WithName(name).Merge(extra).Build()
	keys := make([]string, 0, len(tagMap))
	for k := range tagMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]elbv2types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, elbv2types.Tag{Key: awssdk.String(k), Value: awssdk.String(tagMap[k])})
	}
	return out
}
