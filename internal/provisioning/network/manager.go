// Package network manages the VPC, internet gateway, route table, and
// subnets for one environment.
package network

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	platformaws "github.com/skiffcloud/skiff/internal/platform/aws"
	"github.com/skiffcloud/skiff/internal/provisioning"
	"github.com/skiffcloud/skiff/internal/util/cidr"
	"github.com/skiffcloud/skiff/internal/util/naming"
	"github.com/skiffcloud/skiff/internal/util/tags"
)

// EC2Client is the subset of the EC2 API used for network management.
type EC2Client interface {
	CreateVpc(ctx context.Context, params *ec2.CreateVpcInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error)
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DeleteVpc(ctx context.Context, params *ec2.DeleteVpcInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error)
	CreateSubnet(ctx context.Context, params *ec2.CreateSubnetInput, optFns ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DeleteSubnet(ctx context.Context, params *ec2.DeleteSubnetInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error)
	CreateInternetGateway(ctx context.Context, params *ec2.CreateInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.CreateInternetGatewayOutput, error)
	DescribeInternetGateways(ctx context.Context, params *ec2.DescribeInternetGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInternetGatewaysOutput, error)
	AttachInternetGateway(ctx context.Context, params *ec2.AttachInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.AttachInternetGatewayOutput, error)
	DetachInternetGateway(ctx context.Context, params *ec2.DetachInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.DetachInternetGatewayOutput, error)
	DeleteInternetGateway(ctx context.Context, params *ec2.DeleteInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.DeleteInternetGatewayOutput, error)
	CreateRouteTable(ctx context.Context, params *ec2.CreateRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.CreateRouteTableOutput, error)
	DeleteRouteTable(ctx context.Context, params *ec2.DeleteRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.DeleteRouteTableOutput, error)
	DescribeRouteTables(ctx context.Context, params *ec2.DescribeRouteTablesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error)
	CreateRoute(ctx context.Context, params *ec2.CreateRouteInput, optFns ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error)
	AssociateRouteTable(ctx context.Context, params *ec2.AssociateRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.AssociateRouteTableOutput, error)
}

const stageName = "network"

// Manager is the network lifecycle manager. It is stateless with respect to
// the resource set: identifiers flow in and out through the provisioning
// context.
type Manager struct {
	client EC2Client
}

// NewManager creates a network manager.
func NewManager(client EC2Client) *Manager {
	return &Manager{client: client}
}

// ProvisionNetwork creates the VPC, internet gateway, route table, and
// default route. When the configuration selects an existing VPC, it is
// inspected and only the missing pieces are created.
func (m *Manager) ProvisionNetwork(ctx *provisioning.Context) error {
	if ctx.Config.ExistingVPCID != "" {
		return m.adoptExistingVPC(ctx)
	}

	tagMap := tags.NewBuilder(ctx.Config.AppName, ctx.Resources.RunID).
		WithName(naming.VPC(ctx.Config.AppName)).
		Merge(ctx.Config.ExtraTags).
		Build()

	provisioning.LogResourceCreating(ctx.Observer, stageName, "vpc", naming.VPC(ctx.Config.AppName))
	vpcOut, err := m.client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: awssdk.String(ctx.Config.BaseCIDR),
		TagSpecifications: []ec2types.TagSpecification{
			platformaws.EC2TagSpec(ec2types.ResourceTypeVpc, tagMap),
		},
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeNetwork, "failed to create VPC", err)
	}
	ctx.Resources.VPCID = awssdk.ToString(vpcOut.Vpc.VpcId)
	provisioning.LogResourceCreated(ctx.Observer, stageName, "vpc", naming.VPC(ctx.Config.AppName), ctx.Resources.VPCID)

	if err := m.provisionGatewayAndRoute(ctx); err != nil {
		return err
	}
	return nil
}

// adoptExistingVPC records a pre-existing VPC and creates only the gateway
// and route pieces it is missing.
func (m *Manager) adoptExistingVPC(ctx *provisioning.Context) error {
	out, err := m.client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		VpcIds: []string{ctx.Config.ExistingVPCID},
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeNetwork,
			fmt.Sprintf("failed to describe existing VPC %s", ctx.Config.ExistingVPCID), err)
	}
	if len(out.Vpcs) == 0 {
		return provisioning.NewError(provisioning.CodeNetwork,
			fmt.Sprintf("existing VPC %s not found", ctx.Config.ExistingVPCID), nil)
	}

	ctx.Resources.VPCID = ctx.Config.ExistingVPCID
	provisioning.LogResourceExists(ctx.Observer, stageName, "vpc", naming.VPC(ctx.Config.AppName), ctx.Resources.VPCID)

	gatewayID, found := m.findAttachedGateway(ctx, ctx.Resources.VPCID)
	if found {
		provisioning.LogResourceExists(ctx.Observer, stageName, "internet gateway", naming.InternetGateway(ctx.Config.AppName), gatewayID)
		ctx.Resources.InternetGatewayID = gatewayID
		if m.hasDefaultRoute(ctx, ctx.Resources.VPCID, gatewayID) {
			return nil
		}
		return m.provisionRouteTable(ctx, gatewayID)
	}

	return m.provisionGatewayAndRoute(ctx)
}

func (m *Manager) provisionGatewayAndRoute(ctx *provisioning.Context) error {
	app := ctx.Config.AppName
	tagMap := func(name string) map[string]string {
		return tags.NewBuilder(app, ctx.Resources.RunID).WithName(name).Merge(ctx.Config.ExtraTags).Build()
	}

	provisioning.LogResourceCreating(ctx.Observer, stageName, "internet gateway", naming.InternetGateway(app))
	igwOut, err := m.client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: []ec2types.TagSpecification{
			platformaws.EC2TagSpec(ec2types.ResourceTypeInternetGateway, tagMap(naming.InternetGateway(app))),
		},
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeNetwork, "failed to create internet gateway", err)
	}
	gatewayID := awssdk.ToString(igwOut.InternetGateway.InternetGatewayId)

	_, err = m.client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: awssdk.String(gatewayID),
		VpcId:             awssdk.String(ctx.Resources.VPCID),
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeNetwork, "failed to attach internet gateway", err)
	}
	ctx.Resources.InternetGatewayID = gatewayID
	provisioning.LogResourceCreated(ctx.Observer, stageName, "internet gateway", naming.InternetGateway(app), gatewayID)

	return m.provisionRouteTable(ctx, gatewayID)
}

func (m *Manager) provisionRouteTable(ctx *provisioning.Context, gatewayID string) error {
	app := ctx.Config.AppName
	tagMap := tags.NewBuilder(app, ctx.Resources.RunID).WithName(naming.RouteTable(app)).Merge(ctx.Config.ExtraTags).Build()

	provisioning.LogResourceCreating(ctx.Observer, stageName, "route table", naming.RouteTable(app))
	rtOut, err := m.client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
		VpcId: awssdk.String(ctx.Resources.VPCID),
		TagSpecifications: []ec2types.TagSpecification{
			platformaws.EC2TagSpec(ec2types.ResourceTypeRouteTable, tagMap),
		},
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeNetwork, "failed to create route table", err)
	}
	routeTableID := awssdk.ToString(rtOut.RouteTable.RouteTableId)

	_, err = m.client.CreateRoute(ctx, &ec2.CreateRouteInput{
		RouteTableId:         awssdk.String(routeTableID),
		DestinationCidrBlock: awssdk.String("0.0.0.0/0"),
		GatewayId:            awssdk.String(gatewayID),
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeNetwork, "failed to create default route", err)
	}
	ctx.Resources.RouteTableID = routeTableID
	provisioning.LogResourceCreated(ctx.Observer, stageName, "route table", naming.RouteTable(app), routeTableID)
	return nil
}

// findAttachedGateway returns the gateway attached to the VPC. A describe
// failure is treated as "nothing found": the read is advisory, used to
// decide whether a gateway needs creating.
func (m *Manager) findAttachedGateway(ctx *provisioning.Context, vpcID string) (string, bool) {
	out, err := m.client.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []ec2types.Filter{
			{Name: awssdk.String("attachment.vpc-id"), Values: []string{vpcID}},
		},
	})
	if err != nil || len(out.InternetGateways) == 0 {
		return "", false
	}
	return awssdk.ToString(out.InternetGateways[0].InternetGatewayId), true
}

// hasDefaultRoute reports whether any route table in the VPC already routes
// 0.0.0.0/0 through the gateway. Advisory read: failures count as "no".
func (m *Manager) hasDefaultRoute(ctx *provisioning.Context, vpcID, gatewayID string) bool {
	out, err := m.client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{
			{Name: awssdk.String("vpc-id"), Values: []string{vpcID}},
		},
	})
	if err != nil {
		return false
	}
	for _, rt := range out.RouteTables {
		for _, route := range rt.Routes {
			if awssdk.ToString(route.DestinationCidrBlock) == "0.0.0.0/0" &&
				awssdk.ToString(route.GatewayId) == gatewayID {
				ctx.Resources.RouteTableID = awssdk.ToString(rt.RouteTableId)
				return true
			}
		}
	}
	return false
}

// ProvisionSubnets carves one /24 block per configured zone out of the base
// CIDR, skipping blocks already present in the VPC, and associates each new
// subnet with the environment's route table.
func (m *Manager) ProvisionSubnets(ctx *provisioning.Context) error {
	if len(ctx.Config.ExistingSubnetIDs) > 0 {
		return m.adoptExistingSubnets(ctx)
	}

	existing := m.existingSubnetBlocks(ctx, ctx.Resources.VPCID)

	blocks, err := cidr.AllocateBlocks(ctx.Config.BaseCIDR, existing, ctx.Config.Zones)
	if err != nil {
		return provisioning.NewError(provisioning.CodeNetwork, "failed to allocate subnet blocks", err)
	}

	for i, zone := range ctx.Config.Zones {
		name := naming.Subnet(ctx.Config.AppName, i)
		tagMap := tags.NewBuilder(ctx.Config.AppName, ctx.Resources.RunID).WithName(name).Merge(ctx.Config.ExtraTags).Build()

		provisioning.LogResourceCreating(ctx.Observer, stageName, "subnet", name)
		out, err := m.client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
			VpcId:            awssdk.String(ctx.Resources.VPCID),
			CidrBlock:        awssdk.String(blocks[i]),
			AvailabilityZone: awssdk.String(zone),
			TagSpecifications: []ec2types.TagSpecification{
				platformaws.EC2TagSpec(ec2types.ResourceTypeSubnet, tagMap),
			},
		})
		if err != nil {
			return provisioning.NewError(provisioning.CodeNetwork,
				fmt.Sprintf("failed to create subnet %s in %s", blocks[i], zone), err)
		}
		subnetID := awssdk.ToString(out.Subnet.SubnetId)
		ctx.Resources.SubnetIDs = append(ctx.Resources.SubnetIDs, subnetID)

		if ctx.Resources.RouteTableID != "" {
			_, err = m.client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
				RouteTableId: awssdk.String(ctx.Resources.RouteTableID),
				SubnetId:     awssdk.String(subnetID),
			})
			if err != nil {
				return provisioning.NewError(provisioning.CodeNetwork,
					fmt.Sprintf("failed to associate subnet %s with route table", subnetID), err)
			}
		}
		provisioning.LogResourceCreated(ctx.Observer, stageName, "subnet", name, subnetID)
	}
	return nil
}

// adoptExistingSubnets records subnets the caller selected for reuse. Unlike
// the advisory block listing, adoption is correctness-critical: every
// selected subnet must exist and belong to the environment's VPC.
func (m *Manager) adoptExistingSubnets(ctx *provisioning.Context) error {
	out, err := m.client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		SubnetIds: ctx.Config.ExistingSubnetIDs,
	})
	if err != nil {
		return provisioning.NewError(provisioning.CodeNetwork, "failed to describe selected subnets", err)
	}

	vpcByID := make(map[string]string, len(out.Subnets))
	for _, subnet := range out.Subnets {
		vpcByID[awssdk.ToString(subnet.SubnetId)] = awssdk.ToString(subnet.VpcId)
	}

	for _, subnetID := range ctx.Config.ExistingSubnetIDs {
		vpcID, ok := vpcByID[subnetID]
		if !ok {
			return provisioning.NewError(provisioning.CodeNetwork,
				fmt.Sprintf("selected subnet %s not found", subnetID), nil)
		}
		if vpcID != ctx.Resources.VPCID {
			return provisioning.NewError(provisioning.CodeNetwork,
				fmt.Sprintf("selected subnet %s belongs to %s, not %s", subnetID, vpcID, ctx.Resources.VPCID), nil)
		}
		ctx.Resources.SubnetIDs = append(ctx.Resources.SubnetIDs, subnetID)
		provisioning.LogResourceExists(ctx.Observer, stageName, "subnet", subnetID, subnetID)
	}
	return nil
}

// existingSubnetBlocks lists the CIDR blocks already allocated in the VPC.
// A describe failure is treated as "nothing found".
func (m *Manager) existingSubnetBlocks(ctx *provisioning.Context, vpcID string) []string {
	out, err := m.client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{
			{Name: awssdk.String("vpc-id"), Values: []string{vpcID}},
		},
	})
	if err != nil {
		return nil
	}
	blocks := make([]string, 0, len(out.Subnets))
	for _, subnet := range out.Subnets {
		blocks = append(blocks, awssdk.ToString(subnet.CidrBlock))
	}
	return blocks
}

// DestroySubnets deletes every recorded subnet. Subnets already gone
// remotely are treated as deleted.
func (m *Manager) DestroySubnets(ctx *provisioning.Context) error {
	remaining := make([]string, 0, len(ctx.Resources.SubnetIDs))
	var firstErr error

	for _, subnetID := range ctx.Resources.SubnetIDs {
		provisioning.LogResourceDeleting(ctx.Observer, stageName, "subnet", subnetID)
		_, err := m.client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{
			SubnetId: awssdk.String(subnetID),
		})
		if err != nil && !platformaws.IsNotFound(err) {
			remaining = append(remaining, subnetID)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		provisioning.LogResourceDeleted(ctx.Observer, stageName, "subnet", subnetID)
	}

	ctx.Resources.SubnetIDs = remaining
	if firstErr != nil {
		return provisioning.NewError(provisioning.CodeNetwork, "failed to delete one or more subnets", firstErr)
	}
	return nil
}

// DestroyNetwork deletes the route table, detaches and deletes the gateway,
// then deletes the VPC, in that order. A VPC flagged as the account's
// implicit default is never deleted.
func (m *Manager) DestroyNetwork(ctx *provisioning.Context) error {
	if ctx.Resources.RouteTableID != "" {
		provisioning.LogResourceDeleting(ctx.Observer, stageName, "route table", ctx.Resources.RouteTableID)
		_, err := m.client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{
			RouteTableId: awssdk.String(ctx.Resources.RouteTableID),
		})
		if err != nil && !platformaws.IsNotFound(err) {
			return provisioning.NewError(provisioning.CodeNetwork, "failed to delete route table", err)
		}
		ctx.Resources.RouteTableID = ""
	}

	if ctx.Resources.InternetGatewayID != "" && ctx.Resources.VPCID != "" {
		provisioning.LogResourceDeleting(ctx.Observer, stageName, "internet gateway", ctx.Resources.InternetGatewayID)
		_, err := m.client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: awssdk.String(ctx.Resources.InternetGatewayID),
			VpcId:             awssdk.String(ctx.Resources.VPCID),
		})
		if err != nil && !platformaws.IsNotFound(err) {
			return provisioning.NewError(provisioning.CodeNetwork, "failed to detach internet gateway", err)
		}
		_, err = m.client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{
			InternetGatewayId: awssdk.String(ctx.Resources.InternetGatewayID),
		})
		if err != nil && !platformaws.IsNotFound(err) {
			return provisioning.NewError(provisioning.CodeNetwork, "failed to delete internet gateway", err)
		}
		ctx.Resources.InternetGatewayID = ""
	}

	if ctx.Resources.VPCID != "" {
		out, err := m.client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
			VpcIds: []string{ctx.Resources.VPCID},
		})
		if err != nil {
			if platformaws.IsNotFound(err) {
				// Already gone out-of-band.
				ctx.Resources.VPCID = ""
				return nil
			}
			return provisioning.NewError(provisioning.CodeNetwork, "failed to describe VPC before deletion", err)
		}
		if len(out.Vpcs) == 0 {
			ctx.Resources.VPCID = ""
			return nil
		}
		if awssdk.ToBool(out.Vpcs[0].IsDefault) {
			ctx.Observer.Printf("refusing to delete default VPC %s, leaving it in place", ctx.Resources.VPCID)
			ctx.Resources.VPCID = ""
			return nil
		}

		provisioning.LogResourceDeleting(ctx.Observer, stageName, "vpc", ctx.Resources.VPCID)
		_, err = m.client.DeleteVpc(ctx, &ec2.DeleteVpcInput{
			VpcId: awssdk.String(ctx.Resources.VPCID),
		})
		if err != nil && !platformaws.IsNotFound(err) {
			return provisioning.NewError(provisioning.CodeNetwork, "failed to delete VPC", err)
		}
		ctx.Resources.VPCID = ""
		provisioning.LogResourceDeleted(ctx.Observer, stageName, "vpc", naming.VPC(ctx.Config.AppName))
	}
	return nil
}

// ListTagged returns the VPC ids carrying this run's tags. Advisory read:
// failures are treated as "nothing found".
func (m *Manager) ListTagged(ctx *provisioning.Context) []string {
	out, err := m.client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: platformaws.EC2RunFilters(ctx.Config.AppName, ctx.Resources.RunID),
	})
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(out.Vpcs))
	for _, vpc := range out.Vpcs {
		ids = append(ids, awssdk.ToString(vpc.VpcId))
	}
	return ids
}
