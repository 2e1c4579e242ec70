package handlers

import (
	platformaws "github.com/skiffcloud/skiff/internal/platform/aws"
	"github.com/skiffcloud/skiff/internal/provisioning"
	"github.com/skiffcloud/skiff/internal/provisioning/compute"
	"github.com/skiffcloud/skiff/internal/provisioning/identity"
	"github.com/skiffcloud/skiff/internal/provisioning/loadbalancer"
	"github.com/skiffcloud/skiff/internal/provisioning/network"
	"github.com/skiffcloud/skiff/internal/provisioning/securitygroup"
)

// buildStages assembles the fixed stage sequence. Creation runs top to
// bottom; teardown runs bottom to top. TargetRegistration and HealthCheck
// have no teardown of their own: deregistration happens implicitly when the
// target group and instance go away.
func buildStages(clients *platformaws.Clients) []provisioning.Stage {
	networkMgr := network.NewManager(clients.EC2)
	sgMgr := securitygroup.NewManager(clients.EC2)
	identityMgr := identity.NewManager(clients.IAM)
	computeMgr := compute.NewManager(clients.EC2)
	lbMgr := loadbalancer.NewManager(clients.ELB)

	return []provisioning.Stage{
		{
			Name:      "network",
			Provision: networkMgr.ProvisionNetwork,
			Destroy:   networkMgr.DestroyNetwork,
			Created: func(rs *provisioning.ResourceSet) bool {
				return rs.VPCID != "" || rs.InternetGatewayID != "" || rs.RouteTableID != ""
			},
		},
		{
			Name:      "subnets",
			Provision: networkMgr.ProvisionSubnets,
			Destroy:   networkMgr.DestroySubnets,
			Created: func(rs *provisioning.ResourceSet) bool {
				return len(rs.SubnetIDs) > 0
			},
		},
		{
			Name:      "securitygroups",
			Provision: sgMgr.ProvisionGroups,
			Destroy:   sgMgr.DestroyGroups,
			Created: func(rs *provisioning.ResourceSet) bool {
				return len(rs.SecurityGroupIDs) > 0
			},
		},
		{
			Name:      "identityprofile",
			Provision: identityMgr.ProvisionProfile,
			Destroy:   identityMgr.DestroyProfile,
			Created: func(rs *provisioning.ResourceSet) bool {
				return rs.InstanceProfile != ""
			},
		},
		{
			Name:      "computeinstance",
			Provision: computeMgr.ProvisionInstance,
			Destroy:   computeMgr.DestroyInstance,
			Created: func(rs *provisioning.ResourceSet) bool {
				return rs.InstanceID != "" || rs.KeyPairName != ""
			},
		},
		{
			Name:      "loadbalancer",
			Provision: lbMgr.ProvisionLoadBalancer,
			Destroy:   lbMgr.DestroyLoadBalancer,
			Created: func(rs *provisioning.ResourceSet) bool {
				return rs.LoadBalancerARN != "" || rs.TargetGroupARN != ""
			},
		},
		{
			Name:      "targetregistration",
			Provision: lbMgr.RegisterTarget,
			Created: func(rs *provisioning.ResourceSet) bool {
				return rs.TargetGroupARN != "" && rs.InstanceID != ""
			},
		},
		{
			Name:      "healthcheck",
			Provision: lbMgr.WaitForHealthy,
			Created: func(rs *provisioning.ResourceSet) bool {
				return rs.TargetGroupARN != "" && rs.InstanceID != ""
			},
		},
	}
}
