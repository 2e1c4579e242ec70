package naming

import "fmt"

// Naming functions for environment resources.
// All remote resources follow consistent naming patterns to enable easy
// identification and cleanup.

func VPC(app string) string {
	return fmt.Sprintf("%s-vpc", app)
}

func InternetGateway(app string) string {
	return fmt.Sprintf("%s-igw", app)
}

func RouteTable(app string) string {
	return fmt.Sprintf("%s-rt", app)
}

func Subnet(app string, index int) string {
	return fmt.Sprintf("%s-subnet-%d", app, index)
}

func EdgeSecurityGroup(app string) string {
	return fmt.Sprintf("%s-edge-sg", app)
}

func AppSecurityGroup(app string) string {
	return fmt.Sprintf("%s-app-sg", app)
}

func Role(app string) string {
	return fmt.Sprintf("%s-instance-role", app)
}

func InstanceProfile(app string) string {
	return fmt.Sprintf("%s-instance-profile", app)
}

func KeyPair(app, runID string) string {
	return fmt.Sprintf("%s-%s-key", app, runID)
}

func Instance(app string) string {
	return fmt.Sprintf("%s-instance", app)
}

func LoadBalancer(app string) string {
	return fmt.Sprintf("%s-alb", app)
}

func TargetGroup(app string) string {
	return fmt.Sprintf("%s-tg", app)
}
