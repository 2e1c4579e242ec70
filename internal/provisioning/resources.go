package provisioning

// ResourceSet is the single mutable record of everything created for one
// environment. Each field is empty until its creation stage succeeds and is
// cleared only by successful deletion of that resource.
//
// A non-empty field is a claim that the remote resource exists, not a
// guarantee: the remote side may have deleted it out-of-band, so deletion
// paths re-check existence before acting.
type ResourceSet struct {
	AppName string `yaml:"app_name"`
	RunID   string `yaml:"run_id"`
	Region  string `yaml:"region"`

	VPCID             string   `yaml:"vpc_id,omitempty"`
	SubnetIDs         []string `yaml:"subnet_ids,omitempty"`
	RouteTableID      string   `yaml:"route_table_id,omitempty"`
	InternetGatewayID string   `yaml:"internet_gateway_id,omitempty"`
	SecurityGroupIDs  []string `yaml:"security_group_ids,omitempty"`
	InstanceProfile   string   `yaml:"instance_profile,omitempty"`
	InstanceID        string   `yaml:"instance_id,omitempty"`
	KeyPairName       string   `yaml:"key_pair_name,omitempty"`
	PrivateKeyPath    string   `yaml:"private_key_path,omitempty"`
	LoadBalancerARN   string   `yaml:"load_balancer_arn,omitempty"`
	TargetGroupARN    string   `yaml:"target_group_arn,omitempty"`
	CertificateARN    string   `yaml:"certificate_arn,omitempty"`
}

// NewResourceSet creates an empty resource record for one run.
func NewResourceSet(app, runID, region string) *ResourceSet {
	return &ResourceSet{AppName: app, RunID: runID, Region: region}
}

// Reset clears every resource field while keeping the run identity.
func (rs *ResourceSet) Reset() {
	*rs = ResourceSet{AppName: rs.AppName, RunID: rs.RunID, Region: rs.Region}
}

// Empty reports whether no resource field is populated.
func (rs *ResourceSet) Empty() bool {
	return rs.VPCID == "" &&
		len(rs.SubnetIDs) == 0 &&
		rs.RouteTableID == "" &&
		rs.InternetGatewayID == "" &&
		len(rs.SecurityGroupIDs) == 0 &&
		rs.InstanceProfile == "" &&
		rs.InstanceID == "" &&
		rs.KeyPairName == "" &&
		rs.LoadBalancerARN == "" &&
		rs.TargetGroupARN == "" &&
		rs.CertificateARN == ""
}

// Store persists the resource set durably across process restarts. The
// runner writes through it after every stage transition so on-disk state
// always matches exactly what has been created or destroyed so far.
type Store interface {
	Save(rs *ResourceSet) error
	Load() (*ResourceSet, error)
}
