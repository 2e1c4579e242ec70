package provisioning

import "errors"

// Code is a short machine-readable failure category. The runner inspects
// codes, never messages, when deciding compensating behavior.
type Code string

const (
	// CodeNetwork covers VPC, subnet, gateway, and route failures.
	CodeNetwork Code = "network-error"

	// CodeSecurityGroup covers security-group create/revoke/delete failures.
	CodeSecurityGroup Code = "security-group-error"

	// CodeIdentityPermission means the remote API denied access. Surfaced
	// immediately, without retry, so the caller can stop instead of rolling
	// back.
	CodeIdentityPermission Code = "identity-permission-error"

	// CodeIdentity covers IAM role and instance-profile failures that do
	// not fall into one of the finer identity categories below.
	CodeIdentity Code = "identity-error"

	// CodeIdentityRoleVerification means the role could not be confirmed
	// after creation.
	CodeIdentityRoleVerification Code = "identity-role-verification-failed"

	// CodeIdentityProfileVerification means the instance profile could not
	// be confirmed after creation.
	CodeIdentityProfileVerification Code = "identity-profile-verification-error"

	// CodeIdentityPropagationTimeout means the instance profile never
	// reported the role attached within the polling budget. Fatal: a missing
	// profile blocks instance creation entirely.
	CodeIdentityPropagationTimeout Code = "identity-profile-propagation-timeout"

	// CodeCompute covers keypair and instance lifecycle failures.
	CodeCompute Code = "compute-error"

	// CodeLoadBalancer covers load balancer, target group, and listener
	// failures.
	CodeLoadBalancer Code = "load-balancer-error"
)

// Error is a typed lifecycle failure carrying a category code and a human
// message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed lifecycle failure.
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the failure category from an error chain. Returns the
// empty code for untyped errors.
func CodeOf(err error) Code {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ""
}

// IsPermissionError reports whether the error chain carries the identity
// permission code.
func IsPermissionError(err error) bool {
	return CodeOf(err) == CodeIdentityPermission
}
