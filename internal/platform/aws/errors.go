package aws

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
)

// IsNotFound checks if an error indicates a resource that does not exist.
// EC2 encodes this as a per-resource ".NotFound" suffix; IAM uses
// NoSuchEntity; ELBv2 uses per-resource "...NotFound" codes.
func IsNotFound(err error) bool {
	code, ok := apiErrorCode(err)
	if !ok {
		return false
	}
	return strings.HasSuffix(code, ".NotFound") ||
		strings.HasSuffix(code, "NotFound") ||
		code == "NoSuchEntity" ||
		code == "NoSuchEntityException"
}

// IsDependencyViolation checks if a deletion failed because another resource
// still references the target.
func IsDependencyViolation(err error) bool {
	return isAPIErrorCode(err,
		"DependencyViolation",
		"ResourceInUse",
		"ResourceInUseException",
		"DeleteConflict",
	)
}

// IsAccessDenied checks if the remote API denied the caller's credentials.
// These errors are never retried.
func IsAccessDenied(err error) bool {
	return isAPIErrorCode(err,
		"UnauthorizedOperation",
		"AccessDenied",
		"AccessDeniedException",
		"Forbidden",
	)
}

// IsDuplicate checks if a creation failed because the resource already
// exists under the same name.
func IsDuplicate(err error) bool {
	return isAPIErrorCode(err,
		"InvalidKeyPair.Duplicate",
		"InvalidGroup.Duplicate",
		"EntityAlreadyExists",
		"DuplicateLoadBalancerName",
		"DuplicateTargetGroupName",
	)
}

func isAPIErrorCode(err error, codes ...string) bool {
	code, ok := apiErrorCode(err)
	if !ok {
		return false
	}
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

func apiErrorCode(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode(), true
	}
	return "", false
}
