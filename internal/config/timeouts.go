package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds the attempt budgets for every polled condition. Each budget
// governs one polling loop independently; a fresh loop is constructed per
// poll call.
type Timeouts struct {
	InstanceRunningAttempts    int           // Poll budget for instance reaching "running"
	InstanceRunningInterval    time.Duration // Fixed interval between running checks
	InstanceTerminatedAttempts int           // Poll budget for instance reaching "terminated"
	InstanceTerminatedInterval time.Duration // Fixed interval between terminated checks
	TargetHealthyAttempts      int           // Poll budget for load balancer target health
	TargetHealthyInterval      time.Duration // Fixed interval between health checks
	ProfileAttempts            int           // Poll budget for instance profile propagation
	ProfileBaseDelay           time.Duration // Initial backoff delay for profile propagation
	ProfileMaxDelay            time.Duration // Backoff cap for profile propagation
	RevokeSettleWait           time.Duration // Wait after revoking security group rules
	DependencyRetryWait        time.Duration // Wait before the single dependency-violation retry
}

// LoadTimeouts loads attempt budgets from environment variables, falling
// back to defaults when a variable is unset or invalid.
//
// Environment Variables:
//   - SKIFF_POLL_INSTANCE_RUNNING_ATTEMPTS (default: 40)
//   - SKIFF_POLL_INSTANCE_RUNNING_INTERVAL (default: 15s)
//   - SKIFF_POLL_INSTANCE_TERMINATED_ATTEMPTS (default: 40)
//   - SKIFF_POLL_INSTANCE_TERMINATED_INTERVAL (default: 15s)
//   - SKIFF_POLL_TARGET_HEALTHY_ATTEMPTS (default: 20)
//   - SKIFF_POLL_TARGET_HEALTHY_INTERVAL (default: 15s)
//   - SKIFF_POLL_PROFILE_ATTEMPTS (default: 8)
//   - SKIFF_POLL_PROFILE_BASE_DELAY (default: 2s)
//   - SKIFF_POLL_PROFILE_MAX_DELAY (default: 30s)
//   - SKIFF_SG_REVOKE_SETTLE_WAIT (default: 5s)
//   - SKIFF_SG_DEPENDENCY_RETRY_WAIT (default: 30s)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		InstanceRunningAttempts:    parseInt("SKIFF_POLL_INSTANCE_RUNNING_ATTEMPTS", 40),
		InstanceRunningInterval:    parseDuration("SKIFF_POLL_INSTANCE_RUNNING_INTERVAL", 15*time.Second),
		InstanceTerminatedAttempts: parseInt("SKIFF_POLL_INSTANCE_TERMINATED_ATTEMPTS", 40),
		InstanceTerminatedInterval: parseDuration("SKIFF_POLL_INSTANCE_TERMINATED_INTERVAL", 15*time.Second),
		TargetHealthyAttempts:      parseInt("SKIFF_POLL_TARGET_HEALTHY_ATTEMPTS", 20),
		TargetHealthyInterval:      parseDuration("SKIFF_POLL_TARGET_HEALTHY_INTERVAL", 15*time.Second),
		ProfileAttempts:            parseInt("SKIFF_POLL_PROFILE_ATTEMPTS", 8),
		ProfileBaseDelay:           parseDuration("SKIFF_POLL_PROFILE_BASE_DELAY", 2*time.Second),
		ProfileMaxDelay:            parseDuration("SKIFF_POLL_PROFILE_MAX_DELAY", 30*time.Second),
		RevokeSettleWait:           parseDuration("SKIFF_SG_REVOKE_SETTLE_WAIT", 5*time.Second),
		DependencyRetryWait:        parseDuration("SKIFF_SG_DEPENDENCY_RETRY_WAIT", 30*time.Second),
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}

	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return n
}
