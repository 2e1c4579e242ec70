// Package cidr allocates subnet address blocks inside a network's base block.
package cidr

import (
	"fmt"
	"net"
	"strings"
)

// maxThirdOctet is the last usable value for the generated third octet.
const maxThirdOctet = 254

// AllocateBlocks returns one /24 block per requested zone, carved out of
// baseCIDR. Candidate blocks share the base's first two octets and walk the
// third octet upward starting at 1, skipping any candidate whose literal
// string already appears in existing.
//
// Conflict detection is by exact string comparison, not subnet-overlap
// arithmetic: a differently-written block that overlaps a candidate is not
// detected. Existing blocks written in another form therefore do not block
// allocation.
func AllocateBlocks(baseCIDR string, existing []string, zones []string) ([]string, error) {
	ip, _, err := net.ParseCIDR(baseCIDR)
	if err != nil {
		return nil, fmt.Errorf("invalid base CIDR %q: %w", baseCIDR, err)
	}
	if ip.To4() == nil {
		return nil, fmt.Errorf("only IPv4 base blocks are supported, got %q", baseCIDR)
	}

	octets := strings.Split(ip.To4().String(), ".")
	prefix := octets[0] + "." + octets[1]

	taken := make(map[string]struct{}, len(existing))
	for _, block := range existing {
		taken[block] = struct{}{}
	}

	blocks := make([]string, 0, len(zones))
	next := 1
	for range zones {
		var block string
		for ; next <= maxThirdOctet; next++ {
			candidate := fmt.Sprintf("%s.%d.0/24", prefix, next)
			if _, ok := taken[candidate]; ok {
				continue
			}
			block = candidate
			next++
			break
		}
		if block == "" {
			return nil, fmt.Errorf("no free /24 blocks left in %s", baseCIDR)
		}
		blocks = append(blocks, block)
	}

	return blocks, nil
}
