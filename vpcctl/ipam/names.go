package ipam

import (
	"fmt"
	"regexp"

	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
)

// Linux IFNAMSIZ limits interface names to 15 characters.
const maxLinkName = 15

var nameRe = regexp.MustCompile(`^[a-z0-9-]{1,30}$`)

// ValidName reports whether a VPC or subnet name is acceptable.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// BridgeName returns the bridge device name for a VPC.
func BridgeName(vpc string) string {
	return "br-" + vpc
}

// NamespaceName returns the namespace name for a subnet.
func NamespaceName(vpc, subnet string) string {
	return fmt.Sprintf("ns-%s-%s", vpc, subnet)
}

// VethNames returns the host-side and namespace-side veth names for a
// subnet. The namespace side is renamed to eth0 once moved.
func VethNames(vpc, subnet string) (host, ns string) {
	return fmt.Sprintf("veth-%s-%s-h", vpc, subnet), fmt.Sprintf("veth-%s-%s-n", vpc, subnet)
}

// PeerVethNames returns the two veth names for a peering link, ordered by
// the lexicographically smaller VPC name.
func PeerVethNames(a, b string) (sideA, sideB string) {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("veth-peer-%s-%s-a", a, b), fmt.Sprintf("veth-peer-%s-%s-b", a, b)
}

// OrderPair returns the pair in lexicographic order.
func OrderPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// CheckVPCName validates a VPC name and that its derived bridge name fits
// in a kernel interface name.
func CheckVPCName(name string) error {
	if !ValidName(name) {
		return errdefs.Validation("invalid VPC name %q (want [a-z0-9-]{1,30})", name)
	}
	if len(BridgeName(name)) > maxLinkName {
		return errdefs.Validation("VPC name %q too long: bridge %q exceeds %d characters", name, BridgeName(name), maxLinkName)
	}
	return nil
}

// CheckSubnetName validates a subnet name and that the derived veth names
// fit in a kernel interface name.
func CheckSubnetName(vpc, subnet string) error {
	if !ValidName(subnet) {
		return errdefs.Validation("invalid subnet name %q (want [a-z0-9-]{1,30})", subnet)
	}
	host, _ := VethNames(vpc, subnet)
	if len(host) > maxLinkName {
		return errdefs.Validation("names %q/%q too long: veth %q exceeds %d characters", vpc, subnet, host, maxLinkName)
	}
	return nil
}

// CheckPeerNames validates that the derived peering veth names fit in a
// kernel interface name.
func CheckPeerNames(a, b string) error {
	sideA, _ := PeerVethNames(a, b)
	if len(sideA) > maxLinkName {
		return errdefs.Validation("VPC names %q/%q too long: peering veth %q exceeds %d characters", a, b, sideA, maxLinkName)
	}
	return nil
}
