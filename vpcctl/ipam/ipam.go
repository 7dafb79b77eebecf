// Package ipam holds the deterministic, pure address and naming scheme.
// Gateways are the first usable address of a CIDR, endpoints the second;
// peering links draw /30 blocks from a reserved 192.168.0.0/16 pool.
package ipam

import (
	"fmt"
	"math/big"
	"net"

	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
)

// Peering /30 blocks are 192.168.<k>.0/30 for increasing k.
const (
	peeringBlockFormat = "192.168.%d.0/30"
	peeringBlockMax    = 256
)

// Gateway returns the first usable address of the CIDR (network + 1).
func Gateway(cidr string) (net.IP, error) {
	return hostAt(cidr, 1)
}

// Endpoint returns the second usable address of the CIDR (network + 2).
func Endpoint(cidr string) (net.IP, error) {
	return hostAt(cidr, 2)
}

// PeerEndpoints returns both usable addresses of a peering /30 block.
func PeerEndpoints(block string) (a, b net.IP, err error) {
	if a, err = hostAt(block, 1); err != nil {
		return nil, nil, err
	}
	if b, err = hostAt(block, 2); err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// PeeringBlock picks the lowest-k unused 192.168.<k>.0/30 block given the
// blocks already recorded in the store.
func PeeringBlock(used []string) (string, error) {
	inUse := make(map[string]bool, len(used))
	for _, block := range used {
		inUse[block] = true
	}

	for k := 0; k < peeringBlockMax; k++ {
		block := fmt.Sprintf(peeringBlockFormat, k)
		if !inUse[block] {
			return block, nil
		}
	}
	return "", errdefs.Validation("peering address pool exhausted (%d blocks in use)", len(used))
}

// PrefixLen returns the prefix length of the CIDR.
func PrefixLen(cidr string) (int, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return 0, errdefs.Validation("parse CIDR %q: %v", cidr, err)
	}
	ones, _ := ipNet.Mask.Size()
	return ones, nil
}

// Normalize parses and canonicalizes a CIDR (masking host bits).
func Normalize(cidr string) (string, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", errdefs.Validation("parse CIDR %q: %v", cidr, err)
	}
	if ipNet.IP.To4() == nil {
		return "", errdefs.Validation("only IPv4 CIDRs are supported, got %q", cidr)
	}
	return ipNet.String(), nil
}

// Contains reports whether inner is fully contained in outer.
func Contains(outer, inner string) (bool, error) {
	_, outerNet, err := net.ParseCIDR(outer)
	if err != nil {
		return false, errdefs.Validation("parse CIDR %q: %v", outer, err)
	}
	_, innerNet, err := net.ParseCIDR(inner)
	if err != nil {
		return false, errdefs.Validation("parse CIDR %q: %v", inner, err)
	}

	outerOnes, _ := outerNet.Mask.Size()
	innerOnes, _ := innerNet.Mask.Size()
	return outerNet.Contains(innerNet.IP) && innerOnes >= outerOnes, nil
}

// Overlaps reports whether two CIDRs share any address.
func Overlaps(a, b string) (bool, error) {
	_, aNet, err := net.ParseCIDR(a)
	if err != nil {
		return false, errdefs.Validation("parse CIDR %q: %v", a, err)
	}
	_, bNet, err := net.ParseCIDR(b)
	if err != nil {
		return false, errdefs.Validation("parse CIDR %q: %v", b, err)
	}
	return aNet.Contains(bNet.IP) || bNet.Contains(aNet.IP), nil
}

// hostAt returns the address at the given offset from the network address.
func hostAt(cidr string, offset int64) (net.IP, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, errdefs.Validation("parse CIDR %q: %v", cidr, err)
	}

	ip4 := ipNet.IP.To4()
	if ip4 == nil {
		return nil, errdefs.Validation("only IPv4 CIDRs are supported, got %q", cidr)
	}

	ones, bits := ipNet.Mask.Size()
	hostBits := bits - ones
	total := new(big.Int).Lsh(big.NewInt(1), uint(hostBits))
	if big.NewInt(offset).Cmp(new(big.Int).Sub(total, big.NewInt(1))) >= 0 {
		return nil, errdefs.Validation("CIDR %q has no usable address at offset %d", cidr, offset)
	}

	n := new(big.Int).SetBytes(ip4)
	n.Add(n, big.NewInt(offset))

	raw := n.Bytes()
	ip := make(net.IP, 4)
	copy(ip[4-len(raw):], raw)
	return ip, nil
}
