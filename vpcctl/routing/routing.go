// Package routing computes the desired per-namespace route set for a VPC
// given its peerings, and diffs it against what the store says is
// installed. Pure functions only; the reconciler turns diffs into driver
// calls.
package routing

import (
	"sort"

	"github.com/mulgadc/vpcctl/vpcctl/store"
)

// Desired returns, for each namespace in the VPC, the route set required
// by the current peerings: the default route via the subnet's own gateway,
// plus one route per peered VPC CIDR via that same gateway (the bridge
// forwards on to the peering leg).
func Desired(vpc *store.VPC, peers []*store.VPC) map[string][]store.Route {
	routes := make(map[string][]store.Route, len(vpc.Subnets))
	for _, subnet := range vpc.Subnets {
		set := []store.Route{{Destination: "default", Via: subnet.Gateway}}
		for _, peer := range peers {
			set = append(set, store.Route{Destination: peer.CIDR, Via: subnet.Gateway})
		}
		sort.Slice(set[1:], func(i, j int) bool {
			return set[i+1].Destination < set[j+1].Destination
		})
		routes[subnet.Namespace] = set
	}
	return routes
}

// Diff returns the routes to add and to remove to move current to desired.
// Routes whose destination matches but whose next hop changed appear in
// both lists (remove then add).
func Diff(current, desired []store.Route) (add, remove []store.Route) {
	currentBy := make(map[string]string, len(current))
	for _, r := range current {
		currentBy[r.Destination] = r.Via
	}
	desiredBy := make(map[string]string, len(desired))
	for _, r := range desired {
		desiredBy[r.Destination] = r.Via
	}

	for _, r := range desired {
		if via, ok := currentBy[r.Destination]; !ok || via != r.Via {
			add = append(add, r)
		}
	}
	for _, r := range current {
		if via, ok := desiredBy[r.Destination]; !ok || via != r.Via {
			remove = append(remove, r)
		}
	}
	return add, remove
}
