package reconciler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mulgadc/vpcctl/vpcctl/driver"
	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
	"github.com/mulgadc/vpcctl/vpcctl/firewall"
	"github.com/mulgadc/vpcctl/vpcctl/ipam"
	"github.com/mulgadc/vpcctl/vpcctl/routing"
	"github.com/mulgadc/vpcctl/vpcctl/store"
)

const peeringPrefix = 30

// Peer connects two VPCs: a veth link between their bridges, /30 transit
// addressing, routes in every namespace of both, and forward-allow rules
// between the two CIDRs. Re-running an established peering is a no-op; a
// unilateral record (crash recovery) is completed, not rejected.
func (r *Reconciler) Peer(ctx context.Context, nameA, nameB string) error {
	if nameA == nameB {
		return errdefs.Validation("cannot peer VPC %q with itself", nameA)
	}
	recA, err := r.store.Load(nameA)
	if err != nil {
		return err
	}
	recB, err := r.store.Load(nameB)
	if err != nil {
		return err
	}
	if err := ipam.CheckPeerNames(nameA, nameB); err != nil {
		return err
	}

	peerA, peerB := recA.Peering(nameB), recB.Peering(nameA)
	if peerA != nil && peerB != nil {
		slog.Info("Peering already established, nothing to do", "vpc1", nameA, "vpc2", nameB)
		return nil
	}

	block, err := r.peeringBlockFor(peerA, peerB)
	if err != nil {
		return err
	}

	epLo, epHi, err := ipam.PeerEndpoints(block)
	if err != nil {
		return err
	}
	vethLo, vethHi := ipam.PeerVethNames(nameA, nameB)

	// The lexicographically smaller VPC owns the "-a" leg and the first
	// endpoint; that keeps the naming contract stable regardless of
	// argument order.
	lo, hi := recA, recB
	if nameA > nameB {
		lo, hi = recB, recA
	}

	addrLo := fmt.Sprintf("%s/%d", epLo, peeringPrefix)
	addrHi := fmt.Sprintf("%s/%d", epHi, peeringPrefix)
	tag := firewall.PeeringTag(nameA, nameB)

	steps := []step{
		{
			desc: "create peering veth " + vethLo,
			do:   func() error { return r.drv.CreateVethPair(vethLo, vethHi) },
			undo: func() error { return r.drv.DeleteLink(vethLo) },
		},
		{
			desc: "attach " + vethLo + " to " + lo.Bridge,
			do:   func() error { return r.drv.AttachToBridge(vethLo, lo.Bridge) },
		},
		{
			desc: "bring up " + vethLo,
			do:   func() error { return r.drv.LinkUp(vethLo) },
		},
		{
			desc: "attach " + vethHi + " to " + hi.Bridge,
			do:   func() error { return r.drv.AttachToBridge(vethHi, hi.Bridge) },
		},
		{
			desc: "bring up " + vethHi,
			do:   func() error { return r.drv.LinkUp(vethHi) },
		},
		{
			desc: "assign " + addrLo + " on " + lo.Bridge,
			do:   func() error { return r.drv.AssignAddress(lo.Bridge, addrLo) },
			undo: func() error { return r.drv.RemoveAddress(lo.Bridge, addrLo) },
		},
		{
			desc: "assign " + addrHi + " on " + hi.Bridge,
			do:   func() error { return r.drv.AssignAddress(hi.Bridge, addrHi) },
			undo: func() error { return r.drv.RemoveAddress(hi.Bridge, addrHi) },
		},
	}

	// The routing planner yields the desired per-namespace route set under
	// the new peering; the diff against the recorded routes becomes
	// add/remove steps.
	peersLo, err := r.peersIncluding(lo, hi)
	if err != nil {
		return err
	}
	peersHi, err := r.peersIncluding(hi, lo)
	if err != nil {
		return err
	}
	desiredLo := routing.Desired(lo, peersLo)
	desiredHi := routing.Desired(hi, peersHi)
	steps = append(steps, r.routeDiffSteps(lo, desiredLo)...)
	steps = append(steps, r.routeDiffSteps(hi, desiredHi)...)

	steps = append(steps, step{
		desc: "forward-allow " + lo.CIDR + " <-> " + hi.CIDR,
		do: func() error {
			if err := r.drv.AddFilterRule(driver.FilterRule{
				Tag: tag, SrcCIDR: lo.CIDR, DstCIDR: hi.CIDR, Action: driver.ActionAccept,
			}); err != nil {
				return err
			}
			return r.drv.AddFilterRule(driver.FilterRule{
				Tag: tag, SrcCIDR: hi.CIDR, DstCIDR: lo.CIDR, Action: driver.ActionAccept,
			})
		},
		undo: func() error { return r.drv.RemoveFilterRules(tag) },
	})

	if err := r.run(ctx, "peer "+nameA+" "+nameB, steps); err != nil {
		return err
	}

	setPeering(lo, hi.Name, block, epLo.String(), epHi.String(), vethLo, vethHi)
	setPeering(hi, lo.Name, block, epHi.String(), epLo.String(), vethHi, vethLo)
	recordRoutes(lo, desiredLo)
	recordRoutes(hi, desiredHi)

	if err := r.store.Save(lo); err != nil {
		return err
	}
	if err := r.store.Save(hi); err != nil {
		return err
	}

	slog.Info("Peering established",
		"vpc1", nameA,
		"vpc2", nameB,
		"block", block,
		"endpoints", epLo.String()+","+epHi.String(),
	)
	return nil
}

// peeringBlockFor reuses a block recorded by a surviving unilateral copy,
// or allocates the lowest unused /30 from the store-wide pool.
func (r *Reconciler) peeringBlockFor(peerA, peerB *store.Peering) (string, error) {
	if peerA != nil {
		return peerA.Block, nil
	}
	if peerB != nil {
		return peerB.Block, nil
	}

	all, err := r.store.List()
	if err != nil {
		return "", err
	}
	var used []string
	for _, record := range all {
		for _, peering := range record.Peerings {
			used = append(used, peering.Block)
		}
	}
	return ipam.PeeringBlock(used)
}

// peersIncluding returns the VPCs peered with record, ensuring extra is
// in the set (it is about to be).
func (r *Reconciler) peersIncluding(record, extra *store.VPC) ([]*store.VPC, error) {
	peers, err := r.store.ForEachPeered(record.Name)
	if err != nil {
		return nil, err
	}
	for _, peer := range peers {
		if peer.Name == extra.Name {
			return peers, nil
		}
	}
	return append(peers, extra), nil
}

// routeDiffSteps turns the planner's desired route set into add/remove
// steps against the routes the store records as installed.
func (r *Reconciler) routeDiffSteps(record *store.VPC, desired map[string][]store.Route) []step {
	var steps []step
	for _, subnet := range record.Subnets {
		ns := subnet.Namespace
		add, remove := routing.Diff(subnet.Routes, desired[ns])
		for _, rt := range remove {
			rt := rt
			steps = append(steps, step{
				desc: "drop route " + rt.Destination + " in " + ns,
				do:   func() error { return r.drv.NamespaceRemoveRoute(ns, rt.Destination) },
				undo: func() error { return r.drv.NamespaceAddRoute(ns, rt.Destination, rt.Via) },
			})
		}
		for _, rt := range add {
			rt := rt
			steps = append(steps, step{
				desc: "route " + rt.Destination + " in " + ns,
				do:   func() error { return r.drv.NamespaceAddRoute(ns, rt.Destination, rt.Via) },
				undo: func() error { return r.drv.NamespaceRemoveRoute(ns, rt.Destination) },
			})
		}
	}
	return steps
}

func setPeering(record *store.VPC, peer, block, localEP, remoteEP, vethLocal, vethRemote string) {
	record.RemovePeering(peer)
	record.Peerings = append(record.Peerings, store.Peering{
		Peer:           peer,
		Block:          block,
		LocalEndpoint:  localEP,
		RemoteEndpoint: remoteEP,
		VethLocal:      vethLocal,
		VethRemote:     vethRemote,
	})
}

func recordRoutes(record *store.VPC, desired map[string][]store.Route) {
	for i := range record.Subnets {
		subnet := &record.Subnets[i]
		subnet.Routes = desired[subnet.Namespace]
	}
}
