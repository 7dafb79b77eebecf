package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
	"github.com/mulgadc/vpcctl/vpcctl/firewall"
	"github.com/mulgadc/vpcctl/vpcctl/ipam"
	"github.com/mulgadc/vpcctl/vpcctl/store"
)

// VPC CIDRs must leave room for subnets.
const maxVPCPrefix = 24

// CreateVPC realizes a new VPC: IP forwarding, bridge, gateway address,
// persisted record. Re-running with identical arguments is a no-op.
func (r *Reconciler) CreateVPC(ctx context.Context, name, cidr string) error {
	if err := ipam.CheckVPCName(name); err != nil {
		return err
	}

	cidr, err := ipam.Normalize(cidr)
	if err != nil {
		return err
	}
	prefix, err := ipam.PrefixLen(cidr)
	if err != nil {
		return err
	}
	if prefix > maxVPCPrefix {
		return errdefs.Validation("VPC CIDR %s too small: prefix must be /%d or larger to leave room for subnets", cidr, maxVPCPrefix)
	}

	existing, err := r.store.List()
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.Name == name {
			if other.CIDR == cidr {
				slog.Info("VPC already exists with identical CIDR, nothing to do", "vpc", name, "cidr", cidr)
				return nil
			}
			return errdefs.Conflict("VPC %q already exists with CIDR %s", name, other.CIDR)
		}
		overlaps, err := ipam.Overlaps(other.CIDR, cidr)
		if err != nil {
			return err
		}
		if overlaps {
			return errdefs.Validation("CIDR %s overlaps VPC %q (%s)", cidr, other.Name, other.CIDR)
		}
	}

	gateway, err := ipam.Gateway(cidr)
	if err != nil {
		return err
	}
	bridge := ipam.BridgeName(name)
	gatewayAddr := fmt.Sprintf("%s/%d", gateway, prefix)

	steps := []step{
		{
			desc: "enable IP forwarding",
			do:   r.drv.EnableIPForwarding,
		},
		{
			desc: "create bridge " + bridge,
			do:   func() error { return r.drv.EnsureBridge(bridge) },
			undo: func() error { return r.drv.DeleteBridge(bridge) },
		},
		{
			desc: "bring up bridge " + bridge,
			do:   func() error { return r.drv.LinkUp(bridge) },
		},
		{
			desc: "assign gateway " + gatewayAddr,
			do:   func() error { return r.drv.AssignAddress(bridge, gatewayAddr) },
			undo: func() error { return r.drv.RemoveAddress(bridge, gatewayAddr) },
		},
	}

	if err := r.run(ctx, "create-vpc "+name, steps); err != nil {
		return err
	}

	record := &store.VPC{
		Name:    name,
		CIDR:    cidr,
		Gateway: gateway.String(),
		Bridge:  bridge,
	}
	if err := r.store.Save(record); err != nil {
		return err
	}

	slog.Info("VPC created", "vpc", name, "cidr", cidr, "bridge", bridge, "gateway", gateway.String())
	return nil
}

// DeleteVPC tears down a VPC and everything it owns: subnets, peerings
// (including the partner's record and routes), the bridge and the stored
// document. A missing VPC is not an error.
func (r *Reconciler) DeleteVPC(ctx context.Context, name string) error {
	record, err := r.store.Load(name)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			slog.Info("VPC already absent, nothing to do", "vpc", name)
			return nil
		}
		return err
	}

	// Cascade: subnets first, so no namespace outlives its bridge.
	for i := range record.Subnets {
		if err := ctx.Err(); err != nil {
			return errdefs.Driver(err, "delete-vpc %s aborted", name)
		}
		if err := r.teardownSubnet(record, &record.Subnets[i]); err != nil {
			return err
		}
	}

	// Peerings: tear down the link and scrub the partner's record.
	for _, peering := range record.Peerings {
		if err := ctx.Err(); err != nil {
			return errdefs.Driver(err, "delete-vpc %s aborted", name)
		}
		if err := r.teardownPeering(record, peering); err != nil {
			return err
		}
	}

	if err := r.drv.DeleteBridge(record.Bridge); err != nil {
		return err
	}
	if err := r.store.Delete(name); err != nil {
		return err
	}

	slog.Info("VPC deleted", "vpc", name)
	return nil
}

// teardownPeering removes one peering's kernel objects and rewrites the
// partner record. Tolerates a partner record that is already gone or that
// never recorded its copy (unilateral state after a crash).
func (r *Reconciler) teardownPeering(record *store.VPC, peering store.Peering) error {
	// Deleting one veth end removes the pair.
	if err := r.drv.DeleteLink(peering.VethLocal); err != nil {
		return err
	}
	if err := r.drv.RemoveFilterRules(firewall.PeeringTag(record.Name, peering.Peer)); err != nil {
		return err
	}

	blockPrefix := 30
	localAddr := fmt.Sprintf("%s/%d", peering.LocalEndpoint, blockPrefix)
	if err := r.drv.RemoveAddress(record.Bridge, localAddr); err != nil {
		return err
	}

	partner, err := r.store.Load(peering.Peer)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			slog.Warn("Peering partner record missing during teardown", "vpc", record.Name, "peer", peering.Peer)
			return nil
		}
		return err
	}

	remoteAddr := fmt.Sprintf("%s/%d", peering.RemoteEndpoint, blockPrefix)
	if err := r.drv.RemoveAddress(partner.Bridge, remoteAddr); err != nil {
		return err
	}

	// Partner namespaces must lose their routes toward this VPC.
	for i := range partner.Subnets {
		subnet := &partner.Subnets[i]
		if err := r.drv.NamespaceRemoveRoute(subnet.Namespace, record.CIDR); err != nil {
			return err
		}
		dropRecordedRoute(subnet, record.CIDR)
	}
	partner.RemovePeering(record.Name)

	return r.store.Save(partner)
}

// dropRecordedRoute removes the route toward destination from the
// subnet's recorded route list.
func dropRecordedRoute(subnet *store.Subnet, destination string) {
	for i := range subnet.Routes {
		if subnet.Routes[i].Destination == destination {
			subnet.Routes = append(subnet.Routes[:i], subnet.Routes[i+1:]...)
			return
		}
	}
}
