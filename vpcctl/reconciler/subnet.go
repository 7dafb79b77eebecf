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

// CreateSubnet realizes a subnet: namespace, veth pair to the VPC bridge,
// addressing, default route, and source-NAT for public subnets. Re-running
// with identical arguments is a no-op.
func (r *Reconciler) CreateSubnet(ctx context.Context, vpcName, name, cidr, subnetType string) error {
	if err := ipam.CheckSubnetName(vpcName, name); err != nil {
		return err
	}
	if subnetType != store.SubnetPublic && subnetType != store.SubnetPrivate {
		return errdefs.Validation("unknown subnet type %q (want public or private)", subnetType)
	}

	record, err := r.store.Load(vpcName)
	if err != nil {
		return err
	}

	cidr, err = ipam.Normalize(cidr)
	if err != nil {
		return err
	}

	if existing := record.Subnet(name); existing != nil {
		if existing.CIDR == cidr && existing.Type == subnetType {
			slog.Info("Subnet already exists with identical parameters, nothing to do", "vpc", vpcName, "subnet", name)
			return nil
		}
		return errdefs.Conflict("subnet %q already exists in VPC %q with CIDR %s", name, vpcName, existing.CIDR)
	}

	contained, err := ipam.Contains(record.CIDR, cidr)
	if err != nil {
		return err
	}
	vpcPrefix, _ := ipam.PrefixLen(record.CIDR)
	subnetPrefix, err := ipam.PrefixLen(cidr)
	if err != nil {
		return err
	}
	if !contained || subnetPrefix <= vpcPrefix {
		return errdefs.Validation("subnet CIDR %s is not a proper subset of VPC CIDR %s", cidr, record.CIDR)
	}
	for _, sibling := range record.Subnets {
		overlaps, err := ipam.Overlaps(sibling.CIDR, cidr)
		if err != nil {
			return err
		}
		if overlaps {
			return errdefs.Validation("subnet CIDR %s overlaps sibling %q (%s)", cidr, sibling.Name, sibling.CIDR)
		}
	}

	gateway, err := ipam.Gateway(cidr)
	if err != nil {
		return err
	}
	endpoint, err := ipam.Endpoint(cidr)
	if err != nil {
		return err
	}

	ns := ipam.NamespaceName(vpcName, name)
	vethHost, vethNs := ipam.VethNames(vpcName, name)
	gatewayAddr := fmt.Sprintf("%s/%d", gateway, subnetPrefix)
	endpointAddr := fmt.Sprintf("%s/%d", endpoint, subnetPrefix)

	// Peered VPCs reach this namespace too, so it needs their routes from
	// the start.
	peers, err := r.store.ForEachPeered(vpcName)
	if err != nil {
		return err
	}

	steps := []step{
		{
			desc: "create namespace " + ns,
			do:   func() error { return r.drv.CreateNamespace(ns) },
			undo: func() error { return r.drv.DeleteNamespace(ns) },
		},
		{
			desc: "bring up loopback in " + ns,
			do:   func() error { return r.drv.NamespaceLinkUp(ns, "lo") },
		},
		{
			desc: "create veth pair " + vethHost,
			do:   func() error { return r.drv.CreateVethPair(vethHost, vethNs) },
			undo: func() error { return r.drv.DeleteLink(vethHost) },
		},
		{
			desc: "attach " + vethHost + " to " + record.Bridge,
			do:   func() error { return r.drv.AttachToBridge(vethHost, record.Bridge) },
		},
		{
			desc: "bring up " + vethHost,
			do:   func() error { return r.drv.LinkUp(vethHost) },
		},
		{
			desc: "move " + vethNs + " into " + ns,
			do:   func() error { return r.drv.MoveToNamespace(vethNs, ns, "eth0") },
		},
		{
			desc: "assign subnet gateway " + gatewayAddr,
			do:   func() error { return r.drv.AssignAddress(record.Bridge, gatewayAddr) },
			undo: func() error { return r.drv.RemoveAddress(record.Bridge, gatewayAddr) },
		},
		{
			desc: "assign endpoint " + endpointAddr,
			do:   func() error { return r.drv.NamespaceAssignAddress(ns, "eth0", endpointAddr) },
		},
		{
			desc: "bring up eth0 in " + ns,
			do:   func() error { return r.drv.NamespaceLinkUp(ns, "eth0") },
		},
		{
			desc: "default route via " + gateway.String(),
			do:   func() error { return r.drv.NamespaceAddRoute(ns, "default", gateway.String()) },
		},
	}

	routes := []store.Route{{Destination: "default", Via: gateway.String()}}
	for _, peer := range peers {
		peerCIDR := peer.CIDR
		steps = append(steps, step{
			desc: "peering route " + peerCIDR,
			do:   func() error { return r.drv.NamespaceAddRoute(ns, peerCIDR, gateway.String()) },
		})
		routes = append(routes, store.Route{Destination: peerCIDR, Via: gateway.String()})
	}

	if subnetType == store.SubnetPublic {
		egress, err := r.defaultEgress()
		if err != nil {
			return err
		}
		subnetCIDR := cidr
		steps = append(steps, step{
			desc: "masquerade " + subnetCIDR + " out " + egress,
			do:   func() error { return r.drv.AddMasquerade(subnetCIDR, egress) },
			undo: func() error { return r.drv.RemoveMasquerade(subnetCIDR, egress) },
		})
	}

	if err := r.run(ctx, "create-subnet "+vpcName+"/"+name, steps); err != nil {
		return err
	}

	record.Subnets = append(record.Subnets, store.Subnet{
		Name:      name,
		CIDR:      cidr,
		Type:      subnetType,
		Gateway:   gateway.String(),
		Endpoint:  endpoint.String(),
		Namespace: ns,
		VethHost:  vethHost,
		VethNs:    vethNs,
		Routes:    routes,
	})
	if err := r.store.Save(record); err != nil {
		return err
	}

	slog.Info("Subnet created",
		"vpc", vpcName,
		"subnet", name,
		"cidr", cidr,
		"type", subnetType,
		"namespace", ns,
		"endpoint", endpoint.String(),
	)
	return nil
}

// DeleteSubnet removes a subnet and its kernel objects. Missing VPCs and
// subnets are not errors; partial kernel state from a crashed create is
// cleaned up by the same convergent steps.
func (r *Reconciler) DeleteSubnet(ctx context.Context, vpcName, name string) error {
	record, err := r.store.Load(vpcName)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			slog.Info("VPC already absent, nothing to do", "vpc", vpcName)
			return nil
		}
		return err
	}

	subnet := record.Subnet(name)
	if subnet == nil {
		// The record may be gone while kernel leftovers remain from a
		// crashed create; converge those too.
		return r.scrubSubnetLeftovers(record, name)
	}

	if err := ctx.Err(); err != nil {
		return errdefs.Driver(err, "delete-subnet %s/%s aborted", vpcName, name)
	}
	if err := r.teardownSubnet(record, subnet); err != nil {
		return err
	}

	record.RemoveSubnet(name)
	delete(record.Policies, name)
	if err := r.store.Save(record); err != nil {
		return err
	}

	slog.Info("Subnet deleted", "vpc", vpcName, "subnet", name)
	return nil
}

// teardownSubnet performs the reverse of the create-subnet plan against
// the live kernel. Steps are convergent, so re-running after a partial
// failure finishes the job.
func (r *Reconciler) teardownSubnet(record *store.VPC, subnet *store.Subnet) error {
	if subnet.Type == store.SubnetPublic {
		egress, err := r.defaultEgress()
		if err != nil {
			return err
		}
		if err := r.drv.RemoveMasquerade(subnet.CIDR, egress); err != nil {
			return err
		}
	}

	if err := r.drv.RemoveFilterRules(firewall.Tag(record.Name, subnet.Name)); err != nil {
		return err
	}

	// The namespace takes its veth half and routes with it.
	if err := r.drv.DeleteNamespace(subnet.Namespace); err != nil {
		return err
	}
	if err := r.drv.DeleteLink(subnet.VethHost); err != nil {
		return err
	}

	prefix, err := ipam.PrefixLen(subnet.CIDR)
	if err != nil {
		return err
	}
	gatewayAddr := fmt.Sprintf("%s/%d", subnet.Gateway, prefix)
	return r.drv.RemoveAddress(record.Bridge, gatewayAddr)
}

// scrubSubnetLeftovers converges kernel state for a subnet the store no
// longer records (crash between namespace creation and persist).
func (r *Reconciler) scrubSubnetLeftovers(record *store.VPC, name string) error {
	ns := ipam.NamespaceName(record.Name, name)
	vethHost, _ := ipam.VethNames(record.Name, name)

	if err := r.drv.RemoveFilterRules(firewall.Tag(record.Name, name)); err != nil {
		return err
	}
	if err := r.drv.DeleteNamespace(ns); err != nil {
		return err
	}
	if err := r.drv.DeleteLink(vethHost); err != nil {
		return err
	}

	slog.Info("Converged leftover subnet state", "vpc", record.Name, "subnet", name, "namespace", ns)
	return nil
}
