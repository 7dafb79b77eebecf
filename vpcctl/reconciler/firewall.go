package reconciler

import (
	"context"
	"log/slog"

	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
	"github.com/mulgadc/vpcctl/vpcctl/firewall"
	"github.com/mulgadc/vpcctl/vpcctl/ipam"
	"github.com/mulgadc/vpcctl/vpcctl/store"
)

// ApplyFirewall replaces the filter rules for one subnet with the compiled
// form of the policy. Last write wins: rules previously tagged for the
// (VPC, subnet) pair are removed first; operator-installed rules are left
// alone.
func (r *Reconciler) ApplyFirewall(ctx context.Context, vpcName, subnetName string, policy *store.Policy) error {
	if err := firewall.Validate(policy); err != nil {
		return err
	}

	record, err := r.store.Load(vpcName)
	if err != nil {
		return err
	}
	subnet := record.Subnet(subnetName)
	if subnet == nil {
		return errdefs.NotFound("subnet %q not found in VPC %q", subnetName, vpcName)
	}

	policyCIDR, err := ipam.Normalize(policy.Subnet)
	if err != nil {
		return err
	}
	if policyCIDR != subnet.CIDR {
		return errdefs.Validation("policy subnet %s does not match subnet %q (%s)", policy.Subnet, subnetName, subnet.CIDR)
	}

	tag := firewall.Tag(vpcName, subnetName)
	rules := firewall.Compile(vpcName, subnetName, subnet.CIDR, policy)

	// On rollback the previously applied policy is reinstated so a failed
	// apply does not leave the subnet half-filtered.
	previous, hadPrevious := record.Policies[subnetName]

	steps := []step{
		{
			desc: "clear rules tagged " + tag,
			do:   func() error { return r.drv.RemoveFilterRules(tag) },
			undo: func() error {
				if !hadPrevious {
					return nil
				}
				for _, rule := range firewall.Compile(vpcName, subnetName, subnet.CIDR, &previous) {
					if err := r.drv.AddFilterRule(rule); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}

	for _, rule := range rules {
		rule := rule
		steps = append(steps, step{
			desc: "install " + rule.String(),
			do:   func() error { return r.drv.AddFilterRule(rule) },
			undo: func() error { return r.drv.RemoveFilterRules(tag) },
		})
	}

	if err := r.run(ctx, "apply-firewall "+vpcName+"/"+subnetName, steps); err != nil {
		return err
	}

	if record.Policies == nil {
		record.Policies = make(map[string]store.Policy)
	}
	record.Policies[subnetName] = *policy
	if err := r.store.Save(record); err != nil {
		return err
	}

	slog.Info("Firewall policy applied",
		"vpc", vpcName,
		"subnet", subnetName,
		"ingress", len(policy.Ingress),
		"egress", len(policy.Egress),
	)
	return nil
}
