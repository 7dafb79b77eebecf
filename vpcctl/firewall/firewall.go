// Package firewall parses declarative policy documents and compiles them
// into ordered packet-filter rules at the host forward hook. Rules are
// tagged per (VPC, subnet) so a later apply can replace exactly the rules
// this tool installed, leaving operator rules untouched.
package firewall

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mulgadc/vpcctl/vpcctl/driver"
	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
	"github.com/mulgadc/vpcctl/vpcctl/store"
)

// Actions accepted in policy documents.
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// Tag returns the filter-rule tag for a (VPC, subnet) pair.
func Tag(vpc, subnet string) string {
	return fmt.Sprintf("vpcctl:%s:%s", vpc, subnet)
}

// PeeringTag returns the filter-rule tag for a peering, ordered pair.
func PeeringTag(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("vpcctl:peer:%s:%s", a, b)
}

// Load reads and validates a policy document from disk.
func Load(path string) (*store.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Validation("read policy %s: %v", path, err)
	}

	var policy store.Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, errdefs.Validation("parse policy %s: %v", path, err)
	}

	if err := Validate(&policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Validate checks every rule in the policy. Ingress rules need a port and
// protocol; egress rules may omit the port, or both port and protocol, to
// match all traffic. A port without a protocol is rejected.
func Validate(policy *store.Policy) error {
	if policy.Subnet == "" {
		return errdefs.Validation("policy missing subnet CIDR")
	}
	for i, rule := range policy.Ingress {
		if err := checkRule(rule, true); err != nil {
			return errdefs.Validation("ingress rule %d: %v", i, err)
		}
	}
	for i, rule := range policy.Egress {
		if err := checkRule(rule, false); err != nil {
			return errdefs.Validation("egress rule %d: %v", i, err)
		}
	}
	return nil
}

func checkRule(rule store.Rule, requirePort bool) error {
	switch rule.Action {
	case ActionAllow, ActionDeny:
	default:
		return fmt.Errorf("unknown action %q", rule.Action)
	}

	switch rule.Protocol {
	case "tcp", "udp":
	case "":
		if requirePort {
			return fmt.Errorf("missing protocol")
		}
	default:
		return fmt.Errorf("unknown protocol %q", rule.Protocol)
	}

	if requirePort && rule.Port == 0 {
		return fmt.Errorf("missing port")
	}
	if rule.Port < 0 || rule.Port > 65535 {
		return fmt.Errorf("port %d out of range", rule.Port)
	}
	if rule.Port != 0 && rule.Protocol == "" {
		return fmt.Errorf("port without protocol")
	}
	return nil
}

// Compile translates a validated policy into the ordered filter rules to
// install for the subnet. Ingress rules scope destination = subnet CIDR;
// egress rules scope source = subnet CIDR. A default DROP closes each
// direction that has at least one rule; a direction with no rules is left
// open (behavior unchanged).
func Compile(vpc, subnet, subnetCIDR string, policy *store.Policy) []driver.FilterRule {
	tag := Tag(vpc, subnet)
	var rules []driver.FilterRule

	for _, rule := range policy.Ingress {
		rules = append(rules, driver.FilterRule{
			Tag:      tag,
			DstCIDR:  subnetCIDR,
			Protocol: rule.Protocol,
			Port:     rule.Port,
			Action:   compileAction(rule.Action),
		})
	}
	if len(policy.Ingress) > 0 {
		rules = append(rules, driver.FilterRule{
			Tag:     tag,
			DstCIDR: subnetCIDR,
			Action:  driver.ActionDrop,
		})
	}

	for _, rule := range policy.Egress {
		rules = append(rules, driver.FilterRule{
			Tag:      tag,
			SrcCIDR:  subnetCIDR,
			Protocol: rule.Protocol,
			Port:     rule.Port,
			Action:   compileAction(rule.Action),
		})
	}
	if len(policy.Egress) > 0 {
		rules = append(rules, driver.FilterRule{
			Tag:     tag,
			SrcCIDR: subnetCIDR,
			Action:  driver.ActionDrop,
		})
	}

	return rules
}

func compileAction(action string) string {
	if action == ActionDeny {
		return driver.ActionDrop
	}
	return driver.ActionAccept
}
