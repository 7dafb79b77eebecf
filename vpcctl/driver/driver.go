// Package driver abstracts host kernel networking mutations behind narrow,
// verb-level primitives. The live implementation shells out to ip and
// iptables; tests use an in-memory mock. Primitives converge: "already
// exists" and "does not exist" outcomes from the underlying tools are
// folded into success for create and delete respectively.
package driver

import "fmt"

// Filter rule actions at the host forward hook.
const (
	ActionAccept = "ACCEPT"
	ActionDrop   = "DROP"
)

// FilterRule is one packet-filter entry at the host forwarding hook.
// Rules are tagged so a later invocation can remove them in bulk without
// disturbing operator-installed rules.
type FilterRule struct {
	Tag      string
	SrcCIDR  string
	DstCIDR  string
	Protocol string // "tcp", "udp" or empty for any
	Port     int    // destination port for ingress, source port unused; 0 for any
	Action   string // ActionAccept or ActionDrop
}

func (r FilterRule) String() string {
	return fmt.Sprintf("%s src=%s dst=%s proto=%s port=%d tag=%s", r.Action, r.SrcCIDR, r.DstCIDR, r.Protocol, r.Port, r.Tag)
}

// Driver is the kernel-networking abstraction. All host side effects flow
// through it; one call is in flight at a time.
type Driver interface {
	// Bridges.
	EnsureBridge(name string) error
	DeleteBridge(name string) error
	LinkUp(name string) error
	AssignAddress(link, addrCIDR string) error
	RemoveAddress(link, addrCIDR string) error
	DeleteLink(name string) error

	// Namespaces.
	CreateNamespace(name string) error
	DeleteNamespace(name string) error
	ListNamespaces() ([]string, error)

	// Veth plumbing.
	CreateVethPair(a, b string) error
	AttachToBridge(link, bridge string) error
	MoveToNamespace(link, ns, newName string) error
	NamespaceLinkUp(ns, link string) error
	NamespaceAssignAddress(ns, link, addrCIDR string) error

	// In-namespace routing. Destination is a CIDR or "default".
	NamespaceAddRoute(ns, destination, via string) error
	NamespaceRemoveRoute(ns, destination string) error
	NamespaceRoutes(ns string) ([]string, error)

	// Host-wide concerns.
	EnableIPForwarding() error
	DefaultEgressInterface() (string, error)
	AddMasquerade(sourceCIDR, egressIface string) error
	RemoveMasquerade(sourceCIDR, egressIface string) error
	AddFilterRule(rule FilterRule) error
	RemoveFilterRules(tag string) error

	// ExecInNamespace starts argv detached inside the namespace. Used only
	// by the workload deployer.
	ExecInNamespace(ns string, argv []string) error
}

// AuditSink receives one entry per driver primitive that mutated (or
// converged on) kernel state.
type AuditSink interface {
	Primitive(name string, detail string)
}
