package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Ensure MockDriver implements Driver.
var _ Driver = (*MockDriver)(nil)

type mockLink struct {
	name   string
	bridge bool
	up     bool
	master string
	ns     string // "" means host
	peer   string // veth peer, if any
	addrs  []string
}

// MockDriver implements Driver with an in-memory model of the kernel
// networking state, for tests. It mirrors the convergence semantics of the
// live driver: creating an existing object and deleting a missing one both
// succeed.
type MockDriver struct {
	mu sync.Mutex

	links      map[string]*mockLink
	namespaces map[string]bool
	routes     map[string]map[string]string // ns -> destination -> via
	masq       map[string]string            // source CIDR -> egress iface
	filters    []FilterRule
	forwarding bool
	executed   map[string][][]string // ns -> argv list

	// EgressIface is returned by DefaultEgressInterface.
	EgressIface string

	// FailOn injects an error for a primitive name ("create-namespace") or
	// a primitive:detail pair ("create-namespace:ns-v-a").
	FailOn map[string]error

	// Journal records every primitive in call order.
	Journal []string
}

// nsKey qualifies link names by namespace; eth0 exists once per namespace.
func nsKey(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "/" + name
}

// NewMockDriver creates an empty mock kernel.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		links:       make(map[string]*mockLink),
		namespaces:  make(map[string]bool),
		routes:      make(map[string]map[string]string),
		masq:        make(map[string]string),
		executed:    make(map[string][][]string),
		EgressIface: "eth0",
		FailOn:      make(map[string]error),
	}
}

func (m *MockDriver) record(primitive, detail string) error {
	m.Journal = append(m.Journal, primitive+" "+detail)
	if err, ok := m.FailOn[primitive+":"+detail]; ok {
		return err
	}
	if err, ok := m.FailOn[primitive]; ok {
		return err
	}
	return nil
}

// --- Bridges and links ---

func (m *MockDriver) EnsureBridge(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("create-bridge", name); err != nil {
		return err
	}
	if _, exists := m.links[name]; !exists {
		m.links[name] = &mockLink{name: name, bridge: true}
	}
	return nil
}

func (m *MockDriver) DeleteBridge(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("delete-bridge", name); err != nil {
		return err
	}
	m.deleteLinkLocked(name)
	return nil
}

func (m *MockDriver) LinkUp(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("link-up", name); err != nil {
		return err
	}
	link, ok := m.links[name]
	if !ok {
		return fmt.Errorf("link %q not found", name)
	}
	link.up = true
	return nil
}

func (m *MockDriver) AssignAddress(link, addrCIDR string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("assign-address", addrCIDR+" on "+link); err != nil {
		return err
	}
	l, ok := m.links[link]
	if !ok {
		return fmt.Errorf("link %q not found", link)
	}
	for _, a := range l.addrs {
		if a == addrCIDR {
			return nil // converged
		}
	}
	l.addrs = append(l.addrs, addrCIDR)
	return nil
}

func (m *MockDriver) RemoveAddress(link, addrCIDR string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("remove-address", addrCIDR+" on "+link); err != nil {
		return err
	}
	l, ok := m.links[link]
	if !ok {
		return nil // converged
	}
	for i, a := range l.addrs {
		if a == addrCIDR {
			l.addrs = append(l.addrs[:i], l.addrs[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MockDriver) DeleteLink(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("delete-link", name); err != nil {
		return err
	}
	m.deleteLinkLocked(name)
	return nil
}

// deleteLinkLocked removes a link and, for veths, its peer.
func (m *MockDriver) deleteLinkLocked(name string) {
	link, ok := m.links[name]
	if !ok {
		return
	}
	delete(m.links, name)
	if link.peer != "" {
		delete(m.links, link.peer)
	}
}

// --- Namespaces ---

func (m *MockDriver) CreateNamespace(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("create-namespace", name); err != nil {
		return err
	}
	m.namespaces[name] = true
	if m.routes[name] == nil {
		m.routes[name] = make(map[string]string)
	}
	return nil
}

func (m *MockDriver) DeleteNamespace(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("delete-namespace", name); err != nil {
		return err
	}
	delete(m.namespaces, name)
	delete(m.routes, name)
	// Links inside the namespace vanish with it, taking veth peers along.
	for key, link := range m.links {
		if link.ns == name {
			delete(m.links, key)
			if link.peer != "" {
				delete(m.links, link.peer)
			}
		}
	}
	return nil
}

func (m *MockDriver) ListNamespaces() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// --- Veth plumbing ---

func (m *MockDriver) CreateVethPair(a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("create-veth", a+"<->"+b); err != nil {
		return err
	}
	if _, exists := m.links[a]; exists {
		return nil // converged
	}
	m.links[a] = &mockLink{name: a, peer: b}
	m.links[b] = &mockLink{name: b, peer: a}
	return nil
}

func (m *MockDriver) AttachToBridge(link, bridge string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("attach-bridge", link+" to "+bridge); err != nil {
		return err
	}
	l, ok := m.links[link]
	if !ok {
		return fmt.Errorf("link %q not found", link)
	}
	br, ok := m.links[bridge]
	if !ok || !br.bridge {
		return fmt.Errorf("bridge %q not found", bridge)
	}
	l.master = bridge
	return nil
}

func (m *MockDriver) MoveToNamespace(link, ns, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("move-link", link+" to "+ns); err != nil {
		return err
	}
	l, ok := m.links[link]
	if !ok {
		return fmt.Errorf("link %q not found", link)
	}
	if !m.namespaces[ns] {
		return fmt.Errorf("namespace %q not found", ns)
	}
	delete(m.links, link)
	l.ns = ns
	if newName != "" {
		l.name = newName
	}
	key := nsKey(ns, l.name)
	m.links[key] = l
	if peer, ok := m.links[l.peer]; ok {
		peer.peer = key
	}
	return nil
}

func (m *MockDriver) NamespaceLinkUp(ns, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ns-link-up", link+" in "+ns); err != nil {
		return err
	}
	if !m.namespaces[ns] {
		return fmt.Errorf("namespace %q not found", ns)
	}
	if link == "lo" {
		return nil // loopback always present
	}
	l, ok := m.links[nsKey(ns, link)]
	if !ok || l.ns != ns {
		return fmt.Errorf("link %q not found in %q", link, ns)
	}
	l.up = true
	return nil
}

func (m *MockDriver) NamespaceAssignAddress(ns, link, addrCIDR string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ns-assign-address", addrCIDR+" on "+link+" in "+ns); err != nil {
		return err
	}
	l, ok := m.links[nsKey(ns, link)]
	if !ok || l.ns != ns {
		return fmt.Errorf("link %q not found in %q", link, ns)
	}
	for _, a := range l.addrs {
		if a == addrCIDR {
			return nil
		}
	}
	l.addrs = append(l.addrs, addrCIDR)
	return nil
}

// --- In-namespace routing ---

func (m *MockDriver) NamespaceAddRoute(ns, destination, via string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ns-add-route", destination+" via "+via+" in "+ns); err != nil {
		return err
	}
	if !m.namespaces[ns] {
		return fmt.Errorf("namespace %q not found", ns)
	}
	m.routes[ns][destination] = via
	return nil
}

func (m *MockDriver) NamespaceRemoveRoute(ns, destination string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ns-remove-route", destination+" in "+ns); err != nil {
		return err
	}
	if table, ok := m.routes[ns]; ok {
		delete(table, destination)
	}
	return nil
}

func (m *MockDriver) NamespaceRoutes(ns string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.routes[ns]
	if !ok {
		return nil, fmt.Errorf("namespace %q not found", ns)
	}
	var destinations []string
	for dest := range table {
		destinations = append(destinations, dest)
	}
	sort.Strings(destinations)
	return destinations, nil
}

// --- Host-wide concerns ---

func (m *MockDriver) EnableIPForwarding() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("enable-forwarding", "ipv4"); err != nil {
		return err
	}
	m.forwarding = true
	return nil
}

func (m *MockDriver) DefaultEgressInterface() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("default-egress", m.EgressIface); err != nil {
		return "", err
	}
	return m.EgressIface, nil
}

func (m *MockDriver) AddMasquerade(sourceCIDR, egressIface string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("add-masquerade", sourceCIDR+" out "+egressIface); err != nil {
		return err
	}
	m.masq[sourceCIDR] = egressIface
	return nil
}

func (m *MockDriver) RemoveMasquerade(sourceCIDR, egressIface string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("remove-masquerade", sourceCIDR+" out "+egressIface); err != nil {
		return err
	}
	delete(m.masq, sourceCIDR)
	return nil
}

func (m *MockDriver) AddFilterRule(rule FilterRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("add-filter", rule.String()); err != nil {
		return err
	}
	for _, existing := range m.filters {
		if existing == rule {
			return nil // converged
		}
	}
	m.filters = append(m.filters, rule)
	return nil
}

func (m *MockDriver) RemoveFilterRules(tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("remove-filters", tag); err != nil {
		return err
	}
	kept := m.filters[:0]
	for _, rule := range m.filters {
		if rule.Tag != tag {
			kept = append(kept, rule)
		}
	}
	m.filters = kept
	return nil
}

func (m *MockDriver) ExecInNamespace(ns string, argv []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("exec-in-namespace", ns+": "+strings.Join(argv, " ")); err != nil {
		return err
	}
	if !m.namespaces[ns] {
		return fmt.Errorf("namespace %q not found", ns)
	}
	m.executed[ns] = append(m.executed[ns], argv)
	return nil
}

// --- Test accessors ---

// HasBridge reports whether a bridge exists.
func (m *MockDriver) HasBridge(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[name]
	return ok && link.bridge
}

// HasLink reports whether any link with the name exists (host or namespace).
func (m *MockDriver) HasLink(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[name]
	return ok
}

// HasNamespace reports whether the namespace exists.
func (m *MockDriver) HasNamespace(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.namespaces[name]
}

// LinkAddresses returns the addresses on a link.
func (m *MockDriver) LinkAddresses(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.links[name]; ok {
		return append([]string(nil), link.addrs...)
	}
	return nil
}

// HasNamespaceLink reports whether a link exists inside a namespace.
func (m *MockDriver) HasNamespaceLink(ns, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[nsKey(ns, name)]
	return ok
}

// NamespaceLinkAddresses returns the addresses on a link in a namespace.
func (m *MockDriver) NamespaceLinkAddresses(ns, name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.links[nsKey(ns, name)]; ok {
		return append([]string(nil), link.addrs...)
	}
	return nil
}

// RouteVia returns the next hop for a destination in a namespace, or "".
func (m *MockDriver) RouteVia(ns, destination string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if table, ok := m.routes[ns]; ok {
		return table[destination]
	}
	return ""
}

// Masquerades returns the installed source-NAT rules (CIDR -> iface).
func (m *MockDriver) Masquerades() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.masq))
	for k, v := range m.masq {
		out[k] = v
	}
	return out
}

// FilterRules returns the installed filter rules in order.
func (m *MockDriver) FilterRules() []FilterRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FilterRule(nil), m.filters...)
}

// Forwarding reports whether IP forwarding was enabled.
func (m *MockDriver) Forwarding() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forwarding
}

// Executed returns the argv lists started in a namespace.
func (m *MockDriver) Executed(ns string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.executed[ns]...)
}
