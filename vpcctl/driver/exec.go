package driver

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
)

// Ensure ExecDriver implements Driver.
var _ Driver = (*ExecDriver)(nil)

// sudoCommand wraps exec.Command with sudo when running as non-root.
// ip and iptables require elevated privileges; in production vpcctl runs
// as root, but in dev environments it may not.
func sudoCommand(name string, args ...string) *exec.Cmd {
	if os.Getuid() == 0 {
		return exec.Command(name, args...)
	}
	return exec.Command("sudo", append([]string{name}, args...)...)
}

// ExecDriver implements Driver by shelling out to ip and iptables.
type ExecDriver struct {
	// Audit, when set, receives one entry per primitive.
	Audit AuditSink
}

// NewExecDriver creates a live driver. sink may be nil.
func NewExecDriver(sink AuditSink) *ExecDriver {
	return &ExecDriver{Audit: sink}
}

func (d *ExecDriver) audit(name, detail string) {
	if d.Audit != nil {
		d.Audit.Primitive(name, detail)
	}
}

// alreadyExists matches tool output meaning the object is already present.
func alreadyExists(out string) bool {
	return strings.Contains(out, "File exists") ||
		strings.Contains(out, "already exists") ||
		strings.Contains(out, "RTNETLINK answers: File exists")
}

// alreadyAbsent matches tool output meaning the object is already gone.
func alreadyAbsent(out string) bool {
	return strings.Contains(out, "Cannot find device") ||
		strings.Contains(out, "No such file or directory") ||
		strings.Contains(out, "No such process") ||
		strings.Contains(out, "does not exist") ||
		strings.Contains(out, "No such device") ||
		strings.Contains(out, "Bad rule") ||
		strings.Contains(out, "No chain/target/match by that name")
}

// create runs a creation command, converging on "already exists".
func (d *ExecDriver) create(primitive, detail string, name string, args ...string) error {
	out, err := sudoCommand(name, args...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if alreadyExists(text) {
			slog.Debug("Primitive already converged", "primitive", primitive, "detail", detail)
			d.audit(primitive, detail+" (converged)")
			return nil
		}
		return errdefs.Driver(err, "%s %s: %s", primitive, detail, text)
	}
	slog.Info("Primitive applied", "primitive", primitive, "detail", detail)
	d.audit(primitive, detail)
	return nil
}

// remove runs a deletion command, converging on "does not exist".
func (d *ExecDriver) remove(primitive, detail string, name string, args ...string) error {
	out, err := sudoCommand(name, args...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if alreadyAbsent(text) {
			slog.Debug("Primitive already converged", "primitive", primitive, "detail", detail)
			d.audit(primitive, detail+" (converged)")
			return nil
		}
		return errdefs.Driver(err, "%s %s: %s", primitive, detail, text)
	}
	slog.Info("Primitive applied", "primitive", primitive, "detail", detail)
	d.audit(primitive, detail)
	return nil
}

// --- Bridges and links ---

func (d *ExecDriver) EnsureBridge(name string) error {
	return d.create("create-bridge", name, "ip", "link", "add", name, "type", "bridge")
}

func (d *ExecDriver) DeleteBridge(name string) error {
	return d.remove("delete-bridge", name, "ip", "link", "del", name)
}

func (d *ExecDriver) LinkUp(name string) error {
	return d.create("link-up", name, "ip", "link", "set", name, "up")
}

func (d *ExecDriver) AssignAddress(link, addrCIDR string) error {
	return d.create("assign-address", addrCIDR+" on "+link, "ip", "addr", "add", addrCIDR, "dev", link)
}

func (d *ExecDriver) RemoveAddress(link, addrCIDR string) error {
	return d.remove("remove-address", addrCIDR+" on "+link, "ip", "addr", "del", addrCIDR, "dev", link)
}

func (d *ExecDriver) DeleteLink(name string) error {
	return d.remove("delete-link", name, "ip", "link", "del", name)
}

// --- Namespaces ---

func (d *ExecDriver) CreateNamespace(name string) error {
	return d.create("create-namespace", name, "ip", "netns", "add", name)
}

func (d *ExecDriver) DeleteNamespace(name string) error {
	return d.remove("delete-namespace", name, "ip", "netns", "del", name)
}

func (d *ExecDriver) ListNamespaces() ([]string, error) {
	out, err := sudoCommand("ip", "netns", "list").CombinedOutput()
	if err != nil {
		return nil, errdefs.Driver(err, "list namespaces: %s", strings.TrimSpace(string(out)))
	}
	return parseNamespaceList(string(out)), nil
}

// parseNamespaceList extracts names from "ip netns list" output, which
// looks like "ns-v-a (id: 0)".
func parseNamespaceList(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			names = append(names, fields[0])
		}
	}
	return names
}

// --- Veth plumbing ---

func (d *ExecDriver) CreateVethPair(a, b string) error {
	return d.create("create-veth", a+"<->"+b, "ip", "link", "add", a, "type", "veth", "peer", "name", b)
}

func (d *ExecDriver) AttachToBridge(link, bridge string) error {
	return d.create("attach-bridge", link+" to "+bridge, "ip", "link", "set", link, "master", bridge)
}

func (d *ExecDriver) MoveToNamespace(link, ns, newName string) error {
	// A link already moved by a prior crashed attempt is gone from the
	// host side; absence converges, like deletions.
	if err := d.remove("move-link", link+" to "+ns, "ip", "link", "set", link, "netns", ns); err != nil {
		return err
	}
	if newName == "" || newName == link {
		return nil
	}
	return d.remove("rename-link", link+" to "+newName+" in "+ns, "ip", "-n", ns, "link", "set", link, "name", newName)
}

func (d *ExecDriver) NamespaceLinkUp(ns, link string) error {
	return d.create("ns-link-up", link+" in "+ns, "ip", "-n", ns, "link", "set", link, "up")
}

func (d *ExecDriver) NamespaceAssignAddress(ns, link, addrCIDR string) error {
	return d.create("ns-assign-address", addrCIDR+" on "+link+" in "+ns, "ip", "-n", ns, "addr", "add", addrCIDR, "dev", link)
}

// --- In-namespace routing ---

func (d *ExecDriver) NamespaceAddRoute(ns, destination, via string) error {
	// "replace" converges on its own when the route is already present.
	return d.create("ns-add-route", destination+" via "+via+" in "+ns, "ip", "-n", ns, "route", "replace", destination, "via", via)
}

func (d *ExecDriver) NamespaceRemoveRoute(ns, destination string) error {
	return d.remove("ns-remove-route", destination+" in "+ns, "ip", "-n", ns, "route", "del", destination)
}

func (d *ExecDriver) NamespaceRoutes(ns string) ([]string, error) {
	out, err := sudoCommand("ip", "-n", ns, "route", "show").CombinedOutput()
	if err != nil {
		return nil, errdefs.Driver(err, "list routes in %s: %s", ns, strings.TrimSpace(string(out)))
	}
	var destinations []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			destinations = append(destinations, fields[0])
		}
	}
	return destinations, nil
}

// --- Host-wide concerns ---

func (d *ExecDriver) EnableIPForwarding() error {
	const path = "/proc/sys/net/ipv4/ip_forward"
	if err := os.WriteFile(path, []byte("1\n"), 0o644); err != nil {
		// Non-root dev environments cannot write procfs directly.
		out, sysctlErr := sudoCommand("sysctl", "-w", "net.ipv4.ip_forward=1").CombinedOutput()
		if sysctlErr != nil {
			return errdefs.Driver(sysctlErr, "enable IP forwarding: %s", strings.TrimSpace(string(out)))
		}
	}
	slog.Info("Primitive applied", "primitive", "enable-forwarding")
	d.audit("enable-forwarding", "ipv4")
	return nil
}

func (d *ExecDriver) DefaultEgressInterface() (string, error) {
	out, err := sudoCommand("ip", "-o", "-4", "route", "show", "default").CombinedOutput()
	if err != nil {
		return "", errdefs.Driver(err, "read default route: %s", strings.TrimSpace(string(out)))
	}
	iface := parseDefaultRouteDev(string(out))
	if iface == "" {
		return "", errdefs.Driver(nil, "no default route on host")
	}
	return iface, nil
}

// parseDefaultRouteDev extracts the device from "default via X dev Y ..." output.
func parseDefaultRouteDev(out string) string {
	fields := strings.Fields(strings.TrimSpace(out))
	for i, f := range fields {
		if f == "dev" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

func (d *ExecDriver) AddMasquerade(sourceCIDR, egressIface string) error {
	args := masqueradeArgs(sourceCIDR, egressIface)
	// Probe first so re-runs do not stack duplicate rules.
	if err := sudoCommand("iptables", append([]string{"-t", "nat", "-C"}, args...)...).Run(); err == nil {
		slog.Debug("Primitive already converged", "primitive", "add-masquerade", "cidr", sourceCIDR)
		d.audit("add-masquerade", sourceCIDR+" (converged)")
		return nil
	}
	return d.create("add-masquerade", sourceCIDR+" out "+egressIface, "iptables", append([]string{"-t", "nat", "-A"}, args...)...)
}

func (d *ExecDriver) RemoveMasquerade(sourceCIDR, egressIface string) error {
	args := masqueradeArgs(sourceCIDR, egressIface)
	return d.remove("remove-masquerade", sourceCIDR+" out "+egressIface, "iptables", append([]string{"-t", "nat", "-D"}, args...)...)
}

func masqueradeArgs(sourceCIDR, egressIface string) []string {
	return []string{"POSTROUTING", "-s", sourceCIDR, "-o", egressIface, "-j", "MASQUERADE"}
}

func (d *ExecDriver) AddFilterRule(rule FilterRule) error {
	args := filterRuleArgs(rule)
	if err := sudoCommand("iptables", append([]string{"-C"}, args...)...).Run(); err == nil {
		slog.Debug("Primitive already converged", "primitive", "add-filter", "rule", rule.String())
		d.audit("add-filter", rule.String()+" (converged)")
		return nil
	}
	return d.create("add-filter", rule.String(), "iptables", append([]string{"-A"}, args...)...)
}

// filterRuleArgs builds the iptables FORWARD-chain arguments for a rule.
// The tag rides in a comment match so RemoveFilterRules can find it later.
func filterRuleArgs(rule FilterRule) []string {
	args := []string{"FORWARD"}
	if rule.SrcCIDR != "" {
		args = append(args, "-s", rule.SrcCIDR)
	}
	if rule.DstCIDR != "" {
		args = append(args, "-d", rule.DstCIDR)
	}
	if rule.Protocol != "" {
		args = append(args, "-p", rule.Protocol)
		if rule.Port > 0 {
			args = append(args, "--dport", fmt.Sprintf("%d", rule.Port))
		}
	}
	args = append(args, "-m", "comment", "--comment", rule.Tag, "-j", rule.Action)
	return args
}

func (d *ExecDriver) RemoveFilterRules(tag string) error {
	out, err := sudoCommand("iptables", "-S", "FORWARD").CombinedOutput()
	if err != nil {
		return errdefs.Driver(err, "list forward rules: %s", strings.TrimSpace(string(out)))
	}

	removed := 0
	for _, deleteArgs := range taggedRuleDeletions(string(out), tag) {
		if delOut, err := sudoCommand("iptables", deleteArgs...).CombinedOutput(); err != nil {
			text := strings.TrimSpace(string(delOut))
			if !alreadyAbsent(text) {
				return errdefs.Driver(err, "remove filter rule %v: %s", deleteArgs, text)
			}
		}
		removed++
	}

	if removed > 0 {
		slog.Info("Primitive applied", "primitive", "remove-filters", "tag", tag, "rules", removed)
	}
	d.audit("remove-filters", fmt.Sprintf("%s (%d rules)", tag, removed))
	return nil
}

// taggedRuleDeletions converts "iptables -S FORWARD" lines carrying the tag
// comment into "-D" argument vectors.
func taggedRuleDeletions(out, tag string) [][]string {
	var deletions [][]string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "-A" {
			continue
		}
		tagged := false
		for i, f := range fields {
			if f == "--comment" && i+1 < len(fields) && strings.Trim(fields[i+1], `"`) == tag {
				tagged = true
				break
			}
		}
		if tagged {
			deletions = append(deletions, append([]string{"-D"}, fields[1:]...))
		}
	}
	return deletions
}

// --- Workload execution ---

// ExecInNamespace starts argv detached inside the namespace. The child is
// placed in its own session so it survives the CLI exiting.
func (d *ExecDriver) ExecInNamespace(ns string, argv []string) error {
	if len(argv) == 0 {
		return errdefs.Driver(nil, "exec in %s: empty command", ns)
	}

	cmd := sudoCommand("ip", append([]string{"netns", "exec", ns}, argv...)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return errdefs.Driver(err, "exec %v in %s", argv, ns)
	}
	if err := cmd.Process.Release(); err != nil {
		slog.Warn("Failed to release workload process handle", "ns", ns, "err", err)
	}

	slog.Info("Primitive applied", "primitive", "exec-in-namespace", "ns", ns, "argv", strings.Join(argv, " "))
	d.audit("exec-in-namespace", ns+": "+strings.Join(argv, " "))
	return nil
}
