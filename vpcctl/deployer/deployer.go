// Package deployer starts trivial HTTP workloads inside subnet
// namespaces. It is an effector at the edge of the control plane: the
// orchestrator validates the target and delegates; process lifecycle is
// the workload's own concern.
package deployer

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mulgadc/vpcctl/vpcctl/driver"
	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
)

// Supported workload kinds.
const (
	KindNginx   = "nginx"
	KindPython  = "python"
	KindBuiltin = "builtin"
)

// Deployer launches workloads through the driver's namespace exec.
type Deployer struct {
	drv driver.Driver

	// selfPath overrides the vpcctl binary path for the builtin kind.
	selfPath string
}

// New creates a Deployer over the given driver.
func New(drv driver.Driver) *Deployer {
	return &Deployer{drv: drv}
}

// Deploy starts a workload of the given kind listening on port inside the
// namespace. Idempotence across re-deploys is the workload's concern, not
// the orchestrator's.
func (d *Deployer) Deploy(namespace string, port int, kind string) error {
	if port <= 0 || port > 65535 {
		return errdefs.Validation("port %d out of range", port)
	}

	argv, err := d.command(port, kind)
	if err != nil {
		return err
	}

	if err := d.drv.ExecInNamespace(namespace, argv); err != nil {
		return err
	}

	slog.Info("Workload deployed", "namespace", namespace, "kind", kind, "port", port)
	return nil
}

func (d *Deployer) command(port int, kind string) ([]string, error) {
	switch kind {
	case KindNginx:
		return []string{
			"nginx",
			"-g", fmt.Sprintf("daemon off; error_log stderr; pid /run/nginx-%d.pid;", port),
			"-e", "stderr",
		}, nil
	case KindPython:
		return []string{"python3", "-m", "http.server", fmt.Sprintf("%d", port)}, nil
	case KindBuiltin:
		self := d.selfPath
		if self == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, errdefs.Validation("resolve vpcctl binary for builtin workload: %v", err)
			}
			self = exe
		}
		return []string{self, "serve", "--port", fmt.Sprintf("%d", port)}, nil
	default:
		return nil, errdefs.Validation("unknown workload type %q (want nginx, python or builtin)", kind)
	}
}
