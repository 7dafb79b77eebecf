// Package reconciler translates typed intents (create-vpc, create-subnet,
// peer, apply-firewall, delete-subnet, delete-vpc) into ordered plans of
// driver operations. Plans execute sequentially; if step k fails, steps
// k-1..1 are reversed best-effort and the primary error propagates. The
// store is only written after a plan completes. Delete-subnet and
// delete-vpc are the exception: they run convergent teardown calls in
// order and stop at the first failure without reversing anything, so a
// re-run of the same delete finishes the job.
package reconciler

import (
	"context"
	"log/slog"

	"github.com/mulgadc/vpcctl/vpcctl/driver"
	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
	"github.com/mulgadc/vpcctl/vpcctl/store"
)

// Reconciler drives the kernel toward the declared model.
type Reconciler struct {
	store *store.Store
	drv   driver.Driver

	// egress caches the host's default-route interface; it is read at
	// most once per invocation.
	egress string
}

// New creates a Reconciler over the given store and driver.
func New(st *store.Store, drv driver.Driver) *Reconciler {
	return &Reconciler{store: st, drv: drv}
}

// step is one unit of a plan. undo reverses the step during rollback and
// may be nil when a later undo subsumes it (e.g. deleting the namespace
// removes its routes).
type step struct {
	desc string
	do   func() error
	undo func() error
}

// run executes the steps in order. Cancellation is honored at step
// boundaries. On failure the completed steps are reversed in reverse
// order; reverse failures are logged but never shadow the primary error.
func (r *Reconciler) run(ctx context.Context, intent string, steps []step) error {
	var completed []step

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			r.rollback(intent, completed)
			return errdefs.Driver(err, "%s aborted", intent)
		}
		if err := s.do(); err != nil {
			slog.Error("Plan step failed", "intent", intent, "step", s.desc, "err", err)
			r.rollback(intent, completed)
			return err
		}
		completed = append(completed, s)
	}
	return nil
}

func (r *Reconciler) rollback(intent string, completed []step) {
	for i := len(completed) - 1; i >= 0; i-- {
		s := completed[i]
		if s.undo == nil {
			continue
		}
		if err := s.undo(); err != nil {
			slog.Warn("Reverse cleanup failed", "intent", intent, "step", s.desc, "err", err)
		}
	}
}

// defaultEgress resolves the host's default-route interface once.
func (r *Reconciler) defaultEgress() (string, error) {
	if r.egress != "" {
		return r.egress, nil
	}
	iface, err := r.drv.DefaultEgressInterface()
	if err != nil {
		return "", err
	}
	r.egress = iface
	return iface, nil
}

// List returns every stored VPC record.
func (r *Reconciler) List() ([]*store.VPC, error) {
	return r.store.List()
}
