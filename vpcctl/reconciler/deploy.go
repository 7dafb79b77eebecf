package reconciler

import (
	"context"

	"github.com/mulgadc/vpcctl/vpcctl/deployer"
	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
)

// Deploy validates the target subnet and delegates to the workload
// deployer. Whether re-deploying the same port succeeds is the workload's
// concern.
func (r *Reconciler) Deploy(ctx context.Context, vpcName, subnetName, kind string, port int) error {
	if err := ctx.Err(); err != nil {
		return errdefs.Driver(err, "deploy aborted")
	}

	record, err := r.store.Load(vpcName)
	if err != nil {
		return err
	}
	subnet := record.Subnet(subnetName)
	if subnet == nil {
		return errdefs.NotFound("subnet %q not found in VPC %q", subnetName, vpcName)
	}

	return deployer.New(r.drv).Deploy(subnet.Namespace, port, kind)
}
