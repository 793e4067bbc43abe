package settlement

import (
	"context"
	"time"

	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/types"
)

// DefaultDistributionTimeout bounds the entire secondary leg: allowance
// check, approval, payment submission and confirmation waits.
const DefaultDistributionTimeout = 30 * time.Second

// Distributor runs the secondary leg against a successful settlement.
// Failures are reported inside the returned result, never as an error.
type Distributor interface {
	Distribute(ctx context.Context, settlement *types.SettlementResult, reqs *types.PaymentRequirements) *types.DistributionResult
	ProjectID() string
}

// Orchestrator sequences the two settlement legs: the mandatory
// transfer into escrow, then the best-effort distribution into the
// project terminal raced against a hard deadline. The primary result's
// Success flag is never altered by anything the secondary leg does.
type Orchestrator struct {
	settler     Settler
	distributor Distributor
	timeout     time.Duration
	log         logger.Logger
	rec         metrics.Recorder
}

func NewOrchestrator(settler Settler, distributor Distributor, log logger.Logger, rec metrics.Recorder, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultDistributionTimeout
	}
	return &Orchestrator{
		settler:     settler,
		distributor: distributor,
		timeout:     timeout,
		log:         log,
		rec:         rec,
	}
}

// Settle runs the primary settlement and, only on success, the
// distribution. If the deadline elapses first the result reports a
// distribution timeout while the in-flight distribution keeps running
// on a detached context; its eventual outcome is logged for
// reconciliation rather than dropped.
func (o *Orchestrator) Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettlementResult, error) {
	result, err := o.settler.Settle(ctx, req)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, nil
	}

	reqs := req.PaymentRequirements
	labels := map[string]string{"network": reqs.Network}

	done := make(chan *types.DistributionResult, 1)
	go func() {
		done <- o.distributor.Distribute(context.WithoutCancel(ctx), result, &reqs)
	}()

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case dist := <-done:
		result.Distribution = dist
	case <-timer.C:
		o.rec.IncCounter(metrics.EventDistributeTimeout, labels)
		o.log.Warn("distribution deadline elapsed", map[string]any{
			"network":   reqs.Network,
			"projectId": o.distributor.ProjectID(),
			"payer":     result.Payer,
		})
		result.Distribution = &types.DistributionResult{
			Success:     false,
			Error:       "distribution timeout",
			ProjectID:   o.distributor.ProjectID(),
			Beneficiary: result.Payer,
			Amount:      reqs.MaxAmountRequired,
			Token:       reqs.Asset,
		}
		go o.reconcile(done, labels)
	}

	return result, nil
}

// reconcile waits out a distribution that outlived its deadline and
// records how it actually ended.
func (o *Orchestrator) reconcile(done <-chan *types.DistributionResult, labels map[string]string) {
	dist := <-done
	o.rec.IncCounter(metrics.EventReconciledLate, labels)
	fields := map[string]any{
		"projectId": dist.ProjectID,
		"success":   dist.Success,
		"paymentTx": dist.PaymentTransaction,
	}
	if dist.Success {
		o.log.Info("timed-out distribution landed after deadline", fields)
		return
	}
	fields["error"] = dist.Error
	o.log.Warn("timed-out distribution ultimately failed", fields)
}
