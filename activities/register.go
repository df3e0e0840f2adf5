package activities

import (
	"github.com/fortressi/paysaga"
)

// Activities bundles the implementations of every saga activity.
type Activities struct {
	Validator  *Validator
	FX         *FXClient
	Compliance *ComplianceClient
	Gateway    *Gateway
	Ledger     *LedgerBook
	Notifier   *Notifier
}

// Register adds every activity to registry under its saga name.
func (a *Activities) Register(registry *paysaga.ActivityRegistry) error {
	regs := []func() error{
		func() error {
			return paysaga.Register(registry, paysaga.ActivityValidateTransaction, a.Validator.Validate)
		},
		func() error { return paysaga.Register(registry, paysaga.ActivityLockRate, a.FX.LockRate) },
		func() error { return paysaga.Register(registry, paysaga.ActivityReleaseRateLock, a.FX.ReleaseRateLock) },
		func() error {
			return paysaga.Register(registry, paysaga.ActivityCheckFraud, a.Compliance.Activity(paysaga.CheckFraud))
		},
		func() error {
			return paysaga.Register(registry, paysaga.ActivityCheckAML, a.Compliance.Activity(paysaga.CheckAML))
		},
		func() error {
			return paysaga.Register(registry, paysaga.ActivityCheckSanctions, a.Compliance.Activity(paysaga.CheckSanctions))
		},
		func() error { return paysaga.Register(registry, paysaga.ActivityAuthorizePayment, a.Gateway.Authorize) },
		func() error {
			return paysaga.Register(registry, paysaga.ActivityReleaseAuthorization, a.Gateway.ReleaseAuthorization)
		},
		func() error { return paysaga.Register(registry, paysaga.ActivityCapturePayment, a.Gateway.Capture) },
		func() error { return paysaga.Register(registry, paysaga.ActivityRefundPayment, a.Gateway.Refund) },
		func() error { return paysaga.Register(registry, paysaga.ActivityUpdateLedgers, a.Ledger.UpdateLedgers) },
		func() error { return paysaga.Register(registry, paysaga.ActivitySendNotifications, a.Notifier.Notify) },
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return err
		}
	}
	return nil
}
