package paysaga

import (
	"errors"
	"fmt"
)

// checkOutcome is the joined result of one dispatched compliance check.
type checkOutcome struct {
	Check  CheckType
	Result ComplianceResult
	Err    error
}

// screen dispatches checks concurrently and waits for every one of them,
// even after a failure, so all outcomes are known in one pass. Outcomes are
// returned in the order of checks.
func screen(rt Runtime, input ComplianceInput, checks []CheckType) []checkOutcome {
	futures := make([]Future, len(checks))
	for i, check := range checks {
		futures[i] = rt.ExecuteAsync(CheckActivity(check), input)
	}

	outcomes := make([]checkOutcome, len(checks))
	for i, check := range checks {
		var result ComplianceResult
		err := futures[i].Get(&result)
		if err == nil {
			result.Check = check
		}
		outcomes[i] = checkOutcome{Check: check, Result: result, Err: err}
	}
	return outcomes
}

// complianceError joins the errors of outcomes that could not produce a
// result. An unreachable check never counts as passed.
func complianceError(outcomes []checkOutcome) error {
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s check: %w", o.Check, o.Err))
		}
	}
	return errors.Join(errs...)
}

// evaluateCompliance turns the recorded results into a rejection naming the
// first failing check in enumeration order, or nil when all passed.
func evaluateCompliance(record *ComplianceRecord) error {
	for _, check := range ComplianceChecks {
		if record.Get(check) == nil {
			return fmt.Errorf("%s check has no result", check)
		}
	}
	failed := record.FirstRejection()
	if failed == nil {
		return nil
	}
	reason := fmt.Sprintf("%s check failed", failed.Check)
	if failed.Reason != "" {
		reason = fmt.Sprintf("%s check failed: %s", failed.Check, failed.Reason)
	}
	return Rejected(StepCompliance, reason)
}
