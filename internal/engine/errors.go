package engine

import "errors"

var (
	// ErrConfigMissing marks an obligation with no active configuration.
	// A steady state, not a failure: fillers and sweeps skip it silently.
	ErrConfigMissing = errors.New("no active notification config")

	// ErrObligationGone marks an obligation that disappeared between
	// selection and dispatch. Treated as a delivery failure of that item.
	ErrObligationGone = errors.New("obligation no longer exists")

	// ErrDeliveryFailed wraps messenger failures and timeouts.
	ErrDeliveryFailed = errors.New("delivery failed")
)
