package settlement

import "errors"

var (
	// ErrPrecondition wraps every input error rejected before the network
	// is contacted. Nothing is mutated when it is returned.
	ErrPrecondition = errors.New("settlement: precondition failed")

	ErrMissingIdentity = errors.New("settlement: party has no ledger identity")
	ErrMismatchedParty = errors.New("settlement: building does not match request")
	ErrInvalidRequest  = errors.New("settlement: amount and price must be positive")
)

// Fallback reasons recorded when a trade settles locally.
const (
	reasonNoClient    = "no_client"
	reasonTransport   = "transport"
	reasonUnconfirmed = "unconfirmed"
	reasonNoReference = "no_reference"
	reasonDust        = "dust"
)
