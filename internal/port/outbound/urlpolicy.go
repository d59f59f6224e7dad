package outbound

import (
	"net/url"
)

// URLPolicy is the outbound port for the optional operator-defined URL
// deny rule evaluated after built-in validation.
type URLPolicy interface {
	// Deny reports whether the rule rejects u, with the reason.
	Deny(u *url.URL) (bool, string, error)
}
