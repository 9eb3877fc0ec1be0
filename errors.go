package sessioncore

import "errors"

var (
	// ErrCredentialMissing is returned when a request carries no usable
	// credential at all.
	ErrCredentialMissing = errors.New("credential missing")
	// ErrCredentialInvalid covers malformed tokens, bad signatures, wrong
	// token types, and tokens whose session state no longer honors them.
	ErrCredentialInvalid = errors.New("credential invalid")
	// ErrCredentialExpired is returned for tokens past their exp claim.
	ErrCredentialExpired = errors.New("credential expired")
	// ErrInsecureTransport is returned when HTTPS is required and the
	// request arrived over plain HTTP.
	ErrInsecureTransport = errors.New("https required")
	// ErrCSRFRejected is the single failure returned by the CSRF guard.
	// Callers translate it to one generic 403 regardless of which check
	// failed, so responses carry no oracle about the rejection reason.
	ErrCSRFRejected = errors.New("csrf rejected")
	// ErrAudienceUnresolvable is returned when assertions are enabled but
	// no audience mapping covers the request path.
	ErrAudienceUnresolvable = errors.New("assertion audience unresolvable")
	// ErrImpersonationConflict is returned when an impersonation swap
	// loses the compare-and-set race against a concurrent rotation.
	ErrImpersonationConflict = errors.New("impersonation conflicted with concurrent rotation")
)
