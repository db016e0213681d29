package reward

import "errors"

// Outcome sentinels. Every error returned by Service matches exactly one of them with
// errors.Is; the underlying cause is wrapped alongside.
var (
	ErrMalformedRequest = errors.New("malformed request")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInvalidReference = errors.New("invalid tap reference")
	ErrUnknownChip      = errors.New("unknown chip")
	ErrNoActivePeriod   = errors.New("no active reward period")
	ErrAlreadyClaimed   = errors.New("reward already claimed")
	ErrInvalidSignature = errors.New("invalid wallet signature")
	ErrSignatureExpired = errors.New("wallet signature expired")
	ErrInternal         = errors.New("internal error")
	ErrOpenedByRequired = errors.New("openedBy is required")
)

// Machine readable reasons reported to callers.
const (
	ReasonSuccess          = "success"
	ReasonMalformedRequest = "malformed_request"
	ReasonUnauthenticated  = "unauthenticated"
	ReasonInvalidReference = "invalid_reference"
	ReasonUnknownChip      = "unknown_chip"
	ReasonNoActivePeriod   = "no_active_period"
	ReasonAlreadyClaimed   = "already_claimed"
	ReasonInvalidSignature = "invalid_signature"
	ReasonSignatureExpired = "signature_expired"
	ReasonInternalError    = "internal_error"
)

// Kind groups outcomes into error classes.
type Kind string

const (
	KindNone           Kind = ""
	KindRequest        Kind = "request"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindState          Kind = "state"
	KindSignature      Kind = "signature"
	KindTransient      Kind = "transient"
)

var outcomes = []struct {
	err    error
	reason string
	kind   Kind
}{
	{ErrMalformedRequest, ReasonMalformedRequest, KindRequest},
	{ErrOpenedByRequired, ReasonMalformedRequest, KindRequest},
	{ErrUnauthenticated, ReasonUnauthenticated, KindAuthentication},
	{ErrInvalidReference, ReasonInvalidReference, KindAuthentication},
	{ErrUnknownChip, ReasonUnknownChip, KindAuthorization},
	{ErrNoActivePeriod, ReasonNoActivePeriod, KindState},
	{ErrAlreadyClaimed, ReasonAlreadyClaimed, KindState},
	{ErrInvalidSignature, ReasonInvalidSignature, KindSignature},
	{ErrSignatureExpired, ReasonSignatureExpired, KindSignature},
	{ErrInternal, ReasonInternalError, KindTransient},
}

// OutcomeOf maps err to its reason code. nil is a success; anything unrecognised is
// reported as an internal error.
func OutcomeOf(err error) string {
	if err == nil {
		return ReasonSuccess
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.reason
		}
	}
	return ReasonInternalError
}

// KindOf maps err to its error class.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.kind
		}
	}
	return KindTransient
}
