package siwe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrMalformedMessage  = errors.New("malformed sign-in message")
	ErrExpired           = errors.New("sign-in message expired")
	ErrNotYetValid       = errors.New("sign-in message not yet valid")
	ErrDomainMismatch    = errors.New("sign-in message domain mismatch")
	ErrSignatureMismatch = errors.New("signature does not match message address")
	ErrInvalidAddress    = errors.New("invalid wallet address")
)

// DefaultMaxValidity bounds how far Expiration Time may lie beyond Issued At.
const DefaultMaxValidity = 10 * time.Minute

// Verified is the outcome of a successful verification.
type Verified struct {
	// Address is the recovered signer, lowercase 0x hex.
	Address string
	Message *Message
}

// Verifier checks EIP-191 signatures over EIP-4361 messages.
type Verifier struct {
	now         func() time.Time
	domain      string
	maxValidity time.Duration
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithDomain requires messages to name domain in their header.
func WithDomain(domain string) Option {
	return func(v *Verifier) { v.domain = domain }
}

// WithMaxValidity bounds the Issued At to Expiration Time window. Zero disables the check.
func WithMaxValidity(d time.Duration) Option {
	return func(v *Verifier) { v.maxValidity = d }
}

func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{now: time.Now, maxValidity: DefaultMaxValidity}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify parses message, enforces its time window and recovers the signer of
// signature. A message is still valid at its expiration instant. Expiry is checked
// before any cryptography, so an expired message fails with ErrExpired whatever the
// signature. The recovered address must equal the address
// the message names.
func (v *Verifier) Verify(message, signature string) (*Verified, error) {
	msg, err := ParseMessage(message)
	if err != nil {
		return nil, err
	}

	now := v.now()
	if now.After(*msg.ExpirationTime) {
		return nil, fmt.Errorf("%w at %s", ErrExpired, msg.ExpirationTime.Format(time.RFC3339))
	}
	if msg.NotBefore != nil && now.Before(*msg.NotBefore) {
		return nil, ErrNotYetValid
	}
	if v.domain != "" && !strings.EqualFold(msg.Domain, v.domain) {
		return nil, fmt.Errorf("%w: got %q", ErrDomainMismatch, msg.Domain)
	}
	if v.maxValidity > 0 && msg.ExpirationTime.Sub(msg.IssuedAt) > v.maxValidity {
		return nil, fmt.Errorf("%w: validity window exceeds %s", ErrMalformedMessage, v.maxValidity)
	}

	sig, err := decodeSignature(signature)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	if crypto.PubkeyToAddress(*pub) != msg.Address {
		return nil, ErrSignatureMismatch
	}
	return &Verified{Address: canonical(msg.Address), Message: msg}, nil
}

// decodeSignature decodes a 65 byte [R || S || V] signature, normalising the wallet
// convention V in {27, 28} to {0, 1}.
func decodeSignature(signature string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "0x"))
	if err != nil || len(raw) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: bad signature encoding", ErrSignatureMismatch)
	}
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	if raw[crypto.RecoveryIDOffset] > 1 {
		return nil, fmt.Errorf("%w: bad recovery id", ErrSignatureMismatch)
	}
	return raw, nil
}
