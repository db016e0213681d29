// Package siwe parses, renders and verifies EIP-4361 "Sign-In with Ethereum"
// messages signed with EIP-191 personal signatures.
package siwe

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const headerSuffix = " wants you to sign in with your Ethereum account:"

const (
	fieldURI        = "URI"
	fieldVersion    = "Version"
	fieldChainID    = "Chain ID"
	fieldNonce      = "Nonce"
	fieldIssuedAt   = "Issued At"
	fieldExpiration = "Expiration Time"
	fieldNotBefore  = "Not Before"
	fieldRequestID  = "Request ID"
	fieldResources  = "Resources:"
)

// Message is a parsed EIP-4361 message.
type Message struct {
	Domain         string
	Address        common.Address
	Statement      string
	URI            string
	Version        string
	ChainID        int64
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime *time.Time
	NotBefore      *time.Time
	RequestID      string
	Resources      []string
}

// ParseMessage parses the textual form of a message. Address, nonce, issued-at and
// expiration are required; anything else missing or malformed yields ErrMalformedMessage.
func ParseMessage(text string) (*Message, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: too short", ErrMalformedMessage)
	}

	header := strings.TrimSpace(lines[0])
	if !strings.HasSuffix(header, headerSuffix) {
		return nil, fmt.Errorf("%w: missing header", ErrMalformedMessage)
	}
	msg := &Message{Domain: strings.TrimSuffix(header, headerSuffix)}
	if msg.Domain == "" {
		return nil, fmt.Errorf("%w: missing domain", ErrMalformedMessage)
	}

	addr, err := parseAddress(lines[1])
	if err != nil {
		return nil, fmt.Errorf("%w: missing or invalid address", ErrMalformedMessage)
	}
	msg.Address = addr

	var statement []string
	seen := make(map[string]bool)
	inResources := false
	for _, raw := range lines[2:] {
		line := strings.TrimRight(raw, " \t")
		if inResources {
			if line == "" {
				continue
			}
			res, ok := strings.CutPrefix(line, "- ")
			if !ok {
				return nil, fmt.Errorf("%w: bad resource line", ErrMalformedMessage)
			}
			msg.Resources = append(msg.Resources, strings.TrimSpace(res))
			continue
		}
		if line == fieldResources {
			inResources = true
			continue
		}
		key, value, isField := strings.Cut(line, ": ")
		if isField && isKnownField(key) {
			if seen[key] {
				return nil, fmt.Errorf("%w: duplicate %s", ErrMalformedMessage, key)
			}
			seen[key] = true
			if err := msg.setField(key, strings.TrimSpace(value)); err != nil {
				return nil, err
			}
			continue
		}
		if line == "" {
			continue
		}
		if len(seen) > 0 {
			return nil, fmt.Errorf("%w: unexpected line %q", ErrMalformedMessage, line)
		}
		statement = append(statement, line)
	}
	msg.Statement = strings.Join(statement, "\n")

	switch {
	case msg.ExpirationTime == nil:
		return nil, fmt.Errorf("%w: missing expiration time", ErrMalformedMessage)
	case msg.Nonce == "":
		return nil, fmt.Errorf("%w: missing nonce", ErrMalformedMessage)
	case msg.IssuedAt.IsZero():
		return nil, fmt.Errorf("%w: missing issued at", ErrMalformedMessage)
	case msg.Version != "" && msg.Version != "1":
		return nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedMessage, msg.Version)
	}
	return msg, nil
}

func isKnownField(key string) bool {
	switch key {
	case fieldURI, fieldVersion, fieldChainID, fieldNonce, fieldIssuedAt,
		fieldExpiration, fieldNotBefore, fieldRequestID:
		return true
	}
	return false
}

func (m *Message) setField(key, value string) error {
	switch key {
	case fieldURI:
		m.URI = value
	case fieldVersion:
		m.Version = value
	case fieldChainID:
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("%w: bad chain id", ErrMalformedMessage)
		}
		m.ChainID = id
	case fieldNonce:
		m.Nonce = value
	case fieldIssuedAt:
		t, err := parseTimestamp(value)
		if err != nil {
			return err
		}
		m.IssuedAt = t
	case fieldExpiration:
		t, err := parseTimestamp(value)
		if err != nil {
			return err
		}
		m.ExpirationTime = &t
	case fieldNotBefore:
		t, err := parseTimestamp(value)
		if err != nil {
			return err
		}
		m.NotBefore = &t
	case fieldRequestID:
		m.RequestID = value
	}
	return nil
}

func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedMessage, value)
	}
	return t.UTC(), nil
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(s), nil
}

// NormalizeAddress validates a 0x-prefixed hex address and returns its canonical
// lowercase form.
func NormalizeAddress(s string) (string, error) {
	addr, err := parseAddress(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return canonical(addr), nil
}

func canonical(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// String renders the message in EIP-4361 layout.
func (m *Message) String() string {
	var b strings.Builder
	b.WriteString(m.Domain + headerSuffix + "\n")
	b.WriteString(m.Address.Hex() + "\n")
	b.WriteString("\n")
	if m.Statement != "" {
		b.WriteString(m.Statement + "\n\n")
	}
	writeField := func(key, value string) {
		if value != "" {
			b.WriteString(key + ": " + value + "\n")
		}
	}
	version := m.Version
	if version == "" {
		version = "1"
	}
	writeField(fieldURI, m.URI)
	writeField(fieldVersion, version)
	if m.ChainID > 0 {
		writeField(fieldChainID, strconv.FormatInt(m.ChainID, 10))
	}
	writeField(fieldNonce, m.Nonce)
	writeField(fieldIssuedAt, formatTimestamp(m.IssuedAt))
	if m.ExpirationTime != nil {
		writeField(fieldExpiration, formatTimestamp(*m.ExpirationTime))
	}
	if m.NotBefore != nil {
		writeField(fieldNotBefore, formatTimestamp(*m.NotBefore))
	}
	writeField(fieldRequestID, m.RequestID)
	if len(m.Resources) > 0 {
		b.WriteString(fieldResources + "\n")
		for _, r := range m.Resources {
			b.WriteString("- " + r + "\n")
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ChallengeParams describes a server-issued message for a wallet to sign.
type ChallengeParams struct {
	Domain    string
	URI       string
	Address   string
	Statement string
	ChainID   int64
	IssuedAt  time.Time
	Validity  time.Duration
}

// NewChallenge builds a message with a fresh random nonce that expires after
// p.Validity.
func NewChallenge(p ChallengeParams) (*Message, error) {
	addr, err := parseAddress(p.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, p.Address)
	}
	if p.Domain == "" {
		return nil, errors.New("challenge domain is required")
	}
	if p.Validity <= 0 {
		return nil, errors.New("challenge validity must be positive")
	}
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	issued := p.IssuedAt.UTC().Truncate(time.Millisecond)
	expires := issued.Add(p.Validity)
	return &Message{
		Domain:         p.Domain,
		Address:        addr,
		Statement:      p.Statement,
		URI:            p.URI,
		Version:        "1",
		ChainID:        p.ChainID,
		Nonce:          nonce,
		IssuedAt:       issued,
		ExpirationTime: &expires,
	}, nil
}

const nonceAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewNonce returns a 16 character alphanumeric nonce from crypto/rand.
func NewNonce() (string, error) {
	out := make([]byte, 16)
	max := big.NewInt(int64(len(nonceAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate nonce: %w", err)
		}
		out[i] = nonceAlphabet[n.Int64()]
	}
	return string(out), nil
}
