// Package reward orchestrates tap authorisation, reward periods and the claim ledger.
package reward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tapreward/server/internal/auth"
	"github.com/tapreward/server/internal/events"
	"github.com/tapreward/server/internal/metrics"
	"github.com/tapreward/server/internal/model"
	"github.com/tapreward/server/internal/replay"
	"github.com/tapreward/server/internal/repo"
	"github.com/tapreward/server/internal/siwe"
)

const (
	defaultUpstreamTimeout = 5 * time.Second
	defaultStoreTimeout    = 3 * time.Second
	defaultChallengeTTL    = 10 * time.Minute
	defaultStatement       = "Sign in to link this wallet to your reward claim."
)

// Config holds the claim policy and per-step timeouts.
type Config struct {
	UpstreamTimeout time.Duration
	StoreTimeout    time.Duration
	// RequireWallet rejects claims that carry no wallet binding.
	RequireWallet bool
	// AllowUnsignedWallet accepts a bare WalletAddress without a signed proof.
	AllowUnsignedWallet bool

	SIWEDomain   string
	SIWEURI      string
	SIWEChainID  int64
	ChallengeTTL time.Duration
	Statement    string

	Now func() time.Time
}

// Deps are the collaborators of a Service. Events, Metrics and Nonces may be nil.
type Deps struct {
	Authority auth.TapAuthority
	Chips     repo.ChipRepo
	Claims    repo.ClaimRepo
	Periods   *PeriodService
	Verifier  *siwe.Verifier
	Nonces    replay.Guard
	Events    events.Publisher
	Metrics   *metrics.Metrics
}

type Service struct {
	authority auth.TapAuthority
	chips     repo.ChipRepo
	claims    repo.ClaimRepo
	periods   *PeriodService
	verifier  *siwe.Verifier
	nonces    replay.Guard
	events    events.Publisher
	metrics   *metrics.Metrics
	cfg       Config
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = defaultUpstreamTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = defaultChallengeTTL
	}
	if cfg.Statement == "" {
		cfg.Statement = defaultStatement
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if d.Verifier == nil {
		d.Verifier = siwe.NewVerifier(siwe.WithClock(cfg.Now), siwe.WithDomain(cfg.SIWEDomain))
	}
	if d.Nonces == nil {
		d.Nonces = replay.NewMemoryGuard(cfg.Now)
	}
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	return &Service{
		authority: d.Authority,
		chips:     d.Chips,
		claims:    d.Claims,
		periods:   d.Periods,
		verifier:  d.Verifier,
		nonces:    d.Nonces,
		events:    d.Events,
		metrics:   d.Metrics,
		cfg:       cfg,
	}
}

// WalletProof is a signed EIP-4361 message and its EIP-191 signature.
type WalletProof struct {
	Message   string
	Signature string
}

// ClaimRequest carries one credential, a session token or a tap reference, and an
// optional wallet binding.
type ClaimRequest struct {
	SessionToken  string
	TapReference  string
	Wallet        *WalletProof
	WalletAddress string
}

// Claim records the reward of the credential's chip for the active period. Steps run
// strictly in order: credential, chip, period, wallet, ledger. When the chip already
// claimed, the existing claim is returned together with ErrAlreadyClaimed.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (model.Claim, error) {
	start := time.Now()
	claim, err := s.claim(ctx, req)
	outcome := OutcomeOf(err)
	s.metrics.ObserveClaim(outcome, time.Since(start))

	switch KindOf(err) {
	case KindNone:
		slog.Info("reward claimed", "claim_id", claim.ID, "chip_id", claim.ChipID, "period_id", claim.RewardPeriodID, "wallet", claim.WalletAddress != nil)
	case KindTransient:
		slog.Error("claim failed", "outcome", outcome, "error", err)
	default:
		slog.Info("claim rejected", "outcome", outcome, "error", err)
	}
	return claim, err
}

func (s *Service) claim(ctx context.Context, req ClaimRequest) (model.Claim, error) {
	if err := validateRequest(req); err != nil {
		return model.Claim{}, err
	}

	chipUID, fromTap, err := s.authenticate(ctx, req)
	if err != nil {
		return model.Claim{}, err
	}

	chip, err := s.loadChip(ctx, chipUID, fromTap)
	if err != nil {
		return model.Claim{}, err
	}

	period, err := s.periods.Active(ctx)
	if err != nil {
		return model.Claim{}, err
	}
	if period == nil {
		return model.Claim{}, ErrNoActivePeriod
	}

	wallet, err := s.bindWallet(ctx, req, chip.ID.String()+":"+period.ID.String())
	if err != nil {
		return model.Claim{}, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	claim, created, err := s.claims.CreateIfAbsent(storeCtx, chip.ID, period.ID, wallet, s.cfg.Now())
	cancel()
	if err != nil {
		return model.Claim{}, fmt.Errorf("%w: create claim: %w", ErrInternal, err)
	}
	if !created {
		return claim, ErrAlreadyClaimed
	}

	s.publish(ctx, claim)
	return claim, nil
}

func validateRequest(req ClaimRequest) error {
	if req.Wallet != nil && (strings.TrimSpace(req.Wallet.Message) == "" || strings.TrimSpace(req.Wallet.Signature) == "") {
		return fmt.Errorf("%w: message and signature must be sent together", ErrMalformedRequest)
	}
	return nil
}

// authenticate maps the credential to a chip UID. fromTap reports whether the
// credential was a fresh tap reference rather than a session token.
func (s *Service) authenticate(ctx context.Context, req ClaimRequest) (chipUID string, fromTap bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	defer cancel()

	start := time.Now()
	switch {
	case req.SessionToken != "":
		chipUID, err = s.authority.Validate(ctx, req.SessionToken)
		s.metrics.ObserveUpstream("validate", time.Since(start))
	case req.TapReference != "":
		var session model.TapSession
		session, err = s.authority.IssueFromReference(ctx, req.TapReference)
		s.metrics.ObserveUpstream("issue", time.Since(start))
		chipUID, fromTap = session.ChipUID, true
	default:
		return "", false, fmt.Errorf("%w: no session or tap reference", ErrUnauthenticated)
	}
	if err != nil {
		return "", false, upstreamError(ErrUnauthenticated, err)
	}
	return chipUID, fromTap, nil
}

// upstreamError keeps outages apart from rejections: an unreachable authority is an
// internal error, never an authentication result.
func upstreamError(rejection, err error) error {
	if errors.Is(err, auth.ErrUpstreamUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: tap authority: %w", ErrInternal, err)
	}
	return fmt.Errorf("%w: %w", rejection, err)
}

func (s *Service) loadChip(ctx context.Context, uid string, fromTap bool) (model.Chip, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	if fromTap {
		chip, err := s.chips.Resolve(ctx, uid, s.cfg.Now())
		if err != nil {
			return model.Chip{}, fmt.Errorf("%w: resolve chip: %w", ErrInternal, err)
		}
		return chip, nil
	}
	chip, err := s.chips.Touch(ctx, uid, s.cfg.Now())
	if err != nil {
		if errors.Is(err, repo.ErrChipNotFound) {
			return model.Chip{}, fmt.Errorf("%w: %s", ErrUnknownChip, uid)
		}
		return model.Chip{}, fmt.Errorf("%w: touch chip: %w", ErrInternal, err)
	}
	return chip, nil
}

// bindWallet returns the canonical wallet address to store with the claim, or nil.
// The proof's nonce is consumed for holder, the chip and period being claimed, so
// retrying the same signed claim reaches the ledger again instead of failing as a replay.
func (s *Service) bindWallet(ctx context.Context, req ClaimRequest, holder string) (*string, error) {
	plain := strings.TrimSpace(req.WalletAddress)

	if req.Wallet == nil {
		switch {
		case plain == "" && s.cfg.RequireWallet:
			return nil, fmt.Errorf("%w: wallet binding required", ErrMalformedRequest)
		case plain == "":
			return nil, nil
		case !s.cfg.AllowUnsignedWallet:
			return nil, fmt.Errorf("%w: wallet address must be signed", ErrMalformedRequest)
		}
		addr, err := siwe.NormalizeAddress(plain)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		return &addr, nil
	}

	verified, err := s.verifier.Verify(req.Wallet.Message, req.Wallet.Signature)
	if err != nil {
		if errors.Is(err, siwe.ErrExpired) {
			return nil, fmt.Errorf("%w: %w", ErrSignatureExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if plain != "" && !strings.EqualFold(plain, verified.Address) {
		return nil, fmt.Errorf("%w: wallet address differs from signer", ErrInvalidSignature)
	}

	guardCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	msg := verified.Message
	if err := s.nonces.Consume(guardCtx, verified.Address, msg.Nonce, holder, *msg.ExpirationTime); err != nil {
		if errors.Is(err, replay.ErrReplayed) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: nonce guard: %w", ErrInternal, err)
	}
	return &verified.Address, nil
}

func (s *Service) publish(ctx context.Context, claim model.Claim) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	event := events.ClaimCreated{
		ClaimID:       claim.ID,
		ChipID:        claim.ChipID,
		PeriodID:      claim.RewardPeriodID,
		WalletAddress: claim.WalletAddress,
		ClaimedAt:     claim.ClaimedAt,
	}
	if err := s.events.PublishClaimCreated(ctx, event); err != nil {
		s.metrics.EventFailed()
		slog.Warn("claim event not published", "claim_id", claim.ID, "error", err)
	}
}

// ExchangeTap trades a tap reference for a session and records the chip as seen.
func (s *Service) ExchangeTap(ctx context.Context, ref string) (model.TapSession, model.Chip, error) {
	session, chip, err := s.exchangeTap(ctx, ref)
	s.metrics.ObserveTap(OutcomeOf(err))
	if KindOf(err) == KindTransient {
		slog.Error("tap exchange failed", "error", err)
	}
	return session, chip, err
}

func (s *Service) exchangeTap(ctx context.Context, ref string) (model.TapSession, model.Chip, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.TapSession{}, model.Chip{}, fmt.Errorf("%w: missing tap reference", ErrMalformedRequest)
	}

	upCtx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	start := time.Now()
	session, err := s.authority.IssueFromReference(upCtx, ref)
	s.metrics.ObserveUpstream("issue", time.Since(start))
	cancel()
	if err != nil {
		return model.TapSession{}, model.Chip{}, upstreamError(ErrInvalidReference, err)
	}

	chip, err := s.loadChip(ctx, session.ChipUID, true)
	if err != nil {
		return model.TapSession{}, model.Chip{}, err
	}
	return session, chip, nil
}

// Status describes the reward state of a session's chip.
type Status struct {
	RewardActive  bool
	RewardClaimed bool
	Period        *model.RewardPeriod
	Claim         *model.Claim
}

// Status reports whether a period is active and whether the session's chip claimed
// it. Without an active period it reports the claim state of the latest period.
func (s *Service) Status(ctx context.Context, sessionToken string) (Status, error) {
	if sessionToken == "" {
		return Status{}, fmt.Errorf("%w: no session", ErrUnauthenticated)
	}
	upCtx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	uid, err := s.authority.Validate(upCtx, sessionToken)
	cancel()
	if err != nil {
		return Status{}, upstreamError(ErrUnauthenticated, err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	chip, err := s.chips.GetByUID(storeCtx, uid)
	if err != nil {
		if errors.Is(err, repo.ErrChipNotFound) {
			return Status{}, fmt.Errorf("%w: %s", ErrUnknownChip, uid)
		}
		return Status{}, fmt.Errorf("%w: load chip: %w", ErrInternal, err)
	}

	period, err := s.periods.Active(ctx)
	if err != nil {
		return Status{}, err
	}
	status := Status{RewardActive: period != nil, Period: period}
	if period == nil {
		if period, err = s.periods.Latest(ctx); err != nil {
			return Status{}, err
		}
		if period == nil {
			return status, nil
		}
		status.Period = period
	}

	claim, err := s.claims.Find(storeCtx, chip.ID, period.ID)
	switch {
	case err == nil:
		status.RewardClaimed = true
		status.Claim = &claim
	case !errors.Is(err, repo.ErrClaimNotFound):
		return Status{}, fmt.Errorf("%w: load claim: %w", ErrInternal, err)
	}
	return status, nil
}

// Challenge builds a sign-in message for address with a fresh server nonce.
func (s *Service) Challenge(address string) (*siwe.Message, error) {
	msg, err := siwe.NewChallenge(siwe.ChallengeParams{
		Domain:    s.cfg.SIWEDomain,
		URI:       s.cfg.SIWEURI,
		Address:   strings.TrimSpace(address),
		Statement: s.cfg.Statement,
		ChainID:   s.cfg.SIWEChainID,
		IssuedAt:  s.cfg.Now(),
		Validity:  s.cfg.ChallengeTTL,
	})
	if err != nil {
		if errors.Is(err, siwe.ErrInvalidAddress) {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		return nil, fmt.Errorf("%w: build challenge: %w", ErrInternal, err)
	}
	return msg, nil
}
