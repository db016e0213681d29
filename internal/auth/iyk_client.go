package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tapreward/server/internal/model"
)

const (
	DefaultIYKBaseURL = "https://api.iyk.app"
	defaultIYKTimeout = 5 * time.Second
	maxIYKBody        = 64 << 10
)

// IYKClient is the TapAuthority backed by the IYK HTTP API.
type IYKClient struct {
	baseURL string
	http    *http.Client
}

// NewIYKClient creates a client for baseURL. A non-positive timeout uses the default.
func NewIYKClient(baseURL string, timeout time.Duration) *IYKClient {
	if baseURL == "" {
		baseURL = DefaultIYKBaseURL
	}
	if timeout <= 0 {
		timeout = defaultIYKTimeout
	}
	return &IYKClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type iykRefResponse struct {
	IsValidRef bool    `json:"isValidRef"`
	UID        *string `json:"uid"`
	OTP        *struct {
		Code string `json:"code"`
	} `json:"otp"`
}

type iykOtpResponse struct {
	IsExpired bool    `json:"isExpired"`
	UID       *string `json:"uid"`
}

// IssueFromReference resolves a tap reference into the chip UID and the OTP minted for it.
func (c *IYKClient) IssueFromReference(ctx context.Context, ref string) (model.TapSession, error) {
	if strings.TrimSpace(ref) == "" {
		return model.TapSession{}, ErrInvalidReference
	}
	var body iykRefResponse
	if err := c.get(ctx, "/refs/"+url.PathEscape(ref), &body); err != nil {
		return model.TapSession{}, classify(ErrInvalidReference, err)
	}
	if !body.IsValidRef || body.UID == nil || *body.UID == "" {
		return model.TapSession{}, ErrInvalidReference
	}
	session := model.TapSession{ChipUID: *body.UID}
	if body.OTP != nil {
		session.Token = body.OTP.Code
	}
	return session, nil
}

// Validate maps an OTP back to its chip UID.
func (c *IYKClient) Validate(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrExpiredOrUnknownToken
	}
	var body iykOtpResponse
	if err := c.get(ctx, "/otps/"+url.PathEscape(token), &body); err != nil {
		return "", classify(ErrExpiredOrUnknownToken, err)
	}
	if body.IsExpired || body.UID == nil || *body.UID == "" {
		return "", ErrExpiredOrUnknownToken
	}
	return *body.UID, nil
}

// errRejected marks a 4xx answer: the upstream understood and refused the request.
type errRejected struct{ status int }

func (e errRejected) Error() string { return fmt.Sprintf("rejected with status %d", e.status) }

func classify(rejection, err error) error {
	if _, ok := err.(errRejected); ok {
		return fmt.Errorf("%w: %v", rejection, err)
	}
	return fmt.Errorf("%w: %w: %w", rejection, ErrUpstreamUnavailable, err)
}

func (c *IYKClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return errRejected{status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxIYKBody)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
