// Package broker issues short-lived provider credentials for new voice
// sessions. It is a pure proxy to the provider's token service: nothing is
// persisted or cached locally, and each credential is scoped to a single
// session start.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"

	"github.com/brightfold/voicegate/pkg/gateway/apierror"
)

// ModelTier selects the provider model class for a session.
type ModelTier string

const (
	TierStandard ModelTier = "standard"
	TierPremium  ModelTier = "premium"
)

// VoiceProfile selects the synthesized voice.
type VoiceProfile string

const (
	VoiceWarm   VoiceProfile = "warm"
	VoiceBright VoiceProfile = "bright"
	VoiceCalm   VoiceProfile = "calm"
)

// modelForTier is the closed tier → provider model mapping. Unknown tiers
// are rejected before any provider call.
var modelForTier = map[ModelTier]string{
	TierStandard: "gemini-2.5-flash-native-audio-preview-09-2025",
	TierPremium:  "gemini-2.5-flash-exp-native-audio-thinking-dialog",
}

var voiceForProfile = map[VoiceProfile]string{
	VoiceWarm:   "Aoede",
	VoiceBright: "Puck",
	VoiceCalm:   "Charon",
}

// MintRequest asks the provider for one ephemeral credential.
type MintRequest struct {
	Model string
	Voice string
	TTL   time.Duration
}

// MintedToken is the provider's ephemeral credential.
type MintedToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenMinter is the provider-side token service.
type TokenMinter interface {
	MintToken(ctx context.Context, req MintRequest) (*MintedToken, error)
}

// TransientError marks a minting failure as retryable. The genai minter
// wraps network and 5xx failures in it; anything else is terminal.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// SessionGrant is the broker's answer to a session-start request.
type SessionGrant struct {
	SessionID  string
	Credential string
	ExpiresAt  time.Time
	Model      string
	Voice      string
}

// Config controls credential issuance.
type Config struct {
	CredentialTTL time.Duration
	MaxAttempts   uint64
	BaseBackoff   time.Duration
}

func (c *Config) defaults() {
	if c.CredentialTTL <= 0 {
		c.CredentialTTL = 90 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 400 * time.Millisecond
	}
}

// Broker mints session credentials with bounded retry on transient provider
// failures.
type Broker struct {
	minter TokenMinter
	cfg    Config
	logger *slog.Logger
}

func New(minter TokenMinter, cfg Config, logger *slog.Logger) *Broker {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{minter: minter, cfg: cfg, logger: logger}
}

// CreateSession validates the requested tier and voice, then mints one
// ephemeral credential. Transient provider failures are retried up to
// MaxAttempts with exponential backoff; on exhaustion or a terminal failure
// the caller gets a typed provider-unavailable error.
func (b *Broker) CreateSession(ctx context.Context, tier ModelTier, voice VoiceProfile) (*SessionGrant, error) {
	model, ok := modelForTier[tier]
	if !ok {
		return nil, apierror.NewInvalidRequestWithParam(
			fmt.Sprintf("unknown model tier %q", tier), "model_tier")
	}
	voiceName, ok := voiceForProfile[voice]
	if !ok {
		return nil, apierror.NewInvalidRequestWithParam(
			fmt.Sprintf("unknown voice profile %q", voice), "voice_profile")
	}

	req := MintRequest{Model: model, Voice: voiceName, TTL: b.cfg.CredentialTTL}

	backoff := retry.WithMaxRetries(b.cfg.MaxAttempts-1,
		retry.NewExponential(b.cfg.BaseBackoff))

	var minted *MintedToken
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tok, err := b.minter.MintToken(ctx, req)
		if err != nil {
			var transient *TransientError
			if errors.As(err, &transient) {
				b.logger.Warn("transient token mint failure, will retry",
					"model", model, "err", err)
				return retry.RetryableError(err)
			}
			return err
		}
		minted = tok
		return nil
	})
	if err != nil {
		b.logger.Error("token mint failed", "model", model, "err", err)
		return nil, apierror.NewProviderUnavailable("voice provider unavailable")
	}

	expiresAt := minted.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(b.cfg.CredentialTTL)
	}

	return &SessionGrant{
		SessionID:  newSessionID(),
		Credential: minted.Token,
		ExpiresAt:  expiresAt,
		Model:      model,
		Voice:      voiceName,
	}, nil
}

func newSessionID() string {
	return "vs_" + ulid.Make().String()
}

// ParseModelTier validates a client-supplied tier string. Empty selects the
// standard tier.
func ParseModelTier(s string) (ModelTier, error) {
	if s == "" {
		return TierStandard, nil
	}
	t := ModelTier(s)
	if _, ok := modelForTier[t]; !ok {
		return "", apierror.NewInvalidRequestWithParam(
			fmt.Sprintf("unknown model tier %q", s), "model_tier")
	}
	return t, nil
}

// ParseVoiceProfile validates a client-supplied voice string. Empty selects
// the warm profile.
func ParseVoiceProfile(s string) (VoiceProfile, error) {
	if s == "" {
		return VoiceWarm, nil
	}
	v := VoiceProfile(s)
	if _, ok := voiceForProfile[v]; !ok {
		return "", apierror.NewInvalidRequestWithParam(
			fmt.Sprintf("unknown voice profile %q", s), "voice_profile")
	}
	return v, nil
}
