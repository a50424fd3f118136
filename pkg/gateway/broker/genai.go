package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GenAIMinter mints ephemeral Live API tokens from the Gemini API. The
// token is constrained to one model and voice so a leaked credential cannot
// be replayed against a more expensive tier.
type GenAIMinter struct {
	client *genai.Client
}

func NewGenAIMinter(ctx context.Context, apiKey string) (*GenAIMinter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIMinter{client: client}, nil
}

func (m *GenAIMinter) MintToken(ctx context.Context, req MintRequest) (*MintedToken, error) {
	expireTime := time.Now().Add(req.TTL)

	token, err := m.client.AuthTokens.Create(ctx, &genai.CreateAuthTokenConfig{
		ExpireTime: expireTime,
		// One connect per token: the credential is spent on first use.
		Uses: genai.Ptr[int32](1),
		LiveConnectConstraints: &genai.LiveConnectConstraints{
			Model: req.Model,
			Config: &genai.LiveConnectConfig{
				ResponseModalities: []genai.Modality{genai.ModalityAudio},
				SpeechConfig: &genai.SpeechConfig{
					VoiceConfig: &genai.VoiceConfig{
						PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
							VoiceName: req.Voice,
						},
					},
				},
			},
		},
		LockAdditionalFields: []string{},
	})
	if err != nil {
		return nil, classifyMintError(err)
	}

	return &MintedToken{Token: token.Name, ExpiresAt: expireTime}, nil
}

// classifyMintError separates retryable provider failures from terminal
// ones. Server-side errors and throttling are transient; a bad API key or a
// rejected request shape is not going to succeed on retry.
func classifyMintError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 500 || apiErr.Code == 429 {
			return &TransientError{Err: err}
		}
		return err
	}
	// Anything that never reached the provider (DNS, dial, reset) is worth
	// another attempt.
	return &TransientError{Err: err}
}
