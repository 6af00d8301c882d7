package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/session"
)

// Bearer authenticates with either a directly supplied token or, when
// TokenURL is set, by exchanging credentials at an OAuth2 token endpoint.
// RefreshToken (when present) makes the exchange a refresh_token grant
// instead of client_credentials. The exchange runs once per Authenticate
// call; it is not repeated when the stored token expires.
type Bearer struct {
	// Direct token path: set Token and leave TokenURL empty.
	Token string

	// OAuth2 token-endpoint path.
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Scope        string

	Retry RetryPolicy
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (b Bearer) Authenticate(ctx context.Context, doer Doer, store *session.Store, userID string) ([]*protocol.Outcome, error) {
	if b.TokenURL == "" {
		if b.Token == "" {
			return nil, fmt.Errorf("auth: bearer flow requires a token or a token URL")
		}
		store.SetToken("bearer", session.Token{Value: b.Token})
		return nil, nil
	}
	return b.refresh(ctx, doer, store)
}

func (b Bearer) refresh(ctx context.Context, doer Doer, store *session.Store) ([]*protocol.Outcome, error) {
	policy := b.Retry
	if policy.MaxRetries == 0 && policy.InitialDelay == 0 {
		policy = DefaultRetryPolicy()
	}

	form := url.Values{}
	form.Set("client_id", b.ClientID)
	form.Set("client_secret", b.ClientSecret)
	if b.RefreshToken != "" {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", b.RefreshToken)
	} else {
		form.Set("grant_type", "client_credentials")
	}
	if b.Scope != "" {
		form.Set("scope", b.Scope)
	}
	body := form.Encode()

	var outcomes []*protocol.Outcome
	var state backoffState

	for {
		outcome, err := doer.Do(ctx, protocol.HTTPParams{
			URL:     b.TokenURL,
			Method:  "POST",
			Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
			Body:    []byte(body),
			Timeout: 10 * time.Second,
		}, time.Now().Add(10*time.Second))
		if outcome != nil {
			outcomes = append(outcomes, outcome)
		}
		if err == nil && outcome != nil && outcome.Success {
			var tok tokenResponse
			if jsonErr := json.Unmarshal(outcome.Body, &tok); jsonErr != nil {
				return outcomes, fmt.Errorf("auth: decoding token response: %w", jsonErr)
			}
			if tok.AccessToken == "" {
				return outcomes, fmt.Errorf("auth: token endpoint returned no access_token")
			}
			expiry := time.Time{}
			if tok.ExpiresIn > 0 {
				expiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
			}
			store.SetToken("bearer", session.Token{Value: tok.AccessToken, ExpiresAt: expiry})
			if tok.RefreshToken != "" {
				b.RefreshToken = tok.RefreshToken
			}
			return outcomes, nil
		}

		if !policy.shouldRetry(state.attempts) {
			if err == nil {
				err = fmt.Errorf("auth: token endpoint request failed")
			}
			return outcomes, err
		}

		select {
		case <-ctx.Done():
			return outcomes, ctx.Err()
		case <-time.After(policy.delay(&state)):
		}
	}
}

// OAuth2AuthCode exchanges an authorization code for a bearer token. The
// code itself is assumed to already have been obtained out-of-band (this
// engine drives load, not a browser), so Code is supplied directly.
type OAuth2AuthCode struct {
	TokenURL     string
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

func (o OAuth2AuthCode) Authenticate(ctx context.Context, doer Doer, store *session.Store, _ string) ([]*protocol.Outcome, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", o.Code)
	form.Set("client_id", o.ClientID)
	form.Set("client_secret", o.ClientSecret)
	form.Set("redirect_uri", o.RedirectURI)

	outcome, err := doer.Do(ctx, protocol.HTTPParams{
		URL:     o.TokenURL,
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
		Timeout: 10 * time.Second,
	}, time.Now().Add(10*time.Second))
	outcomes := outcomesOf(outcome)
	if err != nil {
		return outcomes, err
	}
	if outcome == nil || !outcome.Success {
		return outcomes, fmt.Errorf("auth: authorization code exchange failed")
	}

	var tok tokenResponse
	if jsonErr := json.Unmarshal(outcome.Body, &tok); jsonErr != nil {
		return outcomes, fmt.Errorf("auth: decoding token response: %w", jsonErr)
	}
	if tok.AccessToken == "" {
		return outcomes, fmt.Errorf("auth: token endpoint returned no access_token")
	}

	expiry := time.Time{}
	if tok.ExpiresIn > 0 {
		expiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	store.SetToken("bearer", session.Token{Value: tok.AccessToken, ExpiresAt: expiry})
	return outcomes, nil
}

func outcomesOf(o *protocol.Outcome) []*protocol.Outcome {
	if o == nil {
		return nil
	}
	return []*protocol.Outcome{o}
}
