package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"area-connect/internal/common/errors"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	// GoogleKey is the registry key of the Google provider.
	GoogleKey = "google"

	googleRevokeURL = "https://oauth2.googleapis.com/revoke"
)

// GoogleScopes are requested when Options.Scopes is empty.
var GoogleScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/calendar.readonly",
}

// GoogleProvider connects Google accounts. It asks for offline access with
// forced consent so Google always returns a refresh token.
type GoogleProvider struct {
	*oauthProvider
	revokeURL string
}

// NewGoogleProvider creates the Google provider.
func NewGoogleProvider(opts Options) (*GoogleProvider, error) {
	base, err := newOAuthProvider(GoogleKey, endpoints.Google, GoogleScopes, opts)
	if err != nil {
		return nil, err
	}
	base.authOptions = []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}

	revokeURL := opts.RevokeURL
	if revokeURL == "" {
		revokeURL = googleRevokeURL
	}

	return &GoogleProvider{oauthProvider: base, revokeURL: revokeURL}, nil
}

// Revoke calls Google's RFC 7009 revocation endpoint. Revoking either token
// of a grant revokes the whole grant.
func (p *GoogleProvider) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	err := p.call(ctx, func(ctx context.Context) error {
		form := url.Values{"token": {token}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if !revokeStatusOK(resp.StatusCode) {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			revokeErr := errors.RevocationError(p.key, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
			// Google answers 400 for tokens that are already invalid.
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				revokeErr.WithCode(errors.CodeRejected)
			}
			return revokeErr
		}
		return nil
	})
	if err != nil && !errors.IsType(err, errors.ErrTypeRevocation) {
		err = errors.RevocationError(p.key, err)
	}
	return err
}

var _ Provider = (*GoogleProvider)(nil)
