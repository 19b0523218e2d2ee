package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"area-connect/internal/common/errors"

	"golang.org/x/oauth2/endpoints"
)

const (
	// GitHubKey is the registry key of the GitHub provider.
	GitHubKey = "github"

	githubAPIURL = "https://api.github.com"
)

// GitHubScopes are requested when Options.Scopes is empty.
var GitHubScopes = []string{"repo", "read:user", "user:email", "notifications"}

// GitHubProvider connects GitHub accounts. Classic OAuth app tokens never
// expire; GitHub Apps with expiring user tokens return expires_in and a
// refresh token, and both cases go through the same code.
type GitHubProvider struct {
	*oauthProvider
	// revokeURL is the grant deletion endpoint for this client.
	revokeURL string
}

// NewGitHubProvider creates the GitHub provider. Options.RevokeURL, when set,
// replaces the API base URL (https://api.github.com).
func NewGitHubProvider(opts Options) (*GitHubProvider, error) {
	base, err := newOAuthProvider(GitHubKey, endpoints.GitHub, GitHubScopes, opts)
	if err != nil {
		return nil, err
	}

	apiURL := opts.RevokeURL
	if apiURL == "" {
		apiURL = githubAPIURL
	}
	revokeURL := strings.TrimRight(apiURL, "/") + "/applications/" + url.PathEscape(opts.ClientID) + "/grant"

	return &GitHubProvider{oauthProvider: base, revokeURL: revokeURL}, nil
}

// Revoke deletes the whole OAuth grant for token via
// DELETE /applications/{client_id}/grant with client credentials.
func (p *GitHubProvider) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	err := p.call(ctx, func(ctx context.Context) error {
		payload, err := json.Marshal(map[string]string{"access_token": token})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.revokeURL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if !revokeStatusOK(resp.StatusCode) {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			revokeErr := errors.RevocationError(p.key, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
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

var _ Provider = (*GitHubProvider)(nil)
