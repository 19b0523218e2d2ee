// Package providers defines the OAuth2 providers users can connect.
//
// Every provider exposes the same four lifecycle operations: build the consent
// URL, exchange an authorization code, refresh an access token and revoke a
// grant. Provider-specific API semantics live elsewhere.
//
// Implementations are built on golang.org/x/oauth2. Every network call runs
// under a bounded timeout and through a per-provider circuit breaker, and is
// never retried here.
package providers

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"area-connect/internal/circuitbreaker"
	"area-connect/internal/common/errors"
	commonhttp "area-connect/internal/common/http"
	"area-connect/internal/common/logging"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every provider call when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Provider is the capability set every OAuth2 provider implements.
type Provider interface {
	// Key is the registry identifier, e.g. "google".
	Key() string
	// AuthorizationURL builds the consent-screen URL embedding state.
	AuthorizationURL(state string) string
	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*Grant, error)
	// Refresh obtains a new access token. Failures carry CodeInvalidGrant when
	// only a new authorization can help, CodeTransient otherwise.
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
	// Revoke invalidates token at the provider. Best effort.
	Revoke(ctx context.Context, token string) error
}

// Grant is what a provider hands back from an exchange or refresh.
type Grant struct {
	AccessToken string
	// RefreshToken is empty when the provider did not issue or rotate one.
	RefreshToken string
	// ExpiresIn is zero for tokens that never expire.
	ExpiresIn time.Duration
	Scopes    []string
	TokenType string
}

// Options configure a provider instance.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes overrides the provider's default scope list.
	Scopes []string
	// Endpoint overrides the provider's OAuth2 endpoints.
	Endpoint *oauth2.Endpoint
	// RevokeURL overrides the provider's revocation endpoint.
	RevokeURL string
	// Timeout bounds each provider call.
	Timeout time.Duration
	// HTTPClient is used for all provider traffic.
	HTTPClient *http.Client
	// Breaker overrides the circuit breaker configuration.
	Breaker *circuitbreaker.Config
	Logger  logging.Logger
}

func (o Options) validate(key string) error {
	if o.ClientID == "" || o.ClientSecret == "" {
		return errors.ConfigError("client id and secret are required").WithContext("provider", key)
	}
	if o.RedirectURL == "" {
		return errors.ConfigError("redirect url is required").WithContext("provider", key)
	}
	return nil
}

// oauthProvider holds the behaviour shared by every golang.org/x/oauth2 based provider.
type oauthProvider struct {
	key     string
	config  *oauth2.Config
	client  *http.Client
	timeout time.Duration
	breaker *circuitbreaker.GoBreakerAdapter
	logger  logging.Logger
	// authOptions are appended to every AuthCodeURL call.
	authOptions []oauth2.AuthCodeOption
}

func newOAuthProvider(key string, endpoint oauth2.Endpoint, defaultScopes []string, opts Options) (*oauthProvider, error) {
	if err := opts.validate(key); err != nil {
		return nil, err
	}

	if opts.Endpoint != nil {
		endpoint = *opts.Endpoint
	}
	scopes := defaultScopes
	if len(opts.Scopes) > 0 {
		scopes = opts.Scopes
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = commonhttp.NewHTTPClientWithTimeout(timeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	breakerConfig := circuitbreaker.OAuthConfig
	if opts.Breaker != nil {
		breakerConfig = *opts.Breaker
	}

	return &oauthProvider{
		key: key,
		config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  opts.RedirectURL,
			Scopes:       scopes,
		},
		client:  client,
		timeout: timeout,
		breaker: circuitbreaker.NewGoBreaker("provider-"+key, breakerConfig, logger),
		logger:  logger.WithFields(logging.Field{Key: "provider", Value: key}),
	}, nil
}

func (p *oauthProvider) Key() string {
	return p.key
}

func (p *oauthProvider) AuthorizationURL(state string) string {
	return p.config.AuthCodeURL(state, p.authOptions...)
}

// call runs fn under the provider timeout and breaker, with the provider HTTP
// client installed for golang.org/x/oauth2.
func (p *oauthProvider) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	return p.breaker.Execute(ctx, func() error {
		return fn(ctx)
	})
}

func (p *oauthProvider) ExchangeCode(ctx context.Context, code string) (*Grant, error) {
	if code == "" {
		return nil, errors.ExchangeError(p.key, errors.ValidationError("authorization code is empty")).WithCode(errors.CodeRejected)
	}

	var token *oauth2.Token
	err := p.call(ctx, func(ctx context.Context) error {
		var err error
		token, err = p.config.Exchange(ctx, code)
		if err != nil {
			return p.classifyExchange(err)
		}
		return nil
	})
	if err != nil {
		if _, ok := errors.As(err); !ok || circuitbreaker.IsOpen(err) {
			err = errors.ExchangeError(p.key, err)
		}
		p.logger.Warn("Authorization code exchange failed", logging.Err(err))
		return nil, err
	}

	return p.grantFromToken(token), nil
}

func (p *oauthProvider) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, errors.RefreshError(p.key, true, errors.ValidationError("refresh token is empty"))
	}

	var token *oauth2.Token
	err := p.call(ctx, func(ctx context.Context) error {
		var err error
		token, err = p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return p.classifyRefresh(err)
		}
		return nil
	})
	if err != nil {
		if !errors.IsType(err, errors.ErrTypeRefresh) || circuitbreaker.IsOpen(err) {
			err = errors.RefreshError(p.key, false, err)
		}
		return nil, err
	}

	grant := p.grantFromToken(token)
	if grant.RefreshToken == refreshToken {
		grant.RefreshToken = ""
	}
	return grant, nil
}

// grantFromToken converts an oauth2.Token, falling back to the configured
// scopes when the provider does not echo the granted ones.
func (p *oauthProvider) grantFromToken(token *oauth2.Token) *Grant {
	grant := &Grant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
	}

	switch {
	case token.ExpiresIn > 0:
		grant.ExpiresIn = time.Duration(token.ExpiresIn) * time.Second
	case !token.Expiry.IsZero():
		grant.ExpiresIn = time.Until(token.Expiry).Round(time.Second)
	}

	if raw, ok := token.Extra("scope").(string); ok && raw != "" {
		grant.Scopes = ParseScopes(raw)
	} else {
		grant.Scopes = append([]string(nil), p.config.Scopes...)
	}

	return grant
}

// invalidGrantCodes are RFC 6749 error codes (plus GitHub's variants) that
// mean the grant itself is dead.
var invalidGrantCodes = map[string]bool{
	"invalid_grant":                true,
	"unauthorized_client":          true,
	"invalid_client":               true,
	"bad_refresh_token":            true,
	"bad_verification_code":        true,
	"incorrect_client_credentials": true,
}

// isDefinitiveRejection reports whether a token endpoint failure is a final
// answer about the request rather than a sign of provider trouble.
func isDefinitiveRejection(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !stderrors.As(err, &retrieveErr) {
		return false
	}
	if invalidGrantCodes[retrieveErr.ErrorCode] {
		return true
	}
	if retrieveErr.Response == nil {
		return false
	}
	status := retrieveErr.Response.StatusCode
	return status == http.StatusBadRequest || status == http.StatusUnauthorized
}

func (p *oauthProvider) classifyExchange(err error) error {
	appErr := errors.ExchangeError(p.key, err)
	if isDefinitiveRejection(err) {
		appErr.WithCode(errors.CodeRejected)
	}
	return appErr
}

func (p *oauthProvider) classifyRefresh(err error) error {
	return errors.RefreshError(p.key, isDefinitiveRejection(err), err)
}

// ParseScopes splits a scope string on spaces and commas, dropping
// duplicates while keeping first-seen order.
func ParseScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
	seen := make(map[string]bool, len(fields))
	scopes := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			scopes = append(scopes, f)
		}
	}
	return scopes
}

// revokeStatusOK reports whether a revocation response means success.
func revokeStatusOK(status int) bool {
	return status >= 200 && status < 300
}
