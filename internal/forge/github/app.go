package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/lucasew/gharun/internal/forge"
	"github.com/lucasew/gharun/internal/gateway"
)

const appTokenTimeout = 30 * time.Second

type AppConfig struct {
	AppID      int64
	PrivateKey []byte // PEM encoded RSA key
	// InstallationID is looked up from Repo when zero.
	InstallationID int64
	Repo           forge.Repo
	BaseURL        string
	HTTPClient     *http.Client
}

// appTokenSource exchanges the app key for short lived installation tokens.
type appTokenSource struct {
	appID          int64
	key            *rsa.PrivateKey
	installationID int64
	repo           forge.Repo
	baseURL        *url.URL
	httpClient     *http.Client
}

// NewAppTokenSource returns a token source minting installation tokens for a
// GitHub App. Tokens are cached until shortly before they expire.
func NewAppTokenSource(cfg AppConfig) (oauth2.TokenSource, error) {
	if cfg.AppID == 0 {
		return nil, fmt.Errorf("app id is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if cfg.InstallationID == 0 && cfg.Repo.Owner == "" {
		return nil, fmt.Errorf("installation id or repo is required")
	}

	src := &appTokenSource{
		appID:          cfg.AppID,
		key:            key,
		installationID: cfg.InstallationID,
		repo:           cfg.Repo,
		httpClient:     cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		raw := cfg.BaseURL
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		src.baseURL = u
	}
	return oauth2.ReuseTokenSource(nil, src), nil
}

// Token fails with *gateway.CredentialError, so API calls depending on it are
// not retried.
func (s *appTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.token()
	if err != nil {
		return nil, &gateway.CredentialError{Err: err}
	}
	return tok, nil
}

func (s *appTokenSource) token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), appTokenTimeout)
	defer cancel()

	client, err := s.appClient()
	if err != nil {
		return nil, err
	}

	id := s.installationID
	if id == 0 {
		inst, _, err := client.Apps.FindRepositoryInstallation(ctx, s.repo.Owner, s.repo.Name)
		if err != nil {
			return nil, fmt.Errorf("find installation: %w", err)
		}
		id = inst.GetID()
	}

	token, _, err := client.Apps.CreateInstallationToken(ctx, id, nil)
	if err != nil {
		return nil, fmt.Errorf("create installation token: %w", err)
	}

	return &oauth2.Token{
		AccessToken: token.GetToken(),
		TokenType:   "Bearer",
		Expiry:      token.GetExpiresAt().Time,
	}, nil
}

// appClient authenticates as the app itself with a signed JWT.
func (s *appTokenSource) appClient() (*github.Client, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": s.appID,
		// backdated to tolerate clock drift
		"iat": now.Add(-1 * time.Minute).Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("sign jwt: %w", err)
	}

	client := github.NewClient(s.httpClient).WithAuthToken(signed)
	if s.baseURL != nil {
		client.BaseURL = s.baseURL
	}
	return client, nil
}
