package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const maxUserInfoBytes = 1 << 16 // 64 KiB

// ProviderConfig describes the OAuth endpoints and credentials for the
// identity platform.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

func (c ProviderConfig) validate() error {
	switch {
	case strings.TrimSpace(c.ClientID) == "":
		return fmt.Errorf("oracle: provider client id required")
	case strings.TrimSpace(c.AuthURL) == "":
		return fmt.Errorf("oracle: provider auth url required")
	case strings.TrimSpace(c.TokenURL) == "":
		return fmt.Errorf("oracle: provider token url required")
	case strings.TrimSpace(c.UserInfoURL) == "":
		return fmt.Errorf("oracle: provider userinfo url required")
	}
	return nil
}

// userInfo is the subset of the provider's profile payload the verifier
// consumes: the stable internal id and the current display handle.
type userInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Verifier runs the authorization-code exchange that proves the caller
// controls a handle, then converts the result into a bounded-lifetime
// session keyed by the provider's stable user id.
type Verifier struct {
	oauth       *oauth2.Config
	userInfoURL string
	sessions    *SessionManager
}

func NewVerifier(cfg ProviderConfig, sessions *SessionManager) (*Verifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if sessions == nil {
		return nil, fmt.Errorf("oracle: session manager required")
	}
	return &Verifier{
		oauth: &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  strings.TrimSpace(cfg.AuthURL),
				TokenURL: strings.TrimSpace(cfg.TokenURL),
			},
		},
		userInfoURL: strings.TrimSpace(cfg.UserInfoURL),
		sessions:    sessions,
	}, nil
}

// LoginURL returns the provider page the user must visit to authorize.
func (v *Verifier) LoginURL(state string) string {
	return v.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// CompleteLogin exchanges the authorization code, resolves the caller's
// stable id and current handle, and issues a session token.
func (v *Verifier) CompleteLogin(ctx context.Context, code string) (string, *Session, error) {
	if strings.TrimSpace(code) == "" {
		return "", nil, ErrUnauthenticated
	}
	token, err := v.oauth.Exchange(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("%w: code exchange: %v", ErrUnauthenticated, err)
	}
	info, err := v.fetchUserInfo(ctx, token)
	if err != nil {
		return "", nil, err
	}
	signed, err := v.sessions.Issue(info.ID, strings.ToLower(info.Username))
	if err != nil {
		return "", nil, err
	}
	session, err := v.sessions.Verify(signed)
	if err != nil {
		return "", nil, err
	}
	return signed, session, nil
}

func (v *Verifier) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*userInfo, error) {
	client := v.oauth.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: build userinfo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch userinfo: %v", ErrUnauthenticated, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo status %d", ErrUnauthenticated, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("oracle: read userinfo: %w", err)
	}
	info := &userInfo{}
	if err := json.Unmarshal(body, info); err != nil {
		return nil, fmt.Errorf("oracle: decode userinfo: %w", err)
	}
	if strings.TrimSpace(info.ID) == "" || strings.TrimSpace(info.Username) == "" {
		return nil, fmt.Errorf("%w: incomplete userinfo", ErrUnauthenticated)
	}
	return info, nil
}
