package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// ErrUnknownProvider is returned when an operation names a provider that was
// not registered with the [Manager].
var ErrUnknownProvider = errors.New("unknown oauth provider")

// Profile is the normalized identity a provider asserts about a user.
// Subject is the provider's stable user identifier; the (provider, subject)
// pair is what gets linked to an account.
type Profile struct {
	Provider  string
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

// Provider bundles an oauth2 client configuration with the provider's
// userinfo endpoint and response mapping.
type Provider struct {
	Name         string
	Config       *oauth2.Config
	UserInfoURL  string
	ParseProfile func(raw []byte) (Profile, error)
}

// Manager defines a public type used by warden APIs.
//
// Manager instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Manager struct {
	providers map[string]Provider
}

// NewManager builds a provider registry. Provider names must be non-empty
// and unique.
func NewManager(providers ...Provider) (*Manager, error) {
	m := &Manager{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p.Name == "" {
			return nil, errors.New("provider name must not be empty")
		}
		if p.Config == nil {
			return nil, fmt.Errorf("provider %q has no oauth2 config", p.Name)
		}
		if p.UserInfoURL == "" || p.ParseProfile == nil {
			return nil, fmt.Errorf("provider %q has no userinfo mapping", p.Name)
		}
		if _, exists := m.providers[p.Name]; exists {
			return nil, fmt.Errorf("provider %q registered twice", p.Name)
		}
		m.providers[p.Name] = p
	}
	return m, nil
}

// Providers lists the registered provider names.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// AuthURL builds the provider's consent URL carrying the given state token.
func (m *Manager) AuthURL(provider string, state string) (string, error) {
	p, ok := m.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return p.Config.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Exchange redeems an authorization code for a provider token.
func (m *Manager) Exchange(ctx context.Context, provider string, code string) (*oauth2.Token, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return p.Config.Exchange(ctx, code)
}

// FetchProfile calls the provider's userinfo endpoint with the given token
// and returns the normalized profile.
func (m *Manager) FetchProfile(ctx context.Context, provider string, token *oauth2.Token) (Profile, error) {
	p, ok := m.providers[provider]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	client := p.Config.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("userinfo request for %q: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("userinfo request for %q: status %d", provider, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Profile{}, err
	}

	profile, err := p.ParseProfile(raw)
	if err != nil {
		return Profile{}, fmt.Errorf("userinfo mapping for %q: %w", provider, err)
	}
	profile.Provider = p.Name

	if profile.Subject == "" {
		return Profile{}, fmt.Errorf("userinfo mapping for %q: empty subject", provider)
	}

	return profile, nil
}

// Google builds the Google provider with OIDC userinfo mapping.
func Google(clientID, clientSecret, redirectURL string) Provider {
	return Provider{
		Name: "google",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		ParseProfile: func(raw []byte) (Profile, error) {
			var body struct {
				Sub     string `json:"sub"`
				Email   string `json:"email"`
				Name    string `json:"name"`
				Picture string `json:"picture"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				return Profile{}, err
			}
			return Profile{
				Subject:   body.Sub,
				Email:     body.Email,
				Name:      body.Name,
				AvatarURL: body.Picture,
			}, nil
		},
	}
}

// GitHub builds the GitHub provider. GitHub hides the primary email for
// some accounts; callers must handle an empty Profile.Email.
func GitHub(clientID, clientSecret, redirectURL string) Provider {
	return Provider{
		Name: "github",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"user:email"},
		},
		UserInfoURL: "https://api.github.com/user",
		ParseProfile: func(raw []byte) (Profile, error) {
			var body struct {
				ID        int64  `json:"id"`
				Email     string `json:"email"`
				Name      string `json:"name"`
				Login     string `json:"login"`
				AvatarURL string `json:"avatar_url"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				return Profile{}, err
			}
			if body.ID == 0 {
				return Profile{}, errors.New("missing user id")
			}
			name := body.Name
			if name == "" {
				name = body.Login
			}
			return Profile{
				Subject:   strconv.FormatInt(body.ID, 10),
				Email:     body.Email,
				Name:      name,
				AvatarURL: body.AvatarURL,
			}, nil
		},
	}
}
