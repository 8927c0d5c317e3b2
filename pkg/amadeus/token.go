package amadeus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"farescope/internal/utils"
)

// Tokens are refreshed this long before their advertised expiry, so a token
// handed out right before a search cannot expire mid-call.
const refreshMargin = 30 * time.Second

// Credential is the cached access token. It lives only in memory.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// TokenSource owns the client-credentials grant against the auth endpoint.
// The mutex makes refreshes single-flight: concurrent callers block on the
// one in-progress refresh and reuse its result.
type TokenSource struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *retryablehttp.Client
	now          func() time.Time

	mu   sync.Mutex
	cred Credential
}

func NewTokenSource(baseURL, clientID, clientSecret string, httpClient *retryablehttp.Client) *TokenSource {
	return &TokenSource{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         httpClient,
		now:          time.Now,
	}
}

// Token returns the cached access token, transparently re-requesting it
// once it has expired or is inside the safety margin.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.cred.AccessToken != "" && ts.now().Before(ts.cred.ExpiresAt.Add(-refreshMargin)) {
		return ts.cred.AccessToken, nil
	}

	cred, err := ts.grant(ctx)
	if err != nil {
		return "", &AuthError{Err: err}
	}

	utils.Log.WithField("expires_at", cred.ExpiresAt.Format(time.RFC3339)).Debug("obtained access token")
	ts.cred = cred
	return cred.AccessToken, nil
}

// Invalidate drops the cached credential so the next Token call refreshes.
// Used when the search endpoint rejects a token we still believed valid.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.cred = Credential{}
	ts.mu.Unlock()
}

func (ts *TokenSource) grant(ctx context.Context) (Credential, error) {
	if ts.clientID == "" || ts.clientSecret == "" {
		return Credential{}, fmt.Errorf("client id and client secret are required")
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {ts.clientID},
		"client_secret": {ts.clientSecret},
	}

	req, err := retryablehttp.NewRequestWithContext(
		ctx, http.MethodPost, ts.baseURL+tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.http.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("auth endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("auth endpoint returned HTTP %d", resp.StatusCode)
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return Credential{}, fmt.Errorf("auth response contains no access_token")
	}

	expiresIn := gjson.GetBytes(body, "expires_in").Int()
	return Credential{
		AccessToken: token,
		ExpiresAt:   ts.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
