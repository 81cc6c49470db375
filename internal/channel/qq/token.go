package qq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultTokenTTL  = 7200 * time.Second
	tokenEarlyExpiry = 60 * time.Second

	// oauth2.TokenSource takes no context, so the fetch has its own bound.
	tokenTimeout = 5 * time.Second
)

// appTokenSource exchanges the app id and secret for an access token.
type appTokenSource struct {
	url       string
	appID     string
	appSecret string
	client    *http.Client
	now       func() time.Time
}

// newTokenSource returns a cached source that refreshes a minute before
// the token expires.
func newTokenSource(url, appID, appSecret string, client *http.Client) oauth2.TokenSource {
	src := &appTokenSource{url: url, appID: appID, appSecret: appSecret, client: client, now: time.Now}
	return oauth2.ReuseTokenSourceWithExpiry(nil, src, tokenEarlyExpiry)
}

func (s *appTokenSource) Token() (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{
		"appId":        s.appID,
		"clientSecret": s.appSecret,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch access token: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read access token: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch access token: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var result struct {
		AccessToken string          `json:"access_token"`
		ExpiresIn   json.RawMessage `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode access token: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("fetch access token: empty token in %s", strings.TrimSpace(string(raw)))
	}
	return &oauth2.Token{
		AccessToken: result.AccessToken,
		TokenType:   "QQBot",
		Expiry:      s.now().Add(parseTTL(result.ExpiresIn)),
	}, nil
}

// parseTTL reads expires_in, which the API sends as a quoted number of
// seconds. Anything unparsable falls back to two hours.
func parseTTL(raw json.RawMessage) time.Duration {
	s := strings.Trim(string(raw), `"`)
	secs, err := strconv.Atoi(s)
	if err != nil || secs <= 0 {
		return defaultTokenTTL
	}
	return time.Duration(secs) * time.Second
}
