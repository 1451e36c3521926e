package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client talks to the out-of-process OAuth relay. The relay holds the
// long-lived refresh credential server-side; this process only ever sees
// the short-lived access token it hands back.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Entry
}

// RefreshResult is the relay's POST /refresh-token response body.
type RefreshResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// ErrNoRefreshSession is returned when the relay holds no refresh
// credential for this session (HTTP 401). The only way out is a full
// re-authentication through the relay entry point.
type ErrNoRefreshSession struct {
	Status int
}

func (e ErrNoRefreshSession) Error() string {
	return fmt.Sprintf("relay holds no refresh session (status %d)", e.Status)
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger: log.WithFields(log.Fields{
			"module": "relay",
		}),
	}
}

// LoginURL is the authorization entry point. Unauthenticated users are sent
// here; the relay drives the vendor redirect exchange and lands them back on
// the app origin with access_token and expires_in query parameters.
func (c *Client) LoginURL() string {
	return c.baseURL
}

// RefreshToken exchanges the relay's server-side refresh credential for a
// new access token. No request body: the relay relies on its own session.
func (c *Client) RefreshToken(ctx context.Context) (*RefreshResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refresh-token", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrNoRefreshSession{Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh request returned status %d", resp.StatusCode)
	}

	var result RefreshResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("refresh response carried no access token")
	}

	c.logger.Debugf("refreshed access token in %v, expires in %ds", time.Since(start), result.ExpiresIn)
	return &result, nil
}
