// Package auth obtains a GitHub token through the OAuth device flow so the
// release catalog is not held to the anonymous API rate limit.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const githubDefaultBaseURL = "https://github.com"

var (
	// ErrExpired means the user did not approve the code in time.
	ErrExpired = errors.New("device code expired")
	// ErrDenied means the user rejected the authorization request.
	ErrDenied = errors.New("access denied by user")
)

// Code is the device authorization issued by GitHub.
type Code struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// DeviceFlow implements the GitHub OAuth device authorization flow.
type DeviceFlow struct {
	clientID string
	baseURL  string
	client   *http.Client
}

// NewDeviceFlow creates a DeviceFlow. Pass an empty baseURL for github.com.
func NewDeviceFlow(clientID, baseURL string) *DeviceFlow {
	if baseURL == "" {
		baseURL = githubDefaultBaseURL
	}
	return &DeviceFlow{
		clientID: clientID,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Login requests a code, writes the instructions to prompt and blocks until
// the user approves, the code expires or ctx is done.
func (f *DeviceFlow) Login(ctx context.Context, prompt io.Writer) (string, error) {
	code, err := f.RequestCode(ctx)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(prompt, "Visit:      %s\n", code.VerificationURI)
	fmt.Fprintf(prompt, "Enter code: %s\n", code.UserCode)
	fmt.Fprintf(prompt, "Waiting for authorization...\n")

	if code.ExpiresIn > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(code.ExpiresIn)*time.Second)
		defer cancel()
	}
	token, err := f.PollToken(ctx, code.DeviceCode, time.Duration(code.Interval)*time.Second)
	if errors.Is(err, context.DeadlineExceeded) {
		return "", ErrExpired
	}
	return token, err
}

// RequestCode asks GitHub for a device and user code. Public release
// assets need no scope.
func (f *DeviceFlow) RequestCode(ctx context.Context) (Code, error) {
	var code Code
	err := f.post(ctx, "/login/device/code", url.Values{"client_id": {f.clientID}}, &code)
	if err != nil {
		return Code{}, fmt.Errorf("requesting device code: %w", err)
	}
	if code.DeviceCode == "" {
		return Code{}, fmt.Errorf("requesting device code: empty response")
	}
	return code, nil
}

// PollToken polls until an access token is granted. A zero interval polls
// without waiting.
func (f *DeviceFlow) PollToken(ctx context.Context, deviceCode string, interval time.Duration) (string, error) {
	form := url.Values{
		"client_id":   {f.clientID},
		"device_code": {deviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}

		var resp struct {
			AccessToken string `json:"access_token"`
			Error       string `json:"error"`
		}
		if err := f.post(ctx, "/login/oauth/access_token", form, &resp); err != nil {
			return "", fmt.Errorf("polling token: %w", err)
		}

		switch resp.Error {
		case "":
			if resp.AccessToken != "" {
				return resp.AccessToken, nil
			}
		case "authorization_pending":
		case "slow_down":
			interval += 5 * time.Second
		case "expired_token":
			return "", ErrExpired
		case "access_denied":
			return "", ErrDenied
		default:
			msg := resp.Error
			if len(msg) > 100 {
				msg = msg[:100]
			}
			return "", fmt.Errorf("unexpected error from GitHub: %s", msg)
		}
	}
}

func (f *DeviceFlow) post(ctx context.Context, path string, form url.Values, target interface{}) error {
	endpoint, err := url.JoinPath(f.baseURL, path)
	if err != nil {
		return fmt.Errorf("building URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
