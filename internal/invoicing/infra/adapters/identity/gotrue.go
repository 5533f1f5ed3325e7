// Package identity verifies bearer tokens against a GoTrue-compatible
// identity provider.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

var _ ports.TokenVerifier = (*GoTrueVerifier)(nil)

type GoTrueVerifier struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// errorResponse covers the error shapes GoTrue has used across versions.
type errorResponse struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

func (e errorResponse) text() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func NewGoTrueVerifier(baseURL, apiKey string, timeout time.Duration, httpClient *http.Client) *GoTrueVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &GoTrueVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		client:  httpClient,
	}
}

// Verify asks the provider who owns token. A rejection is returned as
// *ports.VerificationError; transport failures are returned as plain errors.
func (v *GoTrueVerifier) Verify(ctx context.Context, token string) (entity.Caller, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return entity.Caller{}, fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		req.Header.Set("apikey", v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return entity.Caller{}, fmt.Errorf("identity: verify token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return entity.Caller{}, fmt.Errorf("identity: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// 5xx is the provider's problem, not the token's.
		if resp.StatusCode >= 500 {
			return entity.Caller{}, fmt.Errorf("identity: provider returned HTTP %d", resp.StatusCode)
		}
		var er errorResponse
		msg := ""
		if json.Unmarshal(body, &er) == nil {
			msg = er.text()
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return entity.Caller{}, &ports.VerificationError{Status: resp.StatusCode, Message: msg}
	}

	var u userResponse
	if err := json.Unmarshal(body, &u); err != nil {
		return entity.Caller{}, fmt.Errorf("identity: decode user: %w", err)
	}
	if u.ID == "" {
		return entity.Caller{}, &ports.VerificationError{Status: resp.StatusCode, Message: "token resolved to no user"}
	}
	return entity.Caller{ID: u.ID, Email: u.Email}, nil
}
