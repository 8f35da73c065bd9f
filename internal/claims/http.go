package claims

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/koskedk/dwh-identity/internal/core"

	retry "github.com/appleboy/go-httpretry"
)

var _ core.ClaimsProvider = (*HTTPProvider)(nil)

// APIClaimsRequest is the payload sent to the claims API
type APIClaimsRequest struct {
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes"`
}

// APIClaimsResponse is the expected response from the claims API
type APIClaimsResponse struct {
	Success bool           `json:"success"`
	Claims  map[string]any `json:"claims,omitempty"`
	Message string         `json:"message,omitempty"`
}

// HTTPProvider fetches claims from an external API
type HTTPProvider struct {
	url         string
	retryClient *retry.Client
}

func NewHTTPProvider(url string, retryClient *retry.Client) *HTTPProvider {
	return &HTTPProvider{
		url:         url,
		retryClient: retryClient,
	}
}

func (p *HTTPProvider) Name() string {
	return "http_api"
}

// GetClaims posts the subject and scopes and returns the claims the API
// releases. Every failure is reported as ErrClaimsUnavailable.
func (p *HTTPProvider) GetClaims(ctx context.Context, subject string, scopes []string) (map[string]any, error) {
	jsonData, err := json.Marshal(APIClaimsRequest{Subject: subject, Scopes: scopes})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", core.ErrClaimsUnavailable, err)
	}

	resp, err := p.retryClient.Post(
		ctx,
		p.url,
		retry.WithBody("application/json", bytes.NewBuffer(jsonData)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrClaimsUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response", core.ErrClaimsUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		return nil, fmt.Errorf(
			"%w: HTTP %d - %s",
			core.ErrClaimsUnavailable,
			resp.StatusCode,
			bodyPreview,
		)
	}

	var apiResp APIClaimsResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrClaimsUnavailable, err)
	}
	if !apiResp.Success {
		return nil, fmt.Errorf("%w: %s", core.ErrClaimsUnavailable, apiResp.Message)
	}

	if apiResp.Claims == nil {
		apiResp.Claims = map[string]any{}
	}
	return apiResp.Claims, nil
}
