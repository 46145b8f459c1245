// Package client is an HTTP client for the surveyflow API, used by the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quantai/surveyflow/internal/engine"
	"github.com/quantai/surveyflow/internal/gate"
	"github.com/quantai/surveyflow/internal/quota"
	"github.com/quantai/surveyflow/internal/snapshot"
)

// Client is an HTTP client for the surveyflow API
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CheckEligibility runs the eligibility gate for a respondent.
func (c *Client) CheckEligibility(ctx context.Context, surveyID int64, respondentID string) (*gate.Decision, error) {
	var decision gate.Decision
	err := c.post(ctx, fmt.Sprintf("/v1/surveys/%d/eligibility", surveyID),
		map[string]string{"respondentId": respondentID}, &decision)
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

// ResolveParams describes a hypothetical answer for a dry-run resolution.
type ResolveParams struct {
	QuestionID   int64           `json:"questionId"`
	RespondentID string          `json:"respondentId"`
	OptionIDs    []string        `json:"optionIds,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
}

// Resolve computes the next question for a hypothetical answer.
func (c *Client) Resolve(ctx context.Context, surveyID int64, params ResolveParams) (*engine.Resolution, error) {
	var res engine.Resolution
	if err := c.post(ctx, fmt.Sprintf("/v1/surveys/%d/resolve", surveyID), params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetStructure retrieves a survey's full structure.
func (c *Client) GetStructure(ctx context.Context, surveyID int64) (*snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	if err := c.get(ctx, fmt.Sprintf("/v1/surveys/%d/structure", surveyID), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListQuotas retrieves the quotas configured for a survey.
func (c *Client) ListQuotas(ctx context.Context, surveyID int64) ([]quota.Quota, error) {
	var result struct {
		Quotas []quota.Quota `json:"quotas"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v1/surveys/%d/quotas", surveyID), &result); err != nil {
		return nil, err
	}
	return result.Quotas, nil
}

// UpsertQuotaParams configures one per-country quota.
type UpsertQuotaParams struct {
	Country      string             `json:"country"`
	Limit        int                `json:"limit"`
	ActionOnFull quota.ActionOnFull `json:"actionOnFull"`
	Status       quota.Status       `json:"status,omitempty"`
}

// UpsertQuota creates or updates a quota for a survey.
func (c *Client) UpsertQuota(ctx context.Context, surveyID int64, params UpsertQuotaParams) error {
	return c.put(ctx, fmt.Sprintf("/v1/surveys/%d/quotas", surveyID), params, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) put(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPut, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
