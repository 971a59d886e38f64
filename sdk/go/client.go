package opsdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Opsdesk HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// AgencyClient represents an agency client record.
type AgencyClient struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Asset represents a template asset.
type Asset struct {
	ID                     int64   `json:"id"`
	TemplateID             string  `json:"template_id"`
	Type                   string  `json:"type"`
	Name                   string  `json:"name"`
	URL                    *string `json:"url,omitempty"`
	Description            *string `json:"description,omitempty"`
	IsRequired             bool    `json:"is_required"`
	DefaultFrequency       *int    `json:"default_frequency,omitempty"`
	DefaultDurationMinutes *int    `json:"default_duration_minutes,omitempty"`
}

// Template represents a task template with its assets.
type Template struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	PackageRef  string  `json:"package_ref,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	Assets      []Asset `json:"assets,omitempty"`
}

// Task represents a generated task (partial).
type Task struct {
	ID           int64  `json:"id"`
	AssignmentID string `json:"assignment_id"`
	AssetID      *int64 `json:"asset_id,omitempty"`
	Title        string `json:"title"`
	DueDate      string `json:"due_date"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
}

// AssetSetting carries per-client posting cadence for one asset.
type AssetSetting struct {
	ID                   int64   `json:"id"`
	AssignmentID         string  `json:"assignment_id"`
	AssetID              int64   `json:"asset_id"`
	RequiredFrequency    *int    `json:"required_frequency,omitempty"`
	Period               *string `json:"period,omitempty"`
	IdealDurationMinutes *int    `json:"ideal_duration_minutes,omitempty"`
}

// ForkCounts summarizes what a fork changed.
type ForkCounts struct {
	TasksCreated        int `json:"tasks_created"`
	TasksArchived       int `json:"tasks_archived"`
	AssetsAdded         int `json:"assets_added"`
	AssetsReplaced      int `json:"assets_replaced"`
	ReplacementsSkipped int `json:"replacements_skipped"`
	SettingsMigrated    int `json:"settings_migrated"`
}

// Assignment is the full assignment state returned by reads and forks.
type Assignment struct {
	Assignment struct {
		ID         string  `json:"id"`
		ClientID   string  `json:"client_id"`
		TemplateID *string `json:"template_id,omitempty"`
		CreatedAt  string  `json:"created_at"`
		UpdatedAt  string  `json:"updated_at"`
	} `json:"assignment"`
	Template          *Template      `json:"template,omitempty"`
	Tasks             []Task         `json:"tasks"`
	Settings          []AssetSetting `json:"settings"`
	Counts            *ForkCounts    `json:"counts,omitempty"`
	Skipped           bool           `json:"skipped,omitempty"`
	PreviousOperation string         `json:"previous_operation,omitempty"`
}

// NewAsset describes an asset to add during a fork.
type NewAsset struct {
	Type                        string  `json:"type"`
	Name                        string  `json:"name"`
	CustomName                  *string `json:"custom_name,omitempty"`
	URL                         *string `json:"url,omitempty"`
	Description                 *string `json:"description,omitempty"`
	IsRequired                  bool    `json:"is_required"`
	DefaultPostingFrequency     *int    `json:"default_posting_frequency,omitempty"`
	DefaultIdealDurationMinutes *int    `json:"default_ideal_duration_minutes,omitempty"`
}

// Replacement swaps one cloned asset for a new definition during a fork.
type Replacement struct {
	OldAssetID                  int64   `json:"old_asset_id"`
	NewAssetName                string  `json:"new_asset_name"`
	NewAssetType                *string `json:"new_asset_type,omitempty"`
	NewAssetURL                 *string `json:"new_asset_url,omitempty"`
	NewAssetDescription         *string `json:"new_asset_description,omitempty"`
	IsRequired                  *bool   `json:"is_required,omitempty"`
	DefaultPostingFrequency     *int    `json:"default_posting_frequency,omitempty"`
	DefaultIdealDurationMinutes *int    `json:"default_ideal_duration_minutes,omitempty"`
}

// ForkRequest is the fork operation payload.
type ForkRequest struct {
	NewAssets          []NewAsset    `json:"new_assets,omitempty"`
	Replacements       []Replacement `json:"replacements,omitempty"`
	CustomTemplateName *string       `json:"custom_template_name,omitempty"`
	IdempotencyKey     *string       `json:"idempotency_key,omitempty"`
	ForceRecreate      bool          `json:"force_recreate,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateClient registers an agency client.
func (c *Client) CreateClient(ctx context.Context, name string) (AgencyClient, error) {
	var resp AgencyClient
	err := c.do(ctx, http.MethodPost, "v0/clients", map[string]any{"name": name}, &resp)
	return resp, err
}

// CreateTemplate creates a shared template.
func (c *Client) CreateTemplate(ctx context.Context, name string, assets []NewAsset) (Template, error) {
	body := map[string]any{"name": name}
	if len(assets) > 0 {
		converted := make([]map[string]any, 0, len(assets))
		for _, a := range assets {
			converted = append(converted, map[string]any{
				"type":                     a.Type,
				"name":                     a.Name,
				"url":                      a.URL,
				"description":              a.Description,
				"is_required":              a.IsRequired,
				"default_frequency":        a.DefaultPostingFrequency,
				"default_duration_minutes": a.DefaultIdealDurationMinutes,
			})
		}
		body["assets"] = converted
	}
	var resp Template
	err := c.do(ctx, http.MethodPost, "v0/templates", body, &resp)
	return resp, err
}

// CreateAssignment binds a client to a template.
func (c *Client) CreateAssignment(ctx context.Context, clientID, templateID string) (Assignment, error) {
	body := map[string]any{"client_id": clientID, "template_id": templateID}
	var resp Assignment
	err := c.do(ctx, http.MethodPost, "v0/assignments", body, &resp)
	return resp, err
}

// GetAssignment fetches the full assignment state.
func (c *Client) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	var resp Assignment
	endpoint := fmt.Sprintf("v0/assignments/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ForkTemplate forks the assignment's template and returns the new state.
func (c *Client) ForkTemplate(ctx context.Context, assignmentID string, req ForkRequest) (Assignment, error) {
	var resp Assignment
	endpoint := fmt.Sprintf("v0/assignments/%s/fork", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodPost, endpoint, req, &resp)
	return resp, err
}

// ListTasks returns tasks for an assignment, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, assignmentID, status string) ([]Task, error) {
	endpoint := fmt.Sprintf("v0/assignments/%s/tasks", url.PathEscape(assignmentID))
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
