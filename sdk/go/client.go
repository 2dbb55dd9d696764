package studioflowsdk

import (
	"bytes"
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

// Client is a minimal Studioflow phase API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Phase is a pipeline stage (partial).
type Phase struct {
	ID                   string `json:"id"`
	Key                  string `json:"key"`
	Name                 string `json:"name"`
	Icon                 string `json:"icon,omitempty"`
	OrderIndex           int    `json:"order_index"`
	RequiresClientAction bool   `json:"requires_client_action"`
	IsSystemPhase        bool   `json:"is_system_phase"`
}

type ActionCheck struct {
	ID          string  `json:"id"`
	Key         string  `json:"key"`
	Description string  `json:"description"`
	IsRequired  bool    `json:"is_required"`
	IsCompleted bool    `json:"is_completed"`
	CompletedAt *string `json:"completed_at,omitempty"`
	CompletedBy *string `json:"completed_by,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

// PhaseState is a project's position in the pipeline.
type PhaseState struct {
	ProjectID           string            `json:"project_id"`
	Phase               Phase             `json:"phase"`
	PhaseIndex          int               `json:"phase_index"`
	TotalPhases         int               `json:"total_phases"`
	PhaseStartedAt      string            `json:"phase_started_at"`
	IsCompleted         bool              `json:"is_completed"`
	CompletedAt         *string           `json:"completed_at,omitempty"`
	Completions         map[string]string `json:"completions"`
	Actions             []ActionCheck     `json:"actions"`
	AllRequiredComplete bool              `json:"all_required_complete"`
}

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"owner_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Transition is one history entry.
type Transition struct {
	ID             string `json:"id"`
	Seq            int64  `json:"seq"`
	FromPhaseKey   string `json:"from_phase_key,omitempty"`
	ToPhaseKey     string `json:"to_phase_key"`
	TransitionedBy string `json:"transitioned_by"`
	ActorName      string `json:"actor_name"`
	Reason         string `json:"reason"`
	CreatedAt      string `json:"created_at"`
}

type HistoryPage struct {
	Entries []Transition `json:"entries"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ActionResult reports an action update and any automation it triggered.
type ActionResult struct {
	AllRequiredComplete bool `json:"all_required_complete"`
	Automation          struct {
		Evaluated bool   `json:"evaluated"`
		RuleID    string `json:"rule_id,omitempty"`
		Advanced  bool   `json:"advanced"`
		Completed bool   `json:"completed"`
		ToPhase   string `json:"to_phase,omitempty"`
	} `json:"automation"`
	State PhaseState `json:"state"`
}

// APIError wraps non-2xx responses. Code is the error envelope code when
// the server returned one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// CreateProject creates a project; ownerID may be empty to own it yourself.
func (c *Client) CreateProject(ctx context.Context, id, name, ownerID string) (Project, PhaseState, error) {
	body := map[string]any{"id": id, "name": name, "owner_id": ownerID}
	var resp struct {
		Project Project    `json:"project"`
		State   PhaseState `json:"state"`
	}
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp.Project, resp.State, err
}

// Phases lists the catalog in pipeline order.
func (c *Client) Phases(ctx context.Context) ([]Phase, error) {
	var resp []Phase
	err := c.do(ctx, http.MethodGet, "catalog/phases", nil, &resp)
	return resp, err
}

// State returns the current phase state of a project.
func (c *Client) State(ctx context.Context, projectID string) (PhaseState, error) {
	var resp PhaseState
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "phase"), nil, &resp)
	return resp, err
}

// History returns a page of transitions, newest first.
func (c *Client) History(ctx context.Context, projectID string, limit, offset int) (HistoryPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	endpoint := c.projectPath(projectID, "phase/history")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp HistoryPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Advance(ctx context.Context, projectID, reason string) (PhaseState, error) {
	return c.phaseOp(ctx, projectID, "advance", map[string]any{"reason": reason})
}

func (c *Client) JumpTo(ctx context.Context, projectID, phase, reason string) (PhaseState, error) {
	return c.phaseOp(ctx, projectID, "jump", map[string]any{"phase": phase, "reason": reason})
}

func (c *Client) Approve(ctx context.Context, projectID, phase, notes string) (PhaseState, error) {
	return c.phaseOp(ctx, projectID, "approve", map[string]any{"phase": phase, "notes": notes})
}

func (c *Client) Reject(ctx context.Context, projectID, phase, feedback string) (PhaseState, error) {
	return c.phaseOp(ctx, projectID, "reject", map[string]any{"phase": phase, "feedback": feedback})
}

// SetAction marks an action (id or key) complete or not complete.
func (c *Client) SetAction(ctx context.Context, projectID, action string, completed bool, notes string) (ActionResult, error) {
	var resp ActionResult
	body := map[string]any{"completed": completed, "notes": notes}
	err := c.do(ctx, http.MethodPut, c.projectPath(projectID, "actions/"+url.PathEscape(action)), body, &resp)
	return resp, err
}

type Rule struct {
	ID          string `json:"id"`
	FromPhaseID string `json:"from_phase_id"`
	RuleType    string `json:"rule_type"`
	Config      struct {
		AutoAdvance  bool `json:"auto_advance"`
		AutoComplete bool `json:"auto_complete,omitempty"`
	} `json:"rule_config"`
	IsActive bool `json:"is_active"`
}

// RulePatch holds optional rule changes; nil fields are left alone.
type RulePatch struct {
	AutoAdvance  *bool `json:"auto_advance,omitempty"`
	AutoComplete *bool `json:"auto_complete,omitempty"`
	Active       *bool `json:"active,omitempty"`
}

// Rules lists automation rules, optionally for one phase. Admin only.
func (c *Client) Rules(ctx context.Context, phase string) ([]Rule, error) {
	endpoint := "admin/rules"
	if phase != "" {
		endpoint += "?phase=" + url.QueryEscape(phase)
	}
	var resp struct {
		Items []Rule `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) CreateRule(ctx context.Context, phase string, autoAdvance, autoComplete bool) (Rule, error) {
	var resp Rule
	body := map[string]any{"phase": phase, "auto_advance": autoAdvance, "auto_complete": autoComplete}
	err := c.do(ctx, http.MethodPost, "admin/rules", body, &resp)
	return resp, err
}

func (c *Client) UpdateRule(ctx context.Context, ruleID string, patch RulePatch) (Rule, error) {
	var resp Rule
	err := c.do(ctx, http.MethodPatch, "admin/rules/"+url.PathEscape(ruleID), patch, &resp)
	return resp, err
}

func (c *Client) DeleteRule(ctx context.Context, ruleID string) error {
	return c.do(ctx, http.MethodDelete, "admin/rules/"+url.PathEscape(ruleID), nil, nil)
}

func (c *Client) phaseOp(ctx context.Context, projectID, op string, body any) (PhaseState, error) {
	var resp PhaseState
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "phase/"+op), body, &resp)
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Retryable, _ = env.Error.Details["retryable"].(bool)
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(projectID, p string) string {
	return fmt.Sprintf("projects/%s/%s", url.PathEscape(projectID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
