package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
)

// RESTConfig carries the connection parameters of the tracker's REST
// API. Credentials are sent as basic auth.
type RESTConfig struct {
	BaseURL string
	// Username and Token authenticate the integration account.
	Username string
	Token    string
	// ProjectKey is the tracker project fulfillment issues land in.
	ProjectKey string
	// IssueType and ProjectIssueType name the issue types used for
	// orders and for project umbrella issues.
	IssueType        string
	ProjectIssueType string
	Timeout          time.Duration
}

// RESTClient talks to a Jira-compatible REST API.
type RESTClient struct {
	cfg  RESTConfig
	http *http.Client
}

var _ Client = (*RESTClient)(nil)

func NewRESTClient(cfg RESTConfig) *RESTClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &RESTClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type issueFields struct {
	Summary     string   `json:"summary"`
	Description string   `json:"description,omitempty"`
	Project     keyRef   `json:"project"`
	IssueType   nameRef  `json:"issuetype"`
	Labels      []string `json:"labels,omitempty"`
}

type keyRef struct {
	Key string `json:"key"`
}

type nameRef struct {
	Name string `json:"name"`
}

type createIssueRequest struct {
	Fields issueFields `json:"fields"`
}

type issueResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

func (c *RESTClient) CreateIssue(ctx context.Context, order domain.Order) (Issue, error) {
	req := createIssueRequest{
		Fields: issueFields{
			Summary:   fmt.Sprintf("Order %s", order.ID),
			Project:   keyRef{Key: c.cfg.ProjectKey},
			IssueType: nameRef{Name: c.cfg.IssueType},
			Labels:    []string{"order", "offer:" + order.OfferID, "project:" + order.ProjectID},
		},
	}

	var resp issueResponse
	if err := c.post(ctx, "/rest/api/2/issue", req, &resp, "create issue"); err != nil {
		return Issue{}, err
	}
	return Issue{ID: resp.ID, Key: resp.Key}, nil
}

func (c *RESTClient) RegisterProject(ctx context.Context, project domain.Project) (Issue, error) {
	req := createIssueRequest{
		Fields: issueFields{
			Summary:   fmt.Sprintf("Project %s", project.Name),
			Project:   keyRef{Key: c.cfg.ProjectKey},
			IssueType: nameRef{Name: c.cfg.ProjectIssueType},
			Labels:    []string{"project:" + project.ID},
		},
	}

	var resp issueResponse
	if err := c.post(ctx, "/rest/api/2/issue", req, &resp, "register project"); err != nil {
		return Issue{}, err
	}
	return Issue{ID: resp.ID, Key: resp.Key}, nil
}

func (c *RESTClient) AddComment(ctx context.Context, issueID, body string) (string, error) {
	req := map[string]string{"body": body}

	var resp struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/rest/api/2/issue/%s/comment", issueID)
	if err := c.post(ctx, path, req, &resp, "add comment"); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *RESTClient) TransitionIssue(ctx context.Context, issueID, transitionID string) error {
	req := map[string]any{
		"transition": map[string]string{"id": transitionID},
	}
	path := fmt.Sprintf("/rest/api/2/issue/%s/transitions", issueID)
	if err := c.post(ctx, path, req, nil, "transition issue"); err != nil {
		var te *Error
		if errors.As(err, &te) && te.Kind == ErrorKindValidation {
			// The tracker reports an illegal workflow move as a bad
			// request; reclassify so callers can tell them apart.
			te.Kind = ErrorKindWorkflow
		}
		return err
	}
	return nil
}

func (c *RESTClient) post(ctx context.Context, path string, payload, out any, op string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Kind: ErrorKindValidation, Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: ErrorKindConnection, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.Username, c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: ErrorKindConnection, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: ErrorKindConnection, Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	respErr := fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return &Error{Kind: ErrorKindValidation, Op: op, Err: respErr}
	default:
		return &Error{Kind: ErrorKindConnection, Op: op, Err: respErr}
	}
}
