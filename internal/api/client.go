package api

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Client is the agent's handle on the server's /agent-api/ surface, grounded
// on the teacher's flat Client{baseURL} shape.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) GetConfig(ctx context.Context) (*ConfigResponse, error) {
	return getJSON[ConfigResponse](ctx, c.httpClient, c.baseURL+"/agent-api/config", c.token)
}

// NextExperiment returns nil, nil when the server has no work for this agent.
func (c *Client) NextExperiment(ctx context.Context) (*ExperimentDescriptor, error) {
	resp, err := getJSON[*ExperimentDescriptor](ctx, c.httpClient, c.baseURL+"/agent-api/next-experiment", c.token)
	if err != nil {
		return nil, err
	}
	return *resp, nil
}

func (c *Client) RecordProgress(ctx context.Context, req *RecordProgressRequest) error {
	_, err := postJSON[RecordProgressRequest, bool](ctx, c.httpClient,
		c.baseURL+"/agent-api/record-progress", c.token, req)
	return err
}

func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := postJSON[struct{}, bool](ctx, c.httpClient, c.baseURL+"/agent-api/heartbeat", c.token, &struct{}{})
	return err
}

func (c *Client) ReportError(ctx context.Context, req *ErrorRequest) error {
	_, err := postJSON[ErrorRequest, bool](ctx, c.httpClient, c.baseURL+"/agent-api/error", c.token, req)
	return err
}
