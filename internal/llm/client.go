// Package llm is the LLM Gateway: a single complete() call over the
// vendor's batch-submit-and-poll endpoint, with layered cached system
// prompts and cost-accounted persistence of every exchange.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const anthropicVersion = "2023-06-01"

// batchClient talks to the vendor's batch endpoint. Its HTTP transport is
// built the same way internal/infrastructure/llm/anthropic/provider.go
// builds its client: bounded dial/TLS/idle timeouts instead of
// http.DefaultClient.
type batchClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.Logger
}

func newBatchClient(baseURL, apiKey string, log *zap.Logger) *batchClient {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &batchClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Transport: transport},
		log:     log.With(zap.String("component", "llm_batch_client")),
	}
}

func (c *batchClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

// submit creates a single-element batch and returns its id.
func (c *batchClient) submit(ctx context.Context, req wireRequest) (string, error) {
	payload := createBatchRequest{Requests: []batchRequestItem{{CustomID: "req-1", Params: req}}}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal batch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages/batches", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build batch request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit batch: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("batch submit error %d: %s", resp.StatusCode, string(respBody))
	}

	var status batchStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return "", fmt.Errorf("parse batch submit response: %w", err)
	}
	return status.ID, nil
}

// poll returns the current status of a batch.
func (c *batchClient) poll(ctx context.Context, batchID string) (*batchStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/messages/batches/"+batchID, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("poll batch: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch poll error %d: %s", resp.StatusCode, string(respBody))
	}

	var status batchStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("parse batch poll response: %w", err)
	}
	return &status, nil
}

// fetchResult downloads the single-line JSONL results file and returns the
// one result line for our single-element batch.
func (c *batchClient) fetchResult(ctx context.Context, resultsURL string) (*batchResultLine, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, resultsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build results request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("results fetch error %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if scanner.Scan() {
		var line batchResultLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("parse result line: %w", err)
		}
		return &line, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}
	return nil, fmt.Errorf("empty results file")
}
