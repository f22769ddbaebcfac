package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/botfleet/botfleet"
)

// APIClient talks to a running botfleet daemon.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8085"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *APIClient) do(method, path string, body any, out any) error {
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		return fmt.Errorf("daemon error: %s", errResp.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *APIClient) List() ([]botfleet.Record, error) {
	var recs []botfleet.Record
	err := c.do(http.MethodGet, "/api/bots", nil, &recs)
	return recs, err
}

func (c *APIClient) Start(script, profile string) (botfleet.Record, error) {
	var rec botfleet.Record
	err := c.do(http.MethodPost, "/api/bots", map[string]string{"script": script, "profile": profile}, &rec)
	return rec, err
}

func (c *APIClient) Stop(pid int) error {
	return c.do(http.MethodPost, "/api/bots/"+strconv.Itoa(pid)+"/stop", nil, nil)
}

func (c *APIClient) Restart(pid int) (botfleet.Record, error) {
	var rec botfleet.Record
	err := c.do(http.MethodPost, "/api/bots/"+strconv.Itoa(pid)+"/restart", nil, &rec)
	return rec, err
}

func (c *APIClient) ToggleAntiCrash(pid int) (bool, error) {
	var resp struct {
		AntiCrash bool `json:"anti_crash"`
	}
	err := c.do(http.MethodPost, "/api/bots/"+strconv.Itoa(pid)+"/anticrash", nil, &resp)
	return resp.AntiCrash, err
}

func (c *APIClient) Remove(pid int) error {
	return c.do(http.MethodDelete, "/api/bots/"+strconv.Itoa(pid), nil, nil)
}

func (c *APIClient) Scan(signature string) (int, error) {
	path := "/api/scan"
	if signature != "" {
		path += "?signature=" + url.QueryEscape(signature)
	}
	var resp struct {
		Detected int `json:"detected"`
	}
	err := c.do(http.MethodPost, path, nil, &resp)
	return resp.Detected, err
}

func (c *APIClient) Cleanup(age time.Duration) (int, error) {
	path := "/api/cleanup"
	if age > 0 {
		path += "?age=" + url.QueryEscape(age.String())
	}
	var resp struct {
		Removed int `json:"removed"`
	}
	err := c.do(http.MethodPost, path, nil, &resp)
	return resp.Removed, err
}

func (c *APIClient) History(profile string, limit int) ([]map[string]any, error) {
	q := url.Values{}
	if profile != "" {
		q.Set("profile", profile)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/history"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var events []map[string]any
	err := c.do(http.MethodGet, path, nil, &events)
	return events, err
}
