package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a running records server.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, secret string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the records server is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Players lists the players the server holds records for.
func (c *Client) Players() ([]string, error) {
	var ids []string
	if err := c.get("/api/players", &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Leaderboard returns the fastest personal bests for boss.
func (c *Client) Leaderboard(boss string, limit int) ([]Entry, error) {
	path := "/api/leaderboard/" + url.PathEscape(boss)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var entries []Entry
	if err := c.get(path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Result is the server's answer to an event. SendError is set when the
// event was stored but could not be delivered to every observer.
type Result struct {
	Status    string `json:"status"`
	SendError string `json:"sendError,omitempty"`
}

// Attempt reports the start of a fight.
func (c *Client) Attempt(req AttemptRequest) (Result, error) {
	return c.post("/api/events/attempt", req)
}

// Death reports a player dying during a fight.
func (c *Client) Death(req DeathRequest) (Result, error) {
	return c.post("/api/events/death", req)
}

// Defeat reports a boss defeat.
func (c *Client) Defeat(req DefeatRequest) (Result, error) {
	return c.post("/api/events/defeat", req)
}

// ResetPlayer wipes a player's records; an empty boss wipes all of them.
func (c *Client) ResetPlayer(player, boss string) (Result, error) {
	path := "/api/players/" + url.PathEscape(player) + "/reset"
	if boss != "" {
		path += "?boss=" + url.QueryEscape(boss)
	}
	return c.post(path, nil)
}

func (c *Client) get(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) post(path string, body any) (Result, error) {
	var payload io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Result{}, err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, statusError(path, resp)
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return res, nil
}

func statusError(path string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, body.Error)
	}
	return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
}
