// Package roster talks to the roster directory, the spreadsheet-backed list
// of club players a session is started from.
package roster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
)

const (
	defaultTimeout = 5 * time.Second
	apiKeyHeader   = "X-Api-Key"
	maxErrorBody   = 512
)

// Client reads and updates the roster directory over HTTP.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	log     logger.Logger
}

type playersResponse struct {
	Data []model.Player `json:"data"`
}

type updateRequest struct {
	Gender model.Gender                `json:"gender"`
	Skills map[string]model.SkillLevel `json:"skills"`
}

// NewClient returns a client for the directory rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "parse roster url %q", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     logger.Named("roster"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchPlayers returns every roster entry. Entries without an id or with an
// unknown gender are skipped.
func (c *Client) FetchPlayers(ctx context.Context) ([]model.Player, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "players", nil)
	if err != nil {
		return nil, err
	}
	var body playersResponse
	if err := c.do(req, &body); err != nil {
		return nil, err
	}
	out := make([]model.Player, 0, len(body.Data))
	for _, p := range body.Data {
		if p.ID == "" || !p.Gender.Valid() {
			c.log.Warn(ctx, "skipping roster entry", logger.String("playerID", p.ID), logger.String("gender", string(p.Gender)))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// UpdatePlayer writes a player's gender and skills back to the directory.
func (c *Client) UpdatePlayer(ctx context.Context, playerID string, gender model.Gender, skills map[string]model.SkillLevel) error {
	if playerID == "" || !gender.Valid() {
		return ErrInvalidPlayer
	}
	for cat, lvl := range skills {
		if !lvl.Valid() {
			return fmt.Errorf("%w: skill %s=%q", ErrInvalidPlayer, cat, lvl)
		}
	}
	payload, err := json.Marshal(updateRequest{Gender: gender, Skills: skills})
	if err != nil {
		return eris.Wrap(err, "encode roster update")
	}
	req, err := c.newRequest(ctx, http.MethodPut, "players/"+url.PathEscape(playerID), payload)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), r)
	if err != nil {
		return nil, eris.Wrap(err, "build roster request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrPlayerNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s: %d %s", ErrUpstream, req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "decode roster response")
	}
	return nil
}
