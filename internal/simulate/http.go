package simulate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

const maxResponseBody = 1 << 20

// stationClient calls one station's HTTP API.
type stationClient struct {
	base string
	http *http.Client
}

func newStationClient(base string, cfg *Config) *stationClient {
	return &stationClient{base: base, http: &http.Client{Timeout: cfg.Timeout}}
}

// statusError is a non-2xx answer from a station.
type statusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Body)
}

func (c *stationClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return eris.Wrapf(err, "encode %s", path)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return eris.Wrapf(err, "build %s %s", method, path)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return &statusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "decode %s", path)
	}
	return nil
}

func (c *stationClient) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *stationClient) state(ctx context.Context) (*sessionState, error) {
	var st sessionState
	if err := c.do(ctx, http.MethodGet, "/session", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *stationClient) start(ctx context.Context, courts int, ids []string) (*result, error) {
	req := struct {
		CourtCount int      `json:"court_count"`
		PlayerIDs  []string `json:"player_ids"`
	}{courts, ids}
	var res result
	return &res, c.do(ctx, http.MethodPost, "/session/start", req, &res)
}

func (c *stationClient) propose(ctx context.Context) (*generated, error) {
	var g generated
	return &g, c.do(ctx, http.MethodPost, "/proposal", nil, &g)
}

func (c *stationClient) cancel(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/proposal", nil, nil)
}

func (c *stationClient) court(ctx context.Context, path string, courtID int) (*result, error) {
	req := struct {
		CourtID int `json:"court_id"`
	}{courtID}
	var res result
	return &res, c.do(ctx, http.MethodPost, path, req, &res)
}

func (c *stationClient) assign(ctx context.Context, courtID int) (*result, error) {
	return c.court(ctx, "/courts/assign", courtID)
}

func (c *stationClient) complete(ctx context.Context, courtID int) (*result, error) {
	return c.court(ctx, "/courts/complete", courtID)
}

func (c *stationClient) rest(ctx context.Context, playerID string) (*result, error) {
	req := struct {
		PlayerID string `json:"player_id"`
	}{playerID}
	var res result
	return &res, c.do(ctx, http.MethodPost, "/players/rest", req, &res)
}
