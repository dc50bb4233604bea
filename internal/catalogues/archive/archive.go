package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/phonotek/phonotek/internal/catalogue"
)

type Config struct {
	BaseURL    string
	Bearer     string
	PageSize   int
	HTTPClient *http.Client
}

// Client talks to the archive backend. It implements catalogue.Source for
// browsing and catalogue.ContainerMinter for refreshing authorized container
// URLs.
type Client struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

func New(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, catalogue.ErrInvalidConfig
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{cfg: cfg, client: cfg.HTTPClient, log: log}
	if c.client == nil {
		c.client = &http.Client{Timeout: 8 * time.Second}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

func (c *Client) ID() string   { return "archive" }
func (c *Client) Name() string { return "Audio Archive" }

func (c *Client) Health(ctx context.Context) (bool, string) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	resp, err := c.do(req)
	if err != nil {
		return false, err.Error()
	}
	resp.Body.Close()
	return resp.StatusCode < 500, resp.Status
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.cfg.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Bearer)
	}
	return c.client.Do(req)
}

func (c *Client) Search(ctx context.Context, q string, req catalogue.ListReq) (catalogue.Page[catalogue.TrackRecord], error) {
	page, err := getPaged[trackJSON](ctx, c, "/api/search", req, url.Values{"q": {q}})
	if err != nil {
		return catalogue.Page[catalogue.TrackRecord]{}, err
	}
	return mapPage(page), nil
}

func (c *Client) RandomSongs(ctx context.Context, n int) ([]catalogue.TrackRecord, error) {
	if n <= 0 {
		n = c.cfg.PageSize
	}
	page, err := getPaged[trackJSON](ctx, c, "/api/songs/random", catalogue.ListReq{PageSize: n}, url.Values{"count": {strconv.Itoa(n)}})
	if err != nil {
		return nil, err
	}
	return mapRecords(page.Items), nil
}

func (c *Client) GetAlbum(ctx context.Context, id string) (catalogue.Album, error) {
	a, err := getOne[albumJSON](ctx, c, "/api/albums/"+url.PathEscape(id))
	if err != nil {
		return catalogue.Album{}, err
	}
	return a.toAlbum(), nil
}

func (c *Client) AlbumTracks(ctx context.Context, albumID string) ([]catalogue.TrackRecord, error) {
	page, err := getPaged[trackJSON](ctx, c, "/api/albums/"+url.PathEscape(albumID)+"/tracks", catalogue.ListReq{}, nil)
	if err != nil {
		return nil, err
	}
	return mapRecords(page.Items), nil
}

func (c *Client) Playlists(ctx context.Context, kind catalogue.PlaylistKind, req catalogue.ListReq) (catalogue.Page[catalogue.Playlist], error) {
	extra := url.Values{}
	if kind != "" {
		extra.Set("kind", string(kind))
	}
	page, err := getPaged[playlistJSON](ctx, c, "/api/playlists", req, extra)
	if err != nil {
		return catalogue.Page[catalogue.Playlist]{}, err
	}
	out := catalogue.Page[catalogue.Playlist]{NextCursor: page.NextCursor, TotalHint: page.TotalHint}
	for _, p := range page.Items {
		out.Items = append(out.Items, p.toPlaylist())
	}
	return out, nil
}

func (c *Client) PlaylistTracks(ctx context.Context, id string) ([]catalogue.TrackRecord, error) {
	page, err := getPaged[trackJSON](ctx, c, "/api/playlists/"+url.PathEscape(id)+"/tracks", catalogue.ListReq{}, nil)
	if err != nil {
		return nil, err
	}
	return mapRecords(page.Items), nil
}

// MintContainerURL asks the backend for a fresh authorized container URL.
// Exactly one of field and candidates selects the stored reference to mint
// from; with candidates the backend picks the first usable one and reports
// which in the response.
func (c *Client) MintContainerURL(ctx context.Context, recordID, field string, candidates []string) (string, string, error) {
	u, err := url.Parse(c.cfg.BaseURL + "/api/track/" + url.PathEscape(recordID) + "/container")
	if err != nil {
		return "", "", err
	}
	q := u.Query()
	if field != "" {
		q.Set("field", field)
	} else if len(candidates) > 0 {
		q.Set("candidates", strings.Join(candidates, ","))
	}
	u.RawQuery = q.Encode()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	resp, err := c.do(req)
	if err != nil {
		return "", "", mapHTTPError(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", "", catalogue.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return "", "", catalogue.ErrNotFound
	case resp.StatusCode >= 500:
		return "", "", catalogue.ErrTemporary
	case resp.StatusCode >= 400:
		return "", "", fmt.Errorf("container status %d", resp.StatusCode)
	}
	var body struct {
		URL   string `json:"url"`
		Field string `json:"field"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", err
	}
	if body.URL == "" {
		return "", "", catalogue.ErrNotFound
	}
	return body.URL, body.Field, nil
}

type pagedResponse[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"hasMore"`
	Total   int  `json:"total"`
}

func getPaged[T any](ctx context.Context, c *Client, path string, req catalogue.ListReq, extra url.Values) (catalogue.Page[T], error) {
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = c.cfg.PageSize
	}
	offset := parseCursor(req.Cursor)
	u, err := url.Parse(c.cfg.BaseURL + path)
	if err != nil {
		return catalogue.Page[T]{}, err
	}
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	q.Set("page", strconv.Itoa(offset/pageSize+1))
	q.Set("pageSize", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	resp, err := c.do(httpReq)
	if err != nil {
		return catalogue.Page[T]{}, mapHTTPError(err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return catalogue.Page[T]{}, catalogue.ErrUnauthorized
	case http.StatusNotFound:
		return catalogue.Page[T]{}, catalogue.ErrNotFound
	case http.StatusTooManyRequests:
		return catalogue.Page[T]{}, catalogue.ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return catalogue.Page[T]{}, catalogue.ErrTemporary
	}
	var data pagedResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return catalogue.Page[T]{}, err
	}
	next := ""
	if data.HasMore {
		next = strconv.Itoa(offset + pageSize)
	}
	return catalogue.Page[T]{Items: data.Items, NextCursor: next, TotalHint: data.Total}, nil
}

func getOne[T any](ctx context.Context, c *Client, path string) (T, error) {
	var zero T
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	resp, err := c.do(req)
	if err != nil {
		return zero, mapHTTPError(err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return zero, catalogue.ErrUnauthorized
	case http.StatusNotFound:
		return zero, catalogue.ErrNotFound
	}
	if resp.StatusCode >= 500 {
		return zero, catalogue.ErrTemporary
	}
	if resp.StatusCode >= 400 {
		return zero, fmt.Errorf("http status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&zero); err != nil {
		return zero, err
	}
	return zero, nil
}

func parseCursor(cur string) int {
	if cur == "" {
		return 0
	}
	off, _ := strconv.Atoi(cur)
	return off
}

func mapHTTPError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return catalogue.ErrTemporary
	}
	return err
}
