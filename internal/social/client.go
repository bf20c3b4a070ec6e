// Package social is a client for the public social platform the primary
// discovery skill searches. It speaks the v2 JSON API shape.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
)

const DefaultBaseURL = "https://api.x.com"

// APIError is a non-2xx answer from the platform.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("social api: HTTP %d: %s", e.Status, e.Body)
}

// Retryable reports whether the failure is transient (429 or 5xx).
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client implements contracts.SocialFeed.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, bearerToken string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   bearerToken,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

// apiPost mirrors contracts.Post field for field so it converts directly.
type apiPost struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type apiUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Description string `json:"description"`
}

type searchResponse struct {
	Data     []apiPost `json:"data"`
	Includes struct {
		Users []apiUser `json:"users"`
	} `json:"includes"`
}

// clampResults keeps max_results inside the API's accepted 10..100 range.
func clampResults(n int) int {
	return min(max(n, 10), 100)
}

func (c *Client) Search(ctx context.Context, query string, limit int) (*contracts.SearchResult, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("max_results", strconv.Itoa(clampResults(limit)))
	q.Set("expansions", "author_id")
	q.Set("tweet.fields", "created_at,author_id")
	q.Set("user.fields", "description,username")

	var resp searchResponse
	if err := c.do(ctx, http.MethodGet, "/2/tweets/search/recent?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	out := &contracts.SearchResult{}
	for _, p := range resp.Data {
		out.Posts = append(out.Posts, contracts.Post(p))
	}
	for _, u := range resp.Includes.Users {
		out.Authors = append(out.Authors, contracts.Author{ID: u.ID, Username: u.Username, Bio: u.Description})
	}
	if limit > 0 && len(out.Posts) > limit {
		out.Posts = out.Posts[:limit]
	}
	return out, nil
}

func (c *Client) UserRecentPosts(ctx context.Context, userID string, limit int) ([]contracts.Post, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(clampResults(limit)))
	q.Set("exclude", "retweets")
	q.Set("tweet.fields", "created_at,author_id")

	var resp searchResponse
	if err := c.do(ctx, http.MethodGet, "/2/users/"+url.PathEscape(userID)+"/tweets?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	posts := make([]contracts.Post, 0, len(resp.Data))
	for _, p := range resp.Data {
		if p.AuthorID == "" {
			p.AuthorID = userID
		}
		posts = append(posts, contracts.Post(p))
	}
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (c *Client) Reply(ctx context.Context, postID, text string) error {
	body := map[string]any{
		"text":  text,
		"reply": map[string]string{"in_reply_to_tweet_id": postID},
	}
	return c.do(ctx, http.MethodPost, "/2/tweets", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("social api %s %s: %w", method, strings.SplitN(path, "?", 2)[0], err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(data)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return &APIError{Status: resp.StatusCode, Body: msg}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("social api: decoding response: %w", err)
	}
	return nil
}
