// Package community is a client for the agent community platform used by
// the community discovery skill.
package community

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

// APIError is a non-2xx answer from the community platform.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("community api: HTTP %d: %s", e.Status, e.Body)
}

// Client implements contracts.CommunityFeed.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

type apiPost struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Author  struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Client) ListPosts(ctx context.Context, feed string, limit int) ([]contracts.CommunityPost, error) {
	q := url.Values{}
	q.Set("sort", "new")
	if feed != "" {
		q.Set("submolt", feed)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Posts []apiPost `json:"posts"`
	}
	if err := c.do(ctx, http.MethodGet, "/posts?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]contracts.CommunityPost, 0, len(resp.Posts))
	for _, p := range resp.Posts {
		out = append(out, contracts.CommunityPost{
			ID:        p.ID,
			Author:    p.Author.Name,
			AuthorBio: p.Author.Description,
			Title:     p.Title,
			Content:   p.Content,
			CreatedAt: p.CreatedAt,
		})
	}
	return out, nil
}

func (c *Client) CreateComment(ctx context.Context, postID, text string) (*contracts.CommentReceipt, error) {
	var resp struct {
		Comment struct {
			ID string `json:"id"`
		} `json:"comment"`
		Verification *struct {
			Code      string    `json:"code"`
			Challenge string    `json:"challenge"`
			ExpiresAt time.Time `json:"expires_at"`
		} `json:"verification"`
	}
	body := map[string]string{"content": text}
	if err := c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID)+"/comments", body, &resp); err != nil {
		return nil, err
	}
	receipt := &contracts.CommentReceipt{ID: resp.Comment.ID}
	if v := resp.Verification; v != nil && v.Code != "" {
		receipt.Verification = &contracts.Verification{Code: v.Code, Challenge: v.Challenge, ExpiresAt: v.ExpiresAt}
	}
	return receipt, nil
}

func (c *Client) Verify(ctx context.Context, code, answer string) error {
	body := map[string]string{"verification_code": code, "answer": answer}
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/verify", body, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("verification rejected: %s", resp.Error)
	}
	return nil
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("community api %s: %w", method, err)
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
	return json.Unmarshal(data, out)
}
