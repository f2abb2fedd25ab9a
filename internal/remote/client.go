package remote

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

	"github.com/blackmichael/splatshare/internal/domain"
)

// TokenFunc returns the current session token, or "" when signed out.
type TokenFunc func(ctx context.Context) (string, error)

// APIError is an unexpected non-2xx answer from the data service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (status %d, code %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
}

// Client talks to the hosted data service over HTTP/JSON. It implements
// domain.RemoteSource.
type Client struct {
	baseURL    string
	token      TokenFunc
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL. token may be nil for
// anonymous access.
func NewClient(baseURL string, token TokenFunc) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchFeed returns one page of the home feed.
func (c *Client) FetchFeed(ctx context.Context, page, limit int) ([]domain.Post, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var resp postsResponse
	if err := c.do(ctx, http.MethodGet, "/posts?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	return resp.Posts, nil
}

// FetchPost returns a single post.
func (c *Client) FetchPost(ctx context.Context, id string) (domain.Post, error) {
	var post domain.Post
	if err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(id), nil, &post); err != nil {
		return domain.Post{}, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

// FetchUserPosts returns every post owned by userID.
func (c *Client) FetchUserPosts(ctx context.Context, userID string) ([]domain.Post, error) {
	var resp postsResponse
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/posts", nil, &resp); err != nil {
		return nil, fmt.Errorf("get user posts: %w", err)
	}
	return resp.Posts, nil
}

// Like records a like by the signed-in user.
func (c *Client) Like(ctx context.Context, postID string) (domain.Post, error) {
	var post domain.Post
	if err := c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID)+"/like", nil, &post); err != nil {
		return domain.Post{}, fmt.Errorf("like post: %w", err)
	}
	return post, nil
}

// Unlike removes the signed-in user's like.
func (c *Client) Unlike(ctx context.Context, postID string) (domain.Post, error) {
	var post domain.Post
	if err := c.do(ctx, http.MethodDelete, "/posts/"+url.PathEscape(postID)+"/like", nil, &post); err != nil {
		return domain.Post{}, fmt.Errorf("unlike post: %w", err)
	}
	return post, nil
}

// CreateComment adds a comment to a post.
func (c *Client) CreateComment(ctx context.Context, postID, text string) (domain.CommentResult, error) {
	body := createCommentRequest{Text: text}

	var result domain.CommentResult
	if err := c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID)+"/comments", body, &result); err != nil {
		return domain.CommentResult{}, fmt.Errorf("create comment: %w", err)
	}
	return result, nil
}

// DeleteComment removes a comment and returns its post.
func (c *Client) DeleteComment(ctx context.Context, commentID string) (domain.Post, error) {
	var post domain.Post
	if err := c.do(ctx, http.MethodDelete, "/comments/"+url.PathEscape(commentID), nil, &post); err != nil {
		return domain.Post{}, fmt.Errorf("delete comment: %w", err)
	}
	return post, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// classify maps an error response onto the domain's error classes.
// Duplicate-key violations surface as 409 or as a Postgres 23505 code.
func classify(status int, body []byte) error {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil || (e.Message == "" && e.Code == "") {
		e.Message = string(body)
	}
	apiErr := &APIError{Status: status, Code: e.Code, Message: e.Message}

	switch {
	case status == http.StatusConflict || e.Code == "23505" || strings.Contains(e.Message, "duplicate key"):
		return fmt.Errorf("%w: %w", domain.ErrConflict, apiErr)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", domain.ErrUnauthenticated, apiErr)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", domain.ErrNotFound, apiErr)
	default:
		return apiErr
	}
}

type postsResponse struct {
	Posts []domain.Post `json:"posts"`
}

type createCommentRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
