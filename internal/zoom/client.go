// Package zoom implements the HTTP client for the Zoom REST API v2.
//
// The client is explicitly constructed and injected; no package-level
// singletons. Authentication uses the OAuth2 refresh-token grant: the
// caller supplies a long-lived refresh token and the client exchanges it
// for access tokens on demand via golang.org/x/oauth2, which also handles
// caching and re-refresh on expiry.
//
// Listing endpoints page with next_page_token at the maximum page size
// (300). Meeting listing fans out one request chain per account user with
// a bounded worker pool; a user whose meeting list returns 404 simply
// contributes nothing.
package zoom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBaseURL is the Zoom REST API v2 root.
	DefaultBaseURL = "https://api.zoom.us/v2"
	// DefaultTokenURL is the Zoom OAuth token endpoint.
	DefaultTokenURL = "https://zoom.us/oauth/token"

	// pageSize is the maximum page size Zoom accepts on list endpoints.
	pageSize = 300
	// meetingFetchWorkers bounds the per-user meeting fan-out.
	meetingFetchWorkers = 12
)

// User is one Zoom account user as returned by GET /users.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayName joins first and last name, trimming when either is empty.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Meeting is one scheduled meeting as returned by GET /users/{id}/meetings.
// Zoom serializes meeting ids as numbers; they are carried as strings
// everywhere else in the system, so decode through json.Number.
type Meeting struct {
	ID     json.Number `json:"id"`
	Topic  string      `json:"topic"`
	HostID string      `json:"host_id"`
}

// APIError is a non-2xx response from Zoom. Detail holds the provider's
// structured message when the body parses as {code, message}, otherwise
// the raw body text.
type APIError struct {
	StatusCode int
	Code       int
	Detail     string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("zoom: status %d code %d: %s", e.StatusCode, e.Code, e.Detail)
	}
	return fmt.Sprintf("zoom: status %d: %s", e.StatusCode, e.Detail)
}

// Config carries the OAuth application credentials and optional endpoint
// overrides (used by tests to point at a stub server).
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string // defaults to DefaultBaseURL
	TokenURL     string // defaults to DefaultTokenURL
}

// Client talks to the Zoom API on behalf of one linked account.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a Client whose requests authenticate with access tokens
// minted from refreshToken. Token refresh failures surface on the first
// request that needs a token, wrapped by oauth2 as *oauth2.RetrieveError.
func NewClient(ctx context.Context, cfg Config, refreshToken string) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	oc := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}

	// Base transport with explicit connect and overall timeouts; oauth2
	// wraps it to inject Authorization headers.
	baseHTTP := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			MaxIdleConnsPerHost: 10,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, baseHTTP)

	src := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	hc := oauth2.NewClient(ctx, src)
	hc.Timeout = baseHTTP.Timeout

	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// Verify exchanges the refresh token once and discards the result. It lets
// callers fail an execution batch up front instead of midway through.
func (c *Client) Verify(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/users/me", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return newAPIError(resp)
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}

// ListUsers pages through every user in the account.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var (
		users []User
		next  string
	)
	for {
		q := url.Values{"page_size": {fmt.Sprint(pageSize)}}
		if next != "" {
			q.Set("next_page_token", next)
		}

		var page struct {
			Users         []User `json:"users"`
			NextPageToken string `json:"next_page_token"`
		}
		if err := c.getJSON(ctx, "/users", q, &page); err != nil {
			return nil, err
		}
		users = append(users, page.Users...)
		if page.NextPageToken == "" {
			return users, nil
		}
		next = page.NextPageToken
	}
}

// ListMeetingsForUser pages through one user's upcoming meetings. A 404
// means the user has no meeting list and yields an empty slice.
func (c *Client) ListMeetingsForUser(ctx context.Context, userID string) ([]Meeting, error) {
	var (
		meetings []Meeting
		next     string
	)
	for {
		q := url.Values{
			"page_size": {fmt.Sprint(pageSize)},
			"type":      {"upcoming"},
		}
		if next != "" {
			q.Set("next_page_token", next)
		}

		var page struct {
			Meetings      []Meeting `json:"meetings"`
			NextPageToken string    `json:"next_page_token"`
		}
		err := c.getJSON(ctx, "/users/"+url.PathEscape(userID)+"/meetings", q, &page)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				return nil, nil
			}
			return nil, err
		}
		meetings = append(meetings, page.Meetings...)
		if page.NextPageToken == "" {
			return meetings, nil
		}
		next = page.NextPageToken
	}
}

// ListMeetings fetches the meetings of every given user with a bounded
// worker pool. Individual user failures are logged and skipped so one bad
// account cannot sink a full sync; the skipped count is returned alongside
// the flattened result. Output order follows userIDs.
func (c *Client) ListMeetings(ctx context.Context, userIDs []string) ([]Meeting, int, error) {
	perUser := make([][]Meeting, len(userIDs))

	var (
		mu      sync.Mutex
		skipped int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(meetingFetchWorkers)
	for i, uid := range userIDs {
		g.Go(func() error {
			ms, err := c.ListMeetingsForUser(gctx, uid)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Ctx(gctx).Warn().Err(err).Str("zoom_user_id", uid).
					Msg("meeting fetch failed; skipping user")
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			perUser[i] = ms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var flat []Meeting
	for _, ms := range perUser {
		flat = append(flat, ms...)
	}
	return flat, skipped, nil
}

// UpdateMeetingHost reassigns a meeting to the user identified by
// hostEmail via PATCH /meetings/{id}. A non-2xx response comes back as
// *APIError with the provider detail extracted defensively.
func (c *Client) UpdateMeetingHost(ctx context.Context, meetingID, hostEmail string) error {
	payload, err := json.Marshal(map[string]string{"schedule_for": hostEmail})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.base+"/meetings/"+url.PathEscape(meetingID), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return newAPIError(resp)
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}

// getJSON performs a GET and decodes a 2xx JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return newAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// newAPIError drains resp and extracts the provider error detail:
// structured {code, message} JSON when present, raw body text otherwise.
// Malformed payloads never cause a secondary failure.
func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	out := &APIError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(body))}

	var structured struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &structured); err == nil && structured.Message != "" {
		out.Code = structured.Code
		out.Detail = structured.Message
	}
	return out
}

// UniqueMeetings drops duplicate meeting ids, keeping the first occurrence
// and returning a deterministically ordered slice. Zoom returns recurring
// meetings once per occurrence window, so a full account listing contains
// repeats.
func UniqueMeetings(meetings []Meeting) []Meeting {
	seen := make(map[string]Meeting, len(meetings))
	for _, m := range meetings {
		id := m.ID.String()
		if _, ok := seen[id]; !ok {
			seen[id] = m
		}
	}
	out := make([]Meeting, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}
