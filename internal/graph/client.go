// Package graph is a client for the Microsoft Graph REST API, covering the
// identity, calendar, group, people and batch endpoints the synchronizer needs.
package graph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"legalaid/internal/models"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// defaultSettleDelay is how long to wait after creating a group before using
// it. Directory propagation is not immediate; this is an empirical wait, not a
// correctness guarantee.
const defaultSettleDelay = 2 * time.Second

var guidRegexp = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsGUIDShaped reports whether id looks like a directory GUID. Organizational
// principals carry GUID-shaped ids while personal accounts do not. This is a
// heuristic over undocumented provider behavior; swap Client.OrgClassifier for
// an authoritative claim when one is available.
func IsGUIDShaped(id string) bool {
	return guidRegexp.MatchString(id)
}

// Client talks to the Graph API over an authenticated HTTP client. Construct
// one per session and inject it; there is no package-level instance.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	// BaseURL is the API root, overridable in tests.
	BaseURL string
	// OrgClassifier decides whether a principal id belongs to an
	// organizational directory. Defaults to IsGUIDShaped.
	OrgClassifier func(id string) bool
	// ServiceContact is the address of the service account preferred as
	// nominal owner when creating a group, if it appears among the members.
	ServiceContact string
	// SettleDelay is applied after creating a group.
	SettleDelay time.Duration
}

// NewClient creates a Graph client from a previously saved token file.
// It handles loading the token and setting up an authenticated HTTP client,
// mirroring the auth command's output.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, tokenFile string) (*Client, error) {
	token, err := TokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token from %s: %w. Please run the 'auth' command first", tokenFile, err)
	}
	config := OAuthConfig(clientID)
	return New(config.Client(ctx, token), logger), nil
}

// New wraps an already authenticated HTTP client.
func New(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient:    httpClient,
		logger:        logger,
		BaseURL:       defaultBaseURL,
		OrgClassifier: IsGUIDShaped,
		SettleDelay:   defaultSettleDelay,
	}
}

// Me resolves the authenticated principal: display identity, mailbox timezone
// and the organizational classification.
func (c *Client) Me(ctx context.Context) (models.Identity, error) {
	var user struct {
		ID                string `json:"id"`
		DisplayName       string `json:"displayName"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := c.get(ctx, "/me?$select=id,displayName,mail,userPrincipalName", &user); err != nil {
		return models.Identity{}, fmt.Errorf("failed to get user: %w", err)
	}

	var tz struct {
		Value string `json:"value"`
	}
	if err := c.get(ctx, "/me/mailboxSettings/timeZone", &tz); err != nil {
		return models.Identity{}, fmt.Errorf("failed to get mailbox timezone: %w", err)
	}

	email := user.Mail
	if email == "" {
		email = user.UserPrincipalName
	}
	identity := models.Identity{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       email,
		TimeZone:    tz.Value,
		IsOrg:       c.OrgClassifier(user.ID),
	}
	c.logger.Debug("Resolved identity.", "email", identity.Email, "isOrg", identity.IsOrg)
	return identity, nil
}

// SearchPeople queries the directory's people ranking for contacts matching
// query, mapping each hit to its display name and best-scored address.
func (c *Client) SearchPeople(ctx context.Context, query string) ([]models.Attendee, error) {
	path := fmt.Sprintf("/me/people?$select=id,displayName,scoredEmailAddresses&$search=%s", url.QueryEscape(query))
	var response struct {
		Value []struct {
			ID                   string `json:"id"`
			DisplayName          string `json:"displayName"`
			ScoredEmailAddresses []struct {
				Address string `json:"address"`
			} `json:"scoredEmailAddresses"`
		} `json:"value"`
	}
	if err := c.get(ctx, path, &response); err != nil {
		return nil, fmt.Errorf("failed to search people: %w", err)
	}

	var contacts []models.Attendee
	for _, person := range response.Value {
		if len(person.ScoredEmailAddresses) == 0 {
			continue
		}
		contacts = append(contacts, models.Attendee{
			ID:      person.ID,
			Name:    person.DisplayName,
			Address: person.ScoredEmailAddresses[0].Address,
		})
	}
	return contacts, nil
}

// get issues a GET against the API root and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, c.BaseURL+path, nil, out)
}

// post issues a POST with a JSON body against the API root.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, c.BaseURL+path, body, out)
}

// patch issues a PATCH with a JSON body against the API root.
func (c *Client) patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, c.BaseURL+path, body, out)
}

func (c *Client) do(ctx context.Context, method, fullURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s failed with status %d: %s", method, fullURL, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// microsoftEndpoint is the v2 identity platform "common" tenant endpoint.
var microsoftEndpoint = oauth2.Endpoint{
	AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
	TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
}

// OAuthConfig returns the OAuth2 config for the public-client auth-code flow.
func OAuthConfig(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: "http://localhost",
		Scopes: []string{
			"User.Read",
			"Calendars.ReadWrite",
			"MailboxSettings.Read",
			"People.Read",
			"Group.ReadWrite.All",
			"GroupMember.ReadWrite.All",
			"offline_access",
		},
		Endpoint: microsoftEndpoint,
	}
}

// TokenFromWeb exchanges a pasted authorization code for a token.
func TokenFromWeb(config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(context.Background(), authCode)
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// TokenFromFile retrieves a token from a local file.
func TokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}
