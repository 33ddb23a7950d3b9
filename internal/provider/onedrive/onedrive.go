// Package onedrive implements the provider.Adapter contract against the
// Microsoft Graph v1.0 drive API.
package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/epicbytes/drivehub/backend/internal/model"
	"github.com/epicbytes/drivehub/backend/internal/provider"
)

const (
	defaultBaseURL  = "https://graph.microsoft.com/v1.0"
	defaultTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	refreshScope    = "https://graph.microsoft.com/.default"
)

// Adapter lists files, reads quota and refreshes tokens for OneDrive
// accounts via the Graph REST API.
type Adapter struct {
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
}

// New creates a OneDrive adapter with the given application credentials.
func New(clientID, clientSecret string) *Adapter {
	return &Adapter{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      defaultBaseURL,
		tokenURL:     defaultTokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// ListChildren lists one level of a folder's children, following
// @odata.nextLink pagination.
func (a *Adapter) ListChildren(ctx context.Context, accessToken, folderID string) ([]model.FileEntry, error) {
	apiURL := a.baseURL + "/me/drive/root/children"
	if folderID != provider.RootFolderID {
		apiURL = fmt.Sprintf("%s/me/drive/items/%s/children", a.baseURL, url.PathEscape(folderID))
	}

	entries := []model.FileEntry{}
	for apiURL != "" {
		var page listResponse
		if err := a.getJSON(ctx, apiURL, accessToken, &page); err != nil {
			return nil, fmt.Errorf("list children: %w", err)
		}
		entries = append(entries, normalizeItems(page.Value)...)
		apiURL = page.NextLink
	}
	return entries, nil
}

// GetQuota reads the drive's quota block from GET /me/drive.
func (a *Adapter) GetQuota(ctx context.Context, accessToken string) (model.Quota, error) {
	var resp driveResponse
	if err := a.getJSON(ctx, a.baseURL+"/me/drive", accessToken, &resp); err != nil {
		return model.Quota{}, fmt.Errorf("get quota: %w", err)
	}
	return model.Quota{
		UsedBytes:  resp.Quota.Used,
		TotalBytes: resp.Quota.Total,
	}, nil
}

// RefreshAccessToken exchanges a refresh token at the Microsoft identity
// token endpoint.
func (a *Adapter) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	form := url.Values{}
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")
	form.Set("scope", refreshScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("refresh access token: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || tok.AccessToken == "" {
		return "", fmt.Errorf("refresh access token: %w: %s (%s)", provider.ErrRefreshFailed, tok.Error, tok.ErrorDescription)
	}
	return tok.AccessToken, nil
}

// getJSON performs an authorized GET and decodes the response body into out.
func (a *Adapter) getJSON(ctx context.Context, apiURL, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// normalizeItems converts Graph drive items to the canonical entry shape.
// The presence of the folder facet is the folder signal. Records missing an
// id or name are dropped rather than failing the batch.
func normalizeItems(items []driveItem) []model.FileEntry {
	entries := make([]model.FileEntry, 0, len(items))
	for _, item := range items {
		if item.ID == "" || item.Name == "" {
			continue
		}
		entry := model.FileEntry{
			ID:   item.ID,
			Name: item.Name,
			Type: model.EntryTypeFile,
		}
		if item.Folder != nil {
			entry.Type = model.EntryTypeFolder
		} else if item.Size > 0 {
			size := item.Size
			entry.Size = &size
		}
		entries = append(entries, entry)
	}
	return entries
}

// classifyStatus maps a non-200 Graph response onto the shared error kinds.
func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return provider.ErrAuth
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", provider.ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("graph API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
