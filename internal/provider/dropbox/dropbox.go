// Package dropbox implements the provider.Adapter contract against the
// Dropbox API v2.
package dropbox

import (
	"bytes"
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
	defaultBaseURL = "https://api.dropboxapi.com"
	listFolderPath = "/2/files/list_folder"
	listContinue   = "/2/files/list_folder/continue"
	spaceUsagePath = "/2/users/get_space_usage"
	tokenEndpoint  = "/oauth2/token"
)

// Adapter lists files, reads quota and refreshes tokens for Dropbox
// accounts. Dropbox RPC endpoints are POST with JSON bodies.
type Adapter struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
}

// New creates a Dropbox adapter with the given app key and secret.
func New(clientID, clientSecret string) *Adapter {
	return &Adapter{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      defaultBaseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// ListChildren lists one level of a folder, following cursor pagination.
// Dropbox addresses the root as the empty path, which matches RootFolderID.
func (a *Adapter) ListChildren(ctx context.Context, accessToken, folderID string) ([]model.FileEntry, error) {
	body := map[string]any{"path": folderID, "recursive": false}
	var page listFolderResponse
	if err := a.postJSON(ctx, listFolderPath, accessToken, body, &page); err != nil {
		return nil, fmt.Errorf("list folder: %w", err)
	}

	entries := normalizeEntries(page.Entries)
	for page.HasMore {
		next := listFolderResponse{}
		if err := a.postJSON(ctx, listContinue, accessToken, map[string]any{"cursor": page.Cursor}, &next); err != nil {
			return nil, fmt.Errorf("list folder continue: %w", err)
		}
		entries = append(entries, normalizeEntries(next.Entries)...)
		page = next
	}
	return entries, nil
}

// GetQuota reads the account's space usage.
func (a *Adapter) GetQuota(ctx context.Context, accessToken string) (model.Quota, error) {
	var usage spaceUsageResponse
	if err := a.postJSON(ctx, spaceUsagePath, accessToken, nil, &usage); err != nil {
		return model.Quota{}, fmt.Errorf("get space usage: %w", err)
	}
	return model.Quota{
		UsedBytes:  usage.Used,
		TotalBytes: usage.Allocation.Allocated,
	}, nil
}

// RefreshAccessToken exchanges a refresh token at the Dropbox OAuth2 token
// endpoint.
func (a *Adapter) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+tokenEndpoint, strings.NewReader(form.Encode()))
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

// postJSON performs an authorized RPC-style POST. A nil body sends no
// payload, which no-argument endpoints like get_space_usage require.
func (a *Adapter) postJSON(ctx context.Context, path, accessToken string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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

// normalizeEntries converts Dropbox metadata entries to the canonical entry
// shape. The ".tag" value is the folder signal. Records missing an id or
// name are dropped rather than failing the batch.
func normalizeEntries(items []metadataEntry) []model.FileEntry {
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
		if item.Tag == "folder" {
			entry.Type = model.EntryTypeFolder
		} else if item.Size > 0 {
			size := item.Size
			entry.Size = &size
		}
		entries = append(entries, entry)
	}
	return entries
}

// classifyStatus maps a non-200 Dropbox response onto the shared error kinds.
func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return provider.ErrAuth
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", provider.ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("dropbox API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
