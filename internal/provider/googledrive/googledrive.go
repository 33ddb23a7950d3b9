// Package googledrive implements the provider.Adapter contract against the
// Google Drive v3 API.
package googledrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/epicbytes/drivehub/backend/internal/model"
	"github.com/epicbytes/drivehub/backend/internal/provider"
)

const folderMimeType = "application/vnd.google-apps.folder"

const listPageSize = 100

// Adapter lists files, reads quota and refreshes tokens for Google Drive
// accounts. A fresh drive.Service is built per call because every call may
// carry a different account's access token.
type Adapter struct {
	oauthConfig *oauth2.Config
	opts        []option.ClientOption
}

// New creates a Google Drive adapter. oauthConfig carries the client
// credentials and token endpoint used for refresh. Extra client options are
// applied to every Drive service built by the adapter (tests use this to
// point at a local server).
func New(oauthConfig *oauth2.Config, opts ...option.ClientOption) *Adapter {
	return &Adapter{oauthConfig: oauthConfig, opts: opts}
}

func (a *Adapter) service(ctx context.Context, accessToken string) (*drive.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	opts := append([]option.ClientOption{option.WithTokenSource(src)}, a.opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}
	return srv, nil
}

// ListChildren lists one level of a Drive folder, following list pagination.
func (a *Adapter) ListChildren(ctx context.Context, accessToken, folderID string) ([]model.FileEntry, error) {
	srv, err := a.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	parent := folderID
	if parent == provider.RootFolderID {
		parent = "root"
	}
	q := fmt.Sprintf("'%s' in parents and trashed = false", parent)

	entries := []model.FileEntry{}
	pageToken := ""
	for {
		call := srv.Files.List().
			Context(ctx).
			Q(q).
			PageSize(listPageSize).
			Fields(googleapi.Field("nextPageToken, files(id, name, mimeType, size)"))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		r, err := call.Do()
		if err != nil {
			return nil, classifyError("list files", err)
		}
		entries = append(entries, normalizeFiles(r.Files)...)
		if r.NextPageToken == "" {
			break
		}
		pageToken = r.NextPageToken
	}
	return entries, nil
}

// GetQuota reads the account's storage quota from about.get.
func (a *Adapter) GetQuota(ctx context.Context, accessToken string) (model.Quota, error) {
	srv, err := a.service(ctx, accessToken)
	if err != nil {
		return model.Quota{}, err
	}

	about, err := srv.About.Get().Context(ctx).Fields("storageQuota").Do()
	if err != nil {
		return model.Quota{}, classifyError("get quota", err)
	}
	if about.StorageQuota == nil {
		return model.Quota{}, fmt.Errorf("get quota: %w: empty storageQuota", provider.ErrUnavailable)
	}
	return model.Quota{
		UsedBytes:  about.StorageQuota.Usage,
		TotalBytes: about.StorageQuota.Limit,
	}, nil
}

// RefreshAccessToken mints a new access token from a refresh token via the
// configured OAuth2 token endpoint.
func (a *Adapter) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	src := a.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w: %v", provider.ErrRefreshFailed, err)
	}
	return tok.AccessToken, nil
}

// normalizeFiles converts Drive file records to the canonical entry shape.
// Records missing an id or name are dropped rather than failing the batch.
func normalizeFiles(files []*drive.File) []model.FileEntry {
	entries := make([]model.FileEntry, 0, len(files))
	for _, f := range files {
		if f == nil || f.Id == "" || f.Name == "" {
			continue
		}
		entry := model.FileEntry{
			ID:   f.Id,
			Name: f.Name,
			Type: model.EntryTypeFile,
		}
		if f.MimeType == folderMimeType {
			entry.Type = model.EntryTypeFolder
		} else if f.Size > 0 {
			size := f.Size
			entry.Size = &size
		}
		entries = append(entries, entry)
	}
	return entries
}

// classifyError maps Drive API failures onto the shared provider error kinds.
func classifyError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", op, provider.ErrAuth)
		case apiErr.Code >= 500:
			return fmt.Errorf("%s: %w: status %d", op, provider.ErrUnavailable, apiErr.Code)
		default:
			return fmt.Errorf("%s: drive API error (%d): %v", op, apiErr.Code, err)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, provider.ErrUnavailable, err)
}
