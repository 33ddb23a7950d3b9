// Package provider defines the contract each cloud-storage adapter
// implements and the error kinds they report. One adapter exists per
// provider (Google Drive, OneDrive, Dropbox); all of them normalize their
// native listing shapes into model.FileEntry so the aggregation layer never
// sees provider wire formats.
package provider

import (
	"context"

	"github.com/epicbytes/drivehub/backend/internal/model"
)

// RootFolderID selects the drive root when passed as a folder ID.
const RootFolderID = ""

// Adapter is implemented once per cloud provider. Adapters perform no
// persistence: token writes stay with the refresh coordinator so the write
// path has a single source.
type Adapter interface {
	// ListChildren lists one level of a folder's children, normalized.
	// folderID == RootFolderID targets the drive root. An empty folder
	// yields an empty slice, not an error.
	ListChildren(ctx context.Context, accessToken, folderID string) ([]model.FileEntry, error)

	// GetQuota fetches current storage usage for the account.
	GetQuota(ctx context.Context, accessToken string) (model.Quota, error)

	// RefreshAccessToken exchanges a refresh token for a new access token.
	// Returns ErrRefreshFailed when the provider rejects the refresh token.
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
}

// Registry maps a provider tag to its adapter.
type Registry map[model.Provider]Adapter

// Adapter returns the adapter registered for p.
func (r Registry) Adapter(p model.Provider) (Adapter, bool) {
	a, ok := r[p]
	return a, ok
}
