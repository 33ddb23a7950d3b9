package model

import "time"

// Provider identifies one external cloud-storage service.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderOneDrive Provider = "onedrive"
	ProviderDropbox  Provider = "dropbox"
)

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderOneDrive, ProviderDropbox:
		return true
	}
	return false
}

// LinkedAccount is a (user, provider, email) tuple with the OAuth tokens
// granting API access to that account. RefreshToken may be empty when the
// provider did not issue one; such accounts cannot recover from an expired
// access token without the user re-linking.
type LinkedAccount struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Provider     Provider  `json:"provider"`
	AccountEmail string    `json:"accountEmail"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// EntryType classifies a FileEntry as a file or a folder.
type EntryType string

const (
	EntryTypeFile   EntryType = "file"
	EntryTypeFolder EntryType = "folder"
)

// FileEntry is the canonical record every provider listing is normalized to.
// ID is provider-native; identity is (provider, id) and ids are not
// comparable across providers. Size is nil when the provider does not report
// one (folders, Google Docs). Children is populated only by recursive
// listings.
type FileEntry struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     EntryType   `json:"type"`
	Size     *int64      `json:"size"`
	Children []FileEntry `json:"children,omitempty"`
}

// Quota is a point-in-time storage usage reading. Never persisted.
type Quota struct {
	UsedBytes  int64 `json:"usedBytes"`
	TotalBytes int64 `json:"totalBytes"`
}

// AccountFiles is one account's normalized listing within an aggregate
// response.
type AccountFiles struct {
	AccountEmail string      `json:"accountEmail"`
	Provider     Provider    `json:"provider"`
	Files        []FileEntry `json:"files"`
}

// AccountQuota is one account's storage quota within an aggregate response.
type AccountQuota struct {
	AccountEmail string   `json:"accountEmail"`
	Provider     Provider `json:"provider"`
	Quota        Quota    `json:"quota"`
}
