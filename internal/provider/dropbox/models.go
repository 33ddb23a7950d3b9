package dropbox

// metadataEntry represents one entry from files/list_folder. The ".tag"
// discriminator is "file" or "folder".
type metadataEntry struct {
	Tag  string `json:".tag"`
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// listFolderResponse is one page of a files/list_folder result.
type listFolderResponse struct {
	Entries []metadataEntry `json:"entries"`
	Cursor  string          `json:"cursor"`
	HasMore bool            `json:"has_more"`
}

// spaceUsageResponse is the users/get_space_usage result.
type spaceUsageResponse struct {
	Used       int64 `json:"used"`
	Allocation struct {
		Tag       string `json:".tag"`
		Allocated int64  `json:"allocated"`
	} `json:"allocation"`
}

// tokenResponse is the Dropbox OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}
