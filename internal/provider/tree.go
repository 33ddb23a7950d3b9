package provider

import (
	"context"
	"fmt"

	"github.com/epicbytes/drivehub/backend/internal/model"
)

// DefaultMaxTreeDepth bounds eager folder-tree traversal. Unbounded
// recursion against an external API is a resource-exhaustion risk.
const DefaultMaxTreeDepth = 10

// ListTree eagerly lists a folder and its subfolders down to maxDepth
// levels, attaching children to their parent folder entries. maxDepth <= 0
// falls back to DefaultMaxTreeDepth. Exceeding the depth bound is an error
// rather than a silent truncation, so callers can tell a partial tree from
// a complete one.
func ListTree(ctx context.Context, a Adapter, accessToken, folderID string, maxDepth int) ([]model.FileEntry, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxTreeDepth
	}
	return listTree(ctx, a, accessToken, folderID, maxDepth)
}

func listTree(ctx context.Context, a Adapter, accessToken, folderID string, depthLeft int) ([]model.FileEntry, error) {
	if depthLeft == 0 {
		return nil, fmt.Errorf("folder tree exceeds maximum depth")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := a.ListChildren(ctx, accessToken, folderID)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		if entries[i].Type != model.EntryTypeFolder {
			continue
		}
		children, err := listTree(ctx, a, accessToken, entries[i].ID, depthLeft-1)
		if err != nil {
			return nil, err
		}
		entries[i].Children = children
	}
	return entries, nil
}
