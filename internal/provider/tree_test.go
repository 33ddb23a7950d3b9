package provider

import (
	"context"
	"testing"

	"github.com/epicbytes/drivehub/backend/internal/model"
)

// fakeAdapter serves a canned folder hierarchy keyed by folder ID.
type fakeAdapter struct {
	children map[string][]model.FileEntry
	calls    int
}

func (f *fakeAdapter) ListChildren(_ context.Context, _, folderID string) ([]model.FileEntry, error) {
	f.calls++
	return f.children[folderID], nil
}

func (f *fakeAdapter) GetQuota(context.Context, string) (model.Quota, error) {
	return model.Quota{}, nil
}

func (f *fakeAdapter) RefreshAccessToken(context.Context, string) (string, error) {
	return "", nil
}

func folder(id, name string) model.FileEntry {
	return model.FileEntry{ID: id, Name: name, Type: model.EntryTypeFolder}
}

func file(id, name string) model.FileEntry {
	return model.FileEntry{ID: id, Name: name, Type: model.EntryTypeFile}
}

func TestListTree_AttachesChildren(t *testing.T) {
	fa := &fakeAdapter{children: map[string][]model.FileEntry{
		RootFolderID: {folder("d1", "docs"), file("f1", "readme.txt")},
		"d1":         {file("f2", "notes.txt"), folder("d2", "archive")},
		"d2":         {file("f3", "old.txt")},
	}}

	tree, err := ListTree(context.Background(), fa, "tok", RootFolderID, 0)
	if err != nil {
		t.Fatalf("ListTree failed: %v", err)
	}

	if len(tree) != 2 {
		t.Fatalf("Expected 2 root entries, got %d", len(tree))
	}
	docs := tree[0]
	if docs.ID != "d1" || len(docs.Children) != 2 {
		t.Fatalf("Expected docs with 2 children, got %+v", docs)
	}
	archive := docs.Children[1]
	if archive.ID != "d2" || len(archive.Children) != 1 || archive.Children[0].ID != "f3" {
		t.Errorf("Expected nested archive/old.txt, got %+v", archive)
	}
	if tree[1].Children != nil {
		t.Errorf("Plain file should have no children, got %+v", tree[1].Children)
	}
}

func TestListTree_EmptyFolder(t *testing.T) {
	fa := &fakeAdapter{children: map[string][]model.FileEntry{}}

	tree, err := ListTree(context.Background(), fa, "tok", RootFolderID, 0)
	if err != nil {
		t.Fatalf("ListTree failed: %v", err)
	}
	if len(tree) != 0 {
		t.Errorf("Expected empty listing, got %d entries", len(tree))
	}
}

func TestListTree_DepthBound(t *testing.T) {
	// Self-referencing folder simulates a pathologically deep tree.
	fa := &fakeAdapter{children: map[string][]model.FileEntry{
		RootFolderID: {folder("loop", "loop")},
		"loop":       {folder("loop", "loop")},
	}}

	_, err := ListTree(context.Background(), fa, "tok", RootFolderID, 3)
	if err == nil {
		t.Fatal("Expected depth-bound error, got nil")
	}
	// Depth 3 allows the root listing plus two nested levels.
	if fa.calls != 3 {
		t.Errorf("Expected 3 ListChildren calls before bailing, got %d", fa.calls)
	}
}

func TestListTree_CancelledContext(t *testing.T) {
	fa := &fakeAdapter{children: map[string][]model.FileEntry{
		RootFolderID: {folder("d1", "docs")},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ListTree(ctx, fa, "tok", RootFolderID, 0); err == nil {
		t.Fatal("Expected context error, got nil")
	}
}
