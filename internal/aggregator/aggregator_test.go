package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/epicbytes/drivehub/backend/internal/crypto"
	"github.com/epicbytes/drivehub/backend/internal/model"
	"github.com/epicbytes/drivehub/backend/internal/provider"
	"github.com/epicbytes/drivehub/backend/internal/tokencache"
	"github.com/epicbytes/drivehub/backend/internal/tokenstore"
)

// fakeAdapter accepts any token listed in validTokens. Safe for the
// concurrent calls the aggregator makes.
type fakeAdapter struct {
	mu           sync.Mutex
	files        []model.FileEntry
	children     map[string][]model.FileEntry
	quota        model.Quota
	validTokens  map[string]bool
	refreshedTok string
	refreshErr   error
	callErr      error

	seenTokens   []string
	listCalls    int
	quotaCalls   int
	refreshCalls int
}

func (f *fakeAdapter) check(token string) error {
	if f.callErr != nil {
		return f.callErr
	}
	if !f.validTokens[token] {
		return fmt.Errorf("token rejected: %w", provider.ErrAuth)
	}
	return nil
}

func (f *fakeAdapter) ListChildren(ctx context.Context, accessToken, folderID string) ([]model.FileEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.seenTokens = append(f.seenTokens, accessToken)
	if err := f.check(accessToken); err != nil {
		return nil, err
	}
	if f.children != nil {
		return f.children[folderID], nil
	}
	return f.files, nil
}

func (f *fakeAdapter) GetQuota(ctx context.Context, accessToken string) (model.Quota, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotaCalls++
	f.seenTokens = append(f.seenTokens, accessToken)
	if err := f.check(accessToken); err != nil {
		return model.Quota{}, err
	}
	return f.quota, nil
}

func (f *fakeAdapter) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.validTokens[f.refreshedTok] = true
	return f.refreshedTok, nil
}

type fixture struct {
	store   *tokenstore.Service
	cache   *tokencache.Cache
	service *Service
}

func newFixture(t *testing.T, registry provider.Registry, accounts ...model.LinkedAccount) *fixture {
	t.Helper()
	store := tokenstore.NewService(nil, "", crypto.NewMockEncryptor())
	for _, acct := range accounts {
		if err := store.Save(context.Background(), acct); err != nil {
			t.Fatalf("Save(%s): %v", acct.AccountEmail, err)
		}
	}
	cache := tokencache.New(0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		store:   store,
		cache:   cache,
		service: NewService(store, registry, cache, logger),
	}
}

func account(p model.Provider, email, accessToken, refreshToken string) model.LinkedAccount {
	return model.LinkedAccount{
		UserID:       "user-1",
		Provider:     p,
		AccountEmail: email,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
}

func TestAggregateFiles_MergesAllAccounts(t *testing.T) {
	google := &fakeAdapter{
		validTokens: map[string]bool{"tok-g": true},
		files:       []model.FileEntry{{ID: "g1", Name: "report.pdf", Type: model.EntryTypeFile}},
	}
	dropbox := &fakeAdapter{
		validTokens: map[string]bool{"tok-d": true},
		files:       []model.FileEntry{{ID: "d1", Name: "Photos", Type: model.EntryTypeFolder}},
	}
	registry := provider.Registry{
		model.ProviderGoogle:  google,
		model.ProviderDropbox: dropbox,
	}
	fx := newFixture(t, registry,
		account(model.ProviderGoogle, "alice@gmail.com", "tok-g", "rt-g"),
		account(model.ProviderDropbox, "alice@dropbox.com", "tok-d", "rt-d"),
	)

	got, err := fx.service.AggregateFiles(context.Background(), "user-1", FileOptions{})
	if err != nil {
		t.Fatalf("AggregateFiles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d account results, want 2", len(got))
	}
	if got[0].AccountEmail != "alice@gmail.com" || got[1].AccountEmail != "alice@dropbox.com" {
		t.Errorf("results out of store order: %q, %q", got[0].AccountEmail, got[1].AccountEmail)
	}
	if len(got[0].Files) != 1 || got[0].Files[0].Name != "report.pdf" {
		t.Errorf("unexpected google files: %+v", got[0].Files)
	}
}

func TestAggregateFiles_SkipsFailingAccount(t *testing.T) {
	ok1 := &fakeAdapter{validTokens: map[string]bool{"tok-1": true}}
	down := &fakeAdapter{
		validTokens: map[string]bool{"tok-2": true},
		callErr:     fmt.Errorf("503: %w", provider.ErrUnavailable),
	}
	ok2 := &fakeAdapter{validTokens: map[string]bool{"tok-3": true}}
	registry := provider.Registry{
		model.ProviderGoogle:   ok1,
		model.ProviderOneDrive: down,
		model.ProviderDropbox:  ok2,
	}
	fx := newFixture(t, registry,
		account(model.ProviderGoogle, "a@example.com", "tok-1", "rt"),
		account(model.ProviderOneDrive, "b@example.com", "tok-2", "rt"),
		account(model.ProviderDropbox, "c@example.com", "tok-3", "rt"),
	)

	got, err := fx.service.AggregateFiles(context.Background(), "user-1", FileOptions{})
	if err != nil {
		t.Fatalf("AggregateFiles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d account results, want 2", len(got))
	}
	if got[0].AccountEmail != "a@example.com" || got[1].AccountEmail != "c@example.com" {
		t.Errorf("surviving accounts out of order: %q, %q", got[0].AccountEmail, got[1].AccountEmail)
	}
	if down.refreshCalls != 0 {
		t.Errorf("refresh attempted %d times on a non-auth failure, want 0", down.refreshCalls)
	}
}

func TestAggregateFiles_RefreshesExpiredToken(t *testing.T) {
	ad := &fakeAdapter{
		validTokens:  map[string]bool{},
		refreshedTok: "tok-new",
		files:        []model.FileEntry{{ID: "f1", Name: "notes.txt", Type: model.EntryTypeFile}},
	}
	registry := provider.Registry{model.ProviderGoogle: ad}
	fx := newFixture(t, registry,
		account(model.ProviderGoogle, "alice@gmail.com", "tok-expired", "rt-1"),
	)

	got, err := fx.service.AggregateFiles(context.Background(), "user-1", FileOptions{})
	if err != nil {
		t.Fatalf("AggregateFiles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d account results, want 1", len(got))
	}
	if ad.refreshCalls != 1 {
		t.Errorf("refreshCalls = %d, want 1", ad.refreshCalls)
	}
	if ad.listCalls != 2 {
		t.Errorf("listCalls = %d, want 2 (initial attempt plus retry)", ad.listCalls)
	}

	// The replacement token is persisted and cached.
	stored, err := fx.store.Get(context.Background(), "user-1", model.ProviderGoogle, "alice@gmail.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.AccessToken != "tok-new" {
		t.Errorf("stored access token = %q, want %q", stored.AccessToken, "tok-new")
	}
	key := tokencache.Key{UserID: "user-1", AccountEmail: "alice@gmail.com", Provider: model.ProviderGoogle}
	if cached, ok := fx.cache.Get(key); !ok || cached != "tok-new" {
		t.Errorf("cached token = %q (hit=%v), want %q", cached, ok, "tok-new")
	}
}

func TestAggregateFiles_NoRefreshTokenSkipsAccount(t *testing.T) {
	ad := &fakeAdapter{validTokens: map[string]bool{}, refreshedTok: "tok-new"}
	registry := provider.Registry{model.ProviderGoogle: ad}
	fx := newFixture(t, registry,
		account(model.ProviderGoogle, "alice@gmail.com", "tok-expired", ""),
	)

	got, err := fx.service.AggregateFiles(context.Background(), "user-1", FileOptions{})
	if err != nil {
		t.Fatalf("AggregateFiles: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d account results, want 0", len(got))
	}
	if ad.refreshCalls != 0 {
		t.Errorf("refreshCalls = %d, want 0 without a refresh token", ad.refreshCalls)
	}
	if ad.listCalls != 1 {
		t.Errorf("listCalls = %d, want 1 (no retry)", ad.listCalls)
	}
}

func TestAggregateFiles_RefreshFailureSkipsAccount(t *testing.T) {
	ad := &fakeAdapter{
		validTokens: map[string]bool{},
		refreshErr:  fmt.Errorf("invalid_grant: %w", provider.ErrRefreshFailed),
	}
	registry := provider.Registry{model.ProviderGoogle: ad}
	fx := newFixture(t, registry,
		account(model.ProviderGoogle, "alice@gmail.com", "tok-expired", "rt-revoked"),
	)

	got, err := fx.service.AggregateFiles(context.Background(), "user-1", FileOptions{})
	if err != nil {
		t.Fatalf("AggregateFiles: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d account results, want 0", len(got))
	}
	if ad.refreshCalls != 1 {
		t.Errorf("refreshCalls = %d, want exactly 1", ad.refreshCalls)
	}
}

func TestAggregateFiles_UsesCachedToken(t *testing.T) {
	ad := &fakeAdapter{validTokens: map[string]bool{"tok-cached": true}}
	registry := provider.Registry{model.ProviderGoogle: ad}
	fx := newFixture(t, registry,
		account(model.ProviderGoogle, "alice@gmail.com", "tok-stored-stale", "rt"),
	)
	key := tokencache.Key{UserID: "user-1", AccountEmail: "alice@gmail.com", Provider: model.ProviderGoogle}
	fx.cache.Put(key, "tok-cached")

	if _, err := fx.service.AggregateFiles(context.Background(), "user-1", FileOptions{}); err != nil {
		t.Fatalf("AggregateFiles: %v", err)
	}
	if len(ad.seenTokens) != 1 || ad.seenTokens[0] != "tok-cached" {
		t.Errorf("adapter saw tokens %v, want just the cached one", ad.seenTokens)
	}
}

func TestAggregateFiles_ProviderFilter(t *testing.T) {
	google := &fakeAdapter{validTokens: map[string]bool{"tok-g": true}}
	dropbox := &fakeAdapter{validTokens: map[string]bool{"tok-d": true}}
	registry := provider.Registry{
		model.ProviderGoogle:  google,
		model.ProviderDropbox: dropbox,
	}
	fx := newFixture(t, registry,
		account(model.ProviderGoogle, "alice@gmail.com", "tok-g", "rt"),
		account(model.ProviderDropbox, "alice@dropbox.com", "tok-d", "rt"),
	)

	got, err := fx.service.AggregateFiles(context.Background(), "user-1", FileOptions{Provider: model.ProviderDropbox})
	if err != nil {
		t.Fatalf("AggregateFiles: %v", err)
	}
	if len(got) != 1 || got[0].Provider != model.ProviderDropbox {
		t.Fatalf("got %+v, want only the dropbox account", got)
	}
	if google.listCalls != 0 {
		t.Errorf("google adapter called %d times despite filter", google.listCalls)
	}
}

func TestAggregateFiles_Recursive(t *testing.T) {
	ad := &fakeAdapter{
		validTokens: map[string]bool{"tok": true},
		children: map[string][]model.FileEntry{
			provider.RootFolderID: {
				{ID: "docs", Name: "Documents", Type: model.EntryTypeFolder},
				{ID: "f1", Name: "readme.md", Type: model.EntryTypeFile},
			},
			"docs": {
				{ID: "f2", Name: "plan.txt", Type: model.EntryTypeFile},
			},
		},
	}
	registry := provider.Registry{model.ProviderGoogle: ad}
	fx := newFixture(t, registry,
		account(model.ProviderGoogle, "alice@gmail.com", "tok", "rt"),
	)

	got, err := fx.service.AggregateFiles(context.Background(), "user-1", FileOptions{Recursive: true})
	if err != nil {
		t.Fatalf("AggregateFiles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d account results, want 1", len(got))
	}
	files := got[0].Files
	if len(files) != 2 {
		t.Fatalf("got %d root entries, want 2", len(files))
	}
	if len(files[0].Children) != 1 || files[0].Children[0].Name != "plan.txt" {
		t.Errorf("folder children not expanded: %+v", files[0])
	}
}

func TestAggregateQuotas(t *testing.T) {
	google := &fakeAdapter{
		validTokens: map[string]bool{"tok-g": true},
		quota:       model.Quota{UsedBytes: 100, TotalBytes: 1000},
	}
	onedrive := &fakeAdapter{
		validTokens:  map[string]bool{},
		refreshedTok: "tok-o-new",
		quota:        model.Quota{UsedBytes: 42, TotalBytes: 500},
	}
	registry := provider.Registry{
		model.ProviderGoogle:   google,
		model.ProviderOneDrive: onedrive,
	}
	fx := newFixture(t, registry,
		account(model.ProviderGoogle, "alice@gmail.com", "tok-g", "rt-g"),
		account(model.ProviderOneDrive, "alice@outlook.com", "tok-o-expired", "rt-o"),
	)

	got, err := fx.service.AggregateQuotas(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("AggregateQuotas: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d quota results, want 2", len(got))
	}
	if got[0].Quota.UsedBytes != 100 || got[1].Quota.UsedBytes != 42 {
		t.Errorf("unexpected quotas: %+v", got)
	}
	if onedrive.refreshCalls != 1 {
		t.Errorf("onedrive refreshCalls = %d, want 1", onedrive.refreshCalls)
	}

	// The onedrive account's replacement token was written through.
	stored, err := fx.store.Get(context.Background(), "user-1", model.ProviderOneDrive, "alice@outlook.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.AccessToken != "tok-o-new" {
		t.Errorf("stored access token = %q, want %q", stored.AccessToken, "tok-o-new")
	}
}

func TestRefreshAccount(t *testing.T) {
	ad := &fakeAdapter{validTokens: map[string]bool{"tok-old": true}, refreshedTok: "tok-new"}
	registry := provider.Registry{model.ProviderGoogle: ad}
	fx := newFixture(t, registry,
		account(model.ProviderGoogle, "alice@gmail.com", "tok-old", "rt-1"),
	)

	if err := fx.service.RefreshAccount(context.Background(), "user-1", model.ProviderGoogle, "alice@gmail.com"); err != nil {
		t.Fatalf("RefreshAccount: %v", err)
	}
	if ad.refreshCalls != 1 {
		t.Errorf("refreshCalls = %d, want 1", ad.refreshCalls)
	}
	stored, err := fx.store.Get(context.Background(), "user-1", model.ProviderGoogle, "alice@gmail.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.AccessToken != "tok-new" {
		t.Errorf("stored access token = %q, want %q", stored.AccessToken, "tok-new")
	}
}

func TestRefreshAccount_UnknownAccount(t *testing.T) {
	registry := provider.Registry{model.ProviderGoogle: &fakeAdapter{validTokens: map[string]bool{}}}
	fx := newFixture(t, registry)

	err := fx.service.RefreshAccount(context.Background(), "user-1", model.ProviderGoogle, "nobody@gmail.com")
	if !errors.Is(err, tokenstore.ErrAccountNotFound) {
		t.Errorf("RefreshAccount error = %v, want ErrAccountNotFound", err)
	}
}
