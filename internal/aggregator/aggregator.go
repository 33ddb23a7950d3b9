// Package aggregator fans a single user request out across every linked
// cloud-drive account, transparently refreshing expired access tokens, and
// merges the per-account results. A failing account is skipped rather than
// failing the whole request.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/epicbytes/drivehub/backend/internal/logging"
	"github.com/epicbytes/drivehub/backend/internal/model"
	"github.com/epicbytes/drivehub/backend/internal/provider"
	"github.com/epicbytes/drivehub/backend/internal/tokencache"
	"github.com/epicbytes/drivehub/backend/internal/tokenstore"
)

// DefaultCallTimeout bounds the provider round-trips for one account,
// including a possible token refresh and retry.
const DefaultCallTimeout = 15 * time.Second

// FileOptions narrows an AggregateFiles call.
type FileOptions struct {
	// Provider restricts aggregation to accounts of one provider.
	// Empty means all linked accounts.
	Provider model.Provider
	// FolderID selects the folder to list. Empty means the drive root.
	FolderID string
	// Recursive expands folders into nested Children trees instead of a
	// single level.
	Recursive bool
	// MaxDepth bounds recursive expansion. Zero means
	// provider.DefaultMaxTreeDepth. Ignored unless Recursive is set.
	MaxDepth int
}

// Service aggregates file listings and quotas across linked accounts.
type Service struct {
	store       *tokenstore.Service
	registry    provider.Registry
	cache       *tokencache.Cache
	logger      *slog.Logger
	callTimeout time.Duration
}

func NewService(store *tokenstore.Service, registry provider.Registry, cache *tokencache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		registry:    registry,
		cache:       cache,
		logger:      logger,
		callTimeout: DefaultCallTimeout,
	}
}

// AggregateFiles lists the requested folder in every linked account and
// returns the per-account listings in the token store's account order.
// Accounts whose provider call fails after a refresh attempt are logged and
// omitted from the result.
func (s *Service) AggregateFiles(ctx context.Context, userID string, opts FileOptions) ([]model.AccountFiles, error) {
	accounts, err := s.accountsFor(ctx, userID, opts.Provider)
	if err != nil {
		return nil, err
	}

	results := make([]*model.AccountFiles, len(accounts))
	var wg sync.WaitGroup
	for i, acct := range accounts {
		wg.Add(1)
		go func(i int, acct model.LinkedAccount) {
			defer wg.Done()
			files, err := s.listAccount(ctx, acct, opts)
			if err != nil {
				s.logger.Warn("skipping account in file aggregation",
					logging.Operation("aggregate_files"),
					logging.Provider(string(acct.Provider)),
					logging.AccountHash(acct.AccountEmail),
					logging.Err(err))
				return
			}
			results[i] = &model.AccountFiles{
				AccountEmail: acct.AccountEmail,
				Provider:     acct.Provider,
				Files:        files,
			}
		}(i, acct)
	}
	wg.Wait()

	return compact(results), nil
}

// AggregateQuotas reports storage usage for every linked account, in the
// token store's account order. Failing accounts are logged and omitted.
func (s *Service) AggregateQuotas(ctx context.Context, userID string, p model.Provider) ([]model.AccountQuota, error) {
	accounts, err := s.accountsFor(ctx, userID, p)
	if err != nil {
		return nil, err
	}

	results := make([]*model.AccountQuota, len(accounts))
	var wg sync.WaitGroup
	for i, acct := range accounts {
		wg.Add(1)
		go func(i int, acct model.LinkedAccount) {
			defer wg.Done()
			ad, ok := s.registry.Adapter(acct.Provider)
			if !ok {
				s.logger.Warn("no adapter registered for provider",
					logging.Provider(string(acct.Provider)))
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
			defer cancel()
			quota, err := callWithRefresh(callCtx, s, acct, ad, ad.GetQuota)
			if err != nil {
				s.logger.Warn("skipping account in quota aggregation",
					logging.Operation("aggregate_quotas"),
					logging.Provider(string(acct.Provider)),
					logging.AccountHash(acct.AccountEmail),
					logging.Err(err))
				return
			}
			results[i] = &model.AccountQuota{
				AccountEmail: acct.AccountEmail,
				Provider:     acct.Provider,
				Quota:        quota,
			}
		}(i, acct)
	}
	wg.Wait()

	return compact(results), nil
}

// RefreshAccount forces a token refresh for one linked account and persists
// the replacement access token.
func (s *Service) RefreshAccount(ctx context.Context, userID string, p model.Provider, email string) error {
	acct, err := s.store.Get(ctx, userID, p, email)
	if err != nil {
		return err
	}
	ad, ok := s.registry.Adapter(p)
	if !ok {
		return fmt.Errorf("no adapter registered for provider %q", p)
	}
	if acct.RefreshToken == "" {
		return fmt.Errorf("linked account has no refresh token: %w", provider.ErrRefreshFailed)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	key := tokencache.Key{UserID: userID, AccountEmail: email, Provider: p}
	if _, err := s.refreshToken(callCtx, *acct, ad, key); err != nil {
		return err
	}
	return nil
}

// listAccount performs one account's listing, lazy or recursive per opts.
func (s *Service) listAccount(ctx context.Context, acct model.LinkedAccount, opts FileOptions) ([]model.FileEntry, error) {
	ad, ok := s.registry.Adapter(acct.Provider)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", acct.Provider)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	return callWithRefresh(callCtx, s, acct, ad, func(ctx context.Context, accessToken string) ([]model.FileEntry, error) {
		if opts.Recursive {
			return provider.ListTree(ctx, ad, accessToken, opts.FolderID, opts.MaxDepth)
		}
		return ad.ListChildren(ctx, accessToken, opts.FolderID)
	})
}

func (s *Service) accountsFor(ctx context.Context, userID string, p model.Provider) ([]model.LinkedAccount, error) {
	accounts, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked accounts: %w", err)
	}
	if p == "" {
		return accounts, nil
	}
	filtered := accounts[:0:0]
	for _, acct := range accounts {
		if acct.Provider == p {
			filtered = append(filtered, acct)
		}
	}
	return filtered, nil
}

// compact drops the slots of failed accounts while preserving order.
func compact[T any](in []*T) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}
