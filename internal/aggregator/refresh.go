package aggregator

import (
	"context"
	"errors"

	"github.com/epicbytes/drivehub/backend/internal/logging"
	"github.com/epicbytes/drivehub/backend/internal/model"
	"github.com/epicbytes/drivehub/backend/internal/provider"
	"github.com/epicbytes/drivehub/backend/internal/tokencache"
)

// callWithRefresh runs fn with the account's best-known access token. On an
// auth failure it refreshes the token once, persists the replacement, and
// retries fn exactly once. Any second auth failure surfaces to the caller.
func callWithRefresh[T any](ctx context.Context, s *Service, acct model.LinkedAccount, ad provider.Adapter, fn func(ctx context.Context, accessToken string) (T, error)) (T, error) {
	var zero T

	key := tokencache.Key{
		UserID:       acct.UserID,
		AccountEmail: acct.AccountEmail,
		Provider:     acct.Provider,
	}
	token := acct.AccessToken
	fromCache := false
	if cached, ok := s.cache.Get(key); ok {
		token = cached
		fromCache = true
	}

	v, err := fn(ctx, token)
	if err == nil {
		if !fromCache {
			s.cache.Put(key, token)
		}
		return v, nil
	}
	if !errors.Is(err, provider.ErrAuth) {
		return zero, err
	}
	if acct.RefreshToken == "" {
		return zero, err
	}

	newToken, err := s.refreshToken(ctx, acct, ad, key)
	if err != nil {
		return zero, err
	}
	return fn(ctx, newToken)
}

// refreshToken obtains a fresh access token, writes it through to the token
// store, and caches it. A failed store write is logged but does not abort
// the call; the new token is still valid for this request.
func (s *Service) refreshToken(ctx context.Context, acct model.LinkedAccount, ad provider.Adapter, key tokencache.Key) (string, error) {
	newToken, err := ad.RefreshAccessToken(ctx, acct.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateAccessToken(ctx, acct.UserID, acct.Provider, acct.AccountEmail, newToken); err != nil {
		s.logger.Warn("failed to persist refreshed access token",
			logging.Provider(string(acct.Provider)),
			logging.AccountHash(acct.AccountEmail),
			logging.Err(err))
	}
	s.cache.Put(key, newToken)
	s.logger.Debug("access token refreshed",
		logging.Provider(string(acct.Provider)),
		logging.AccountHash(acct.AccountEmail))
	return newToken, nil
}
