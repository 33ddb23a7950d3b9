package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/epicbytes/drivehub/backend/internal/aggregator"
	"github.com/epicbytes/drivehub/backend/internal/logging"
	"github.com/epicbytes/drivehub/backend/internal/model"
	"github.com/epicbytes/drivehub/backend/internal/provider"
	"github.com/epicbytes/drivehub/backend/internal/tokencache"
	"github.com/epicbytes/drivehub/backend/internal/tokenstore"
)

// AccountHandler manages linked cloud-drive accounts.
type AccountHandler struct {
	store     *tokenstore.Service
	cache     *tokencache.Cache
	agg       *aggregator.Service
	jwtSecret string
	logger    *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(store *tokenstore.Service, cache *tokencache.Cache, agg *aggregator.Service, jwtSecret string, logger *slog.Logger) *AccountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{
		store:     store,
		cache:     cache,
		agg:       agg,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

// List handles GET /accounts. Tokens never appear in the response.
func (h *AccountHandler) List(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "unauthorized"), nil
	}

	accounts, err := h.store.ListByUser(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list accounts",
			logging.Operation("list_accounts"),
			logging.UserID(userID),
			logging.Err(err))
		return textResponse(http.StatusInternalServerError, "failed to list accounts"), nil
	}

	return jsonResponse(http.StatusOK, accounts), nil
}

// Link handles POST /accounts. Linking an email that is already linked to
// the same provider replaces the stored account and its tokens.
func (h *AccountHandler) Link(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "unauthorized"), nil
	}

	var payload struct {
		Provider     model.Provider `json:"provider"`
		AccountEmail string         `json:"accountEmail"`
		AccessToken  string         `json:"accessToken"`
		RefreshToken string         `json:"refreshToken"`
	}
	if err := json.Unmarshal([]byte(req.Body), &payload); err != nil {
		return textResponse(http.StatusBadRequest, "invalid request body"), nil
	}
	if !payload.Provider.Valid() {
		return textResponse(http.StatusBadRequest, "unknown provider"), nil
	}
	if payload.AccountEmail == "" || payload.AccessToken == "" {
		return textResponse(http.StatusBadRequest, "accountEmail and accessToken are required"), nil
	}

	acct := model.LinkedAccount{
		UserID:       userID,
		Provider:     payload.Provider,
		AccountEmail: payload.AccountEmail,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if err := h.store.Save(ctx, acct); err != nil {
		h.logger.Error("failed to link account",
			logging.Operation("link_account"),
			logging.Provider(string(payload.Provider)),
			logging.AccountHash(payload.AccountEmail),
			logging.Err(err))
		return textResponse(http.StatusInternalServerError, "failed to link account"), nil
	}
	// A stale token for a previously linked same-key account must not
	// survive the new link.
	h.cache.Invalidate(tokencache.Key{
		UserID:       userID,
		AccountEmail: payload.AccountEmail,
		Provider:     payload.Provider,
	})

	h.logger.Info("account linked",
		logging.Operation("link_account"),
		logging.Provider(string(payload.Provider)),
		logging.AccountHash(payload.AccountEmail))

	return jsonResponse(http.StatusCreated, map[string]string{
		"provider":     string(payload.Provider),
		"accountEmail": payload.AccountEmail,
	}), nil
}

// Unlink handles DELETE /accounts. Query parameters: provider, accountEmail.
func (h *AccountHandler) Unlink(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "unauthorized"), nil
	}

	p := model.Provider(req.QueryStringParameters["provider"])
	email := req.QueryStringParameters["accountEmail"]
	if !p.Valid() || email == "" {
		return textResponse(http.StatusBadRequest, "provider and accountEmail are required"), nil
	}

	if err := h.store.Delete(ctx, userID, p, email); err != nil {
		h.logger.Error("failed to unlink account",
			logging.Operation("unlink_account"),
			logging.Provider(string(p)),
			logging.AccountHash(email),
			logging.Err(err))
		return textResponse(http.StatusInternalServerError, "failed to unlink account"), nil
	}
	h.cache.Invalidate(tokencache.Key{UserID: userID, AccountEmail: email, Provider: p})

	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, nil
}

// Refresh handles POST /accounts/refresh, forcing a token refresh for one
// linked account.
func (h *AccountHandler) Refresh(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "unauthorized"), nil
	}

	var payload struct {
		Provider     model.Provider `json:"provider"`
		AccountEmail string         `json:"accountEmail"`
	}
	if err := json.Unmarshal([]byte(req.Body), &payload); err != nil {
		return textResponse(http.StatusBadRequest, "invalid request body"), nil
	}
	if !payload.Provider.Valid() || payload.AccountEmail == "" {
		return textResponse(http.StatusBadRequest, "provider and accountEmail are required"), nil
	}

	err = h.agg.RefreshAccount(ctx, userID, payload.Provider, payload.AccountEmail)
	switch {
	case errors.Is(err, tokenstore.ErrAccountNotFound):
		return textResponse(http.StatusNotFound, "account not found"), nil
	case errors.Is(err, provider.ErrRefreshFailed):
		return textResponse(http.StatusBadGateway, "token refresh rejected by provider"), nil
	case err != nil:
		h.logger.Error("failed to refresh account",
			logging.Operation("refresh_account"),
			logging.Provider(string(payload.Provider)),
			logging.AccountHash(payload.AccountEmail),
			logging.Err(err))
		return textResponse(http.StatusInternalServerError, "failed to refresh account"), nil
	}

	return jsonResponse(http.StatusOK, map[string]string{
		"provider":     string(payload.Provider),
		"accountEmail": payload.AccountEmail,
		"status":       "refreshed",
	}), nil
}
