package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/epicbytes/drivehub/backend/internal/aggregator"
	"github.com/epicbytes/drivehub/backend/internal/logging"
	"github.com/epicbytes/drivehub/backend/internal/model"
)

// DriveHandler serves the aggregated drive views.
type DriveHandler struct {
	agg       *aggregator.Service
	jwtSecret string
	logger    *slog.Logger
}

// NewDriveHandler creates a new DriveHandler.
func NewDriveHandler(agg *aggregator.Service, jwtSecret string, logger *slog.Logger) *DriveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DriveHandler{agg: agg, jwtSecret: jwtSecret, logger: logger}
}

// ListFiles handles GET /drives. Query parameters:
//
//	provider   restrict to one provider ("google", "onedrive", "dropbox")
//	folderId   folder to list, empty for the drive root
//	recursive  "true" to expand folders into nested trees
//	maxDepth   recursion bound, only meaningful with recursive
func (h *DriveHandler) ListFiles(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "unauthorized"), nil
	}

	opts := aggregator.FileOptions{
		Provider:  model.Provider(req.QueryStringParameters["provider"]),
		FolderID:  req.QueryStringParameters["folderId"],
		Recursive: req.QueryStringParameters["recursive"] == "true",
	}
	if opts.Provider != "" && !opts.Provider.Valid() {
		return textResponse(http.StatusBadRequest, "unknown provider"), nil
	}
	if v := req.QueryStringParameters["maxDepth"]; v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil || depth < 1 {
			return textResponse(http.StatusBadRequest, "maxDepth must be a positive integer"), nil
		}
		opts.MaxDepth = depth
	}

	results, err := h.agg.AggregateFiles(ctx, userID, opts)
	if err != nil {
		h.logger.Error("file aggregation failed",
			logging.Operation("list_files"),
			logging.UserID(userID),
			logging.Err(err))
		return textResponse(http.StatusInternalServerError, "failed to list files"), nil
	}

	return jsonResponse(http.StatusOK, results), nil
}

// GetQuota handles GET /drives/quota. Accepts the same provider filter as
// ListFiles.
func (h *DriveHandler) GetQuota(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "unauthorized"), nil
	}

	p := model.Provider(req.QueryStringParameters["provider"])
	if p != "" && !p.Valid() {
		return textResponse(http.StatusBadRequest, "unknown provider"), nil
	}

	results, err := h.agg.AggregateQuotas(ctx, userID, p)
	if err != nil {
		h.logger.Error("quota aggregation failed",
			logging.Operation("get_quota"),
			logging.UserID(userID),
			logging.Err(err))
		return textResponse(http.StatusInternalServerError, "failed to get quotas"), nil
	}

	return jsonResponse(http.StatusOK, results), nil
}
