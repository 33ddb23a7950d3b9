package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/epicbytes/drivehub/backend/internal/aggregator"
	"github.com/epicbytes/drivehub/backend/internal/crypto"
	"github.com/epicbytes/drivehub/backend/internal/handler"
	"github.com/epicbytes/drivehub/backend/internal/logging"
	"github.com/epicbytes/drivehub/backend/internal/model"
	"github.com/epicbytes/drivehub/backend/internal/provider"
	"github.com/epicbytes/drivehub/backend/internal/provider/dropbox"
	"github.com/epicbytes/drivehub/backend/internal/provider/googledrive"
	"github.com/epicbytes/drivehub/backend/internal/provider/onedrive"
	"github.com/epicbytes/drivehub/backend/internal/secret"
	"github.com/epicbytes/drivehub/backend/internal/tokencache"
	"github.com/epicbytes/drivehub/backend/internal/tokenstore"
)

// App holds the dependencies for the Lambda function.
type App struct {
	driveHandler     *handler.DriveHandler
	accountHandler   *handler.AccountHandler
	apiGatewaySecret string
	logger           *slog.Logger
}

// NewApp initializes the application dependencies.
func NewApp(ctx context.Context) *App {
	logger := logging.New(logLevel())
	devMode := os.Getenv("DEV_MODE") == "true"

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config, %v", err))
	}

	dynamoClient := dynamodb.NewFromConfig(cfg)

	var encryptor crypto.Encryptor
	if devMode {
		encryptor = crypto.NewMockEncryptor()
		logger.Info("using MockEncryptor (DEV_MODE=true)")
	} else {
		kmsKeyID := envOr("KMS_KEY_ID", "alias/drivehub-token-key")
		encryptor = crypto.NewKMSService(kms.NewFromConfig(cfg), kmsKeyID)
	}

	var resolver secret.Resolver
	if devMode {
		resolver = secret.NewEnvResolver()
		logger.Info("using EnvResolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(cfg))
	}

	googleClientSecret := resolveSecret(ctx, logger, resolver, "GOOGLE_CLIENT_SECRET_PARAM", "/drivehub/google-client-secret")
	onedriveClientSecret := resolveSecret(ctx, logger, resolver, "ONEDRIVE_CLIENT_SECRET_PARAM", "/drivehub/onedrive-client-secret")
	dropboxAppSecret := resolveSecret(ctx, logger, resolver, "DROPBOX_APP_SECRET_PARAM", "/drivehub/dropbox-app-secret")
	apiGatewaySecret := resolveSecret(ctx, logger, resolver, "API_GATEWAY_SECRET_PARAM", "/drivehub/api-gateway-secret")

	jwtSecret := resolveSecret(ctx, logger, resolver, "JWT_SECRET_PARAM", "/drivehub/jwt-secret")
	if jwtSecret == "" {
		jwtSecret = "default-dev-secret"
	}

	googleOAuth := &oauth2.Config{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: googleClientSecret,
		Scopes: []string{
			"https://www.googleapis.com/auth/drive.readonly",
		},
		Endpoint: google.Endpoint,
	}

	registry := provider.Registry{
		model.ProviderGoogle:   googledrive.New(googleOAuth),
		model.ProviderOneDrive: onedrive.New(os.Getenv("ONEDRIVE_CLIENT_ID"), onedriveClientSecret),
		model.ProviderDropbox:  dropbox.New(os.Getenv("DROPBOX_APP_KEY"), dropboxAppSecret),
	}

	accountsTable := envOr("LINKED_ACCOUNTS_TABLE", "LinkedAccounts")
	store := tokenstore.NewService(dynamoClient, accountsTable, encryptor)
	cache := tokencache.New(tokencache.DefaultTTL)
	agg := aggregator.NewService(store, registry, cache, logger)

	return &App{
		driveHandler:     handler.NewDriveHandler(agg, jwtSecret, logger),
		accountHandler:   handler.NewAccountHandler(store, cache, agg, jwtSecret, logger),
		apiGatewaySecret: apiGatewaySecret,
		logger:           logger,
	}
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	app.logger.Info("request", slog.String("method", method), slog.String("path", path))

	// CORS Preflight
	if method == "OPTIONS" {
		return corsResponse(events.APIGatewayProxyResponse{StatusCode: 204}), nil
	}

	// Only CloudFront, which injects the shared header, may reach us in
	// production.
	if os.Getenv("DEV_MODE") != "true" {
		if req.Headers["X-Origin-Verify"] != app.apiGatewaySecret && req.Headers["x-origin-verify"] != app.apiGatewaySecret {
			app.logger.Warn("blocked request without valid X-Origin-Verify header")
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusForbidden,
				Body:       "Forbidden: Access denied",
			}, nil
		}
	}

	// Strip /api prefix if present (for CloudFront proxying)
	path = strings.TrimPrefix(path, "/api")

	switch {
	case path == "/drives" && method == "GET":
		return corsResponse(app.must(app.driveHandler.ListFiles(ctx, req))), nil
	case path == "/drives/quota" && method == "GET":
		return corsResponse(app.must(app.driveHandler.GetQuota(ctx, req))), nil
	case path == "/accounts" && method == "GET":
		return corsResponse(app.must(app.accountHandler.List(ctx, req))), nil
	case path == "/accounts" && method == "POST":
		return corsResponse(app.must(app.accountHandler.Link(ctx, req))), nil
	case path == "/accounts" && method == "DELETE":
		return corsResponse(app.must(app.accountHandler.Unlink(ctx, req))), nil
	case path == "/accounts/refresh" && method == "POST":
		return corsResponse(app.must(app.accountHandler.Refresh(ctx, req))), nil
	}

	return corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}), nil
}

// corsResponse adds CORS headers to an API Gateway response.
func corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = envOr("FRONTEND_URL", "http://localhost:3000")
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,DELETE,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, converting an unexpected handler error
// into a 500.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		app.logger.Error("handler error", logging.Err(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}

func resolveSecret(ctx context.Context, logger *slog.Logger, resolver secret.Resolver, envVar, defaultParam string) string {
	param := envOr(envVar, defaultParam)
	value, err := resolver.GetSecret(ctx, param)
	if err != nil {
		logger.Warn("failed to resolve secret", slog.String("param", param), logging.Err(err))
		return ""
	}
	return value
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
