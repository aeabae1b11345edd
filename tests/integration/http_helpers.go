package integration

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/database"
	"github.com/bastionsec/bastion/internal/guard"
	"github.com/bastionsec/bastion/internal/handlers"
	"github.com/bastionsec/bastion/internal/instrumentation"
	custommw "github.com/bastionsec/bastion/internal/middleware"
	"github.com/bastionsec/bastion/internal/repositories"
	"github.com/bastionsec/bastion/internal/routes"
	"github.com/bastionsec/bastion/internal/services"
	"github.com/bastionsec/bastion/internal/store"
	"github.com/bastionsec/bastion/internal/validation"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// TestConfig returns the configuration the integration server runs with.
// Tests that need different thresholds mutate the result before passing it
// to NewTestServer.
func TestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
			TrustedProxies: []string{},
		},
		Auth: config.AuthConfig{
			JWTSecret:          "test-secret-32-characters-long-for-testing",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			AdminTOTPRequired:  false,
			TOTPIssuer:         "bastion-test",
			TOTPEncryptionKey:  "test-secret-32-characters-long-for-testing",
		},
		RateLimit: config.RateLimitConfig{
			GlobalMax:      5000,
			GlobalWindow:   1 * time.Minute,
			IPMax:          1000,
			IPWindow:       1 * time.Minute,
			AccountMax:     100,
			AccountWindow:  1 * time.Minute,
			EndpointMax:    1000,
			EndpointWindow: 1 * time.Minute,
			FallbackRPS:    50,
			FallbackBurst:  100,
			EdgeRPM:        10000,
		},
		AccountSecurity: config.AccountSecurityConfig{
			WarningThreshold:  3,
			MaxFailedAttempts: 5,
			FailureWindow:     30 * time.Minute,
			LockoutSchedule: []time.Duration{
				5 * time.Minute, 15 * time.Minute, 30 * time.Minute, 1 * time.Hour,
			},
			HistoryWindow: 24 * time.Hour,
		},
		CSRF: config.CSRFConfig{
			TokenTTL:    1 * time.Hour,
			CookieName:  "csrf_token",
			HeaderName:  "X-CSRF-Token",
			CookiePath:  "/",
			SingleUse:   false,
			BindContext: true,
		},
		Threat: config.ThreatConfig{
			Window:    1 * time.Hour,
			AutoBlock: true,
			BlockSchedule: []time.Duration{
				5 * time.Minute, 15 * time.Minute, 30 * time.Minute, 1 * time.Hour,
			},
			HistoryWindow: 24 * time.Hour,
		},
		Events: config.EventsConfig{
			RecentRetention:     24 * time.Hour,
			ComplianceRetention: 365 * 24 * time.Hour,
			AlertWindow:         1 * time.Hour,
			CriticalThreshold:   1,
			ErrorThreshold:      5,
			WarningThreshold:    20,
			ExportLimit:         10000,
			PurgeInterval:       1 * time.Hour,
		},
	}
}

// TestServer wraps httptest.Server with the full defense stack wired the
// same way the production entry point wires it, minus email alerting and
// metric export.
type TestServer struct {
	Server *httptest.Server
	DB     *database.DB
	Store  *store.RedisStore
	Config *config.Config

	logger *slog.Logger
}

// NewTestServer builds a complete HTTP server on top of a migrated
// database and a reachable security store
func NewTestServer(db *database.DB, securityStore *store.RedisStore, cfg *config.Config) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "bastion-test",
		Enabled:     false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	metrics := inst.Metrics()
	secStore := instrumentation.WrapStore(securityStore, metrics)

	userRepo := repositories.NewUserRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	logService := services.NewSecurityLogService(eventRepo, secStore, cfg.Events, logger, services.NewSlogNotifier(logger))
	events := instrumentation.WrapRecorder(logService, metrics)

	rateLimitService := services.NewRateLimitService(secStore, cfg.RateLimit, logger, events)
	accountSecurity := services.NewAccountSecurityService(secStore, cfg.AccountSecurity, logger, events)
	threatService := services.NewIPThreatService(secStore, cfg.Threat, logger, events)
	validator := validation.NewValidator()
	csrfGuard := auth.NewCSRFGuard(secStore, cfg.CSRF)

	requestGuard := guard.NewRequestGuard(validator, csrfGuard, rateLimitService, accountSecurity, threatService, events, logger)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry)

	totpKey := sha256.Sum256([]byte(cfg.Auth.TOTPEncryptionKey))
	totpManager, err := auth.NewTOTPManager(totpKey[:], cfg.Auth.TOTPIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create TOTP manager: %w", err)
	}

	// Minimal delay so failure-path tests stay fast
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   1,
		RandomDelayMs: 0,
	})

	authService := services.NewAuthService(userRepo, tokenManager, accountSecurity, threatService, events, timingDelay, logger)
	userService := services.NewUserService(userRepo, logger)
	adminService := services.NewAdminService(userRepo, totpManager, secStore, logService, events, logger, true)

	extractor, err := pkghttp.NewIPExtractor(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxy configuration: %w", err)
	}

	settings := handlers.Settings{
		Cookies: auth.CookieConfig{
			Secure:   false,
			SameSite: "strict",
		},
		RefreshExpiry:  cfg.Auth.RefreshTokenExpiry,
		CSRFCookieName: cfg.CSRF.CookieName,
		CSRFHeaderName: cfg.CSRF.HeaderName,
		CSRFTokenTTL:   cfg.CSRF.TokenTTL,
	}

	authHandler := handlers.NewAuthHandler(authService, requestGuard, csrfGuard, extractor, settings)
	csrfHandler := handlers.NewCSRFHandler(csrfGuard, extractor, settings)
	userHandler := handlers.NewUserHandler(userService)
	adminHandler := handlers.NewAdminHandler(adminService, accountSecurity, threatService, rateLimitService, logService, cfg.Auth.AdminTOTPRequired)
	healthHandler := handlers.NewHealthHandler(db, securityStore)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(custommw.SecurityHeaders(custommw.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, routes.Deps{
		Auth:         authHandler,
		CSRF:         csrfHandler,
		Users:        userHandler,
		Admin:        adminHandler,
		Health:       healthHandler,
		TokenManager: tokenManager,
		UserRepo:     userRepo,
		Guard:        requestGuard,
		Extractor:    extractor,
		Metrics:      metrics,
		Logger:       logger,
		EdgeRPM:      cfg.RateLimit.EdgeRPM,
	})

	return &TestServer{
		Server: httptest.NewServer(r),
		DB:     db,
		Store:  securityStore,
		Config: cfg,
		logger: logger,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// CSRFPair is an issued double-submit token with its cookie half
type CSRFPair struct {
	Token  string
	Cookie *http.Cookie
}

// FetchCSRF issues a fresh CSRF token from the token endpoint
func (ts *TestServer) FetchCSRF() (*CSRFPair, error) {
	resp, err := ts.Request(http.MethodGet, "/v1/csrf", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("csrf endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"csrf_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse csrf response: %w", err)
	}

	for _, c := range resp.Cookies() {
		if c.Name == ts.Config.CSRF.CookieName {
			return &CSRFPair{Token: body.Token, Cookie: c}, nil
		}
	}
	return nil, fmt.Errorf("csrf cookie %q not set", ts.Config.CSRF.CookieName)
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string, cookies ...*http.Cookie) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with an access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}, cookies ...*http.Cookie) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers, cookies...)
}

// Login performs the full browser login flow: fetch a CSRF pair, then
// submit credentials with the double-submit header and cookie.
func (ts *TestServer) Login(email, password string) (*http.Response, error) {
	pair, err := ts.FetchCSRF()
	if err != nil {
		return nil, err
	}
	return ts.LoginWithCSRF(email, password, pair)
}

// LoginWithCSRF submits credentials using an already-issued CSRF pair
func (ts *TestServer) LoginWithCSRF(email, password string, pair *CSRFPair) (*http.Response, error) {
	body := map[string]string{"email": email, "password": password}
	headers := map[string]string{ts.Config.CSRF.HeaderName: pair.Token}
	return ts.Request(http.MethodPost, "/v1/auth/login", body, headers, pair.Cookie)
}

// ParseJSONResponse parses a JSON response body into the target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// ExtractTokensFromResponse extracts access and refresh tokens from an
// auth response
func ExtractTokensFromResponse(resp *http.Response) (accessToken, refreshToken string, err error) {
	defer resp.Body.Close()

	var authResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", "", fmt.Errorf("failed to parse response: %w", err)
	}

	if access, ok := authResp["access_token"].(string); ok {
		accessToken = access
	}
	if refresh, ok := authResp["refresh_token"].(string); ok {
		refreshToken = refresh
	}

	return accessToken, refreshToken, nil
}

// GetErrorCode extracts the machine-readable error code from an error
// response
func GetErrorCode(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	return errResp.Error, nil
}
