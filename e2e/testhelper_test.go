package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/storycanvas/api/internal/auth"
	"github.com/storycanvas/api/internal/client"
	"github.com/storycanvas/api/internal/config"
	"github.com/storycanvas/api/internal/handler"
	"github.com/storycanvas/api/internal/middleware"
	"github.com/storycanvas/api/internal/service"
	ws "github.com/storycanvas/api/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	store  *service.BoardStore
	ledger client.CreditLedger
}

// setupApp creates a Fiber app identical to main.go but with unconfigured
// external clients, so every service runs its mock/fallback path.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis (localhost — must be running)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})

	// Asynq client (design jobs are queued but no worker server runs here)
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run()

	// External clients — all unconfigured so services use mock fallbacks
	groqClient := client.NewGroqClient(&config.GroqConfig{})    // no API key → mock extraction
	mediaClient := client.NewMediaClient(&config.MediaConfig{}) // no API key → mock renders
	ledger := client.NewLocalLedger(500)

	store := service.NewBoardStore(hub, nil)
	go store.Run()

	pipelineCfg := &config.PipelineConfig{
		MaxParallel:      4,
		SceneDurationSec: 8,
		PollBaseSec:      1,
		PollMaxSec:       2,
		PollDeadlineSec:  5,
	}
	credits := &config.CreditsConfig{ImageCost: 10, VideoCost: 50}

	extractService := service.NewExtractService(groqClient)
	enqueuer := service.NewAsynqEnqueuer(asynqClient)
	poller := service.NewPoller(mediaClient, pipelineCfg)
	pipelineService := service.NewPipelineService(store, extractService, enqueuer, nil, pipelineCfg)
	renderService := service.NewRenderService(store, mediaClient, ledger, nil, poller, credits)

	pipelineHandler := handler.NewPipelineHandler(pipelineService, validate)
	renderHandler := handler.NewRenderHandler(renderService)
	sceneHandler := handler.NewSceneHandler(pipelineService, validate)
	assetHandler := handler.NewAssetHandler(pipelineService, validate)
	creditsHandler := handler.NewCreditsHandler(ledger)

	// Auth handler (for /auth/verify)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware — legacy HMAC only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"groq":   false,
				"media":  false,
				"ledger": false,
				"r2":     false,
				"auth":   true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// API routes (authenticated)
	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	pipeline := api.Group("/pipeline")
	pipeline.Post("/run", rateLimiter.PipelineLimit(10000), pipelineHandler.Run)
	pipeline.Get("/:projectId", pipelineHandler.GetBoard)
	pipeline.Get("/:projectId/log", pipelineHandler.GetLog)

	render := api.Group("/render", rateLimiter.RenderLimit(10000))
	render.Post("/:projectId/images", renderHandler.Images)
	render.Post("/:projectId/videos", renderHandler.Videos)

	scenes := api.Group("/scenes", rateLimiter.SceneLimit(10000))
	scenes.Post("/:projectId/select", sceneHandler.Select)
	scenes.Post("/:projectId/deselect", sceneHandler.Deselect)
	scenes.Post("/:projectId/select-all", sceneHandler.SelectAll)
	scenes.Patch("/:projectId/:sceneId/prompt", sceneHandler.UpdatePrompt)

	assets := api.Group("/assets", rateLimiter.AssetLimit(10000))
	assets.Post("/:projectId", assetHandler.Create)
	assets.Patch("/:projectId/:assetId", assetHandler.Update)
	assets.Delete("/:projectId/:assetId", assetHandler.Delete)
	assets.Post("/:projectId/:assetId/regenerate", assetHandler.Regenerate)

	credits2 := api.Group("/credits")
	credits2.Get("/balance", creditsHandler.Balance)

	return &testApp{app: app, store: store, ledger: ledger}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.LegacyClaims{
		UserID: "test-user-123",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "storycanvas-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
