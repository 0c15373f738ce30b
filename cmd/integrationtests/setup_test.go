package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"auction-rounds/internal/app"
	"auction-rounds/internal/config"
	"auction-rounds/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var start = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

// testConfig mirrors the defaults with a fast timer and no effective rate limit
func testConfig() config.Config {
	return config.Config{
		RoundDuration:     time.Minute,
		ItemsPerRound:     2,
		AntiSnipeWindow:   10 * time.Second,
		TimerPollInterval: 10 * time.Millisecond,
		StoreTimeout:      time.Second,
		SettleWorkers:     2,
		SettleAlertAfter:  3,
		SettleClaimTTL:    30 * time.Second,
		BidRateLimit:      1000,
		BidRateBurst:      1000,
	}
}

type testEnv struct {
	durable *repository.MemoryRepo
	runtime *repository.MemoryRuntimeRepo
	app     *app.App
}

// SetupTestApp starts the full application over in-memory stores with a frozen clock.
// The collection c1 is seeded with the given number of items.
func SetupTestApp(t *testing.T, items int) *testEnv {
	t.Helper()
	env := &testEnv{
		durable: repository.NewMemoryRepo(),
		runtime: repository.NewMemoryRuntimeRepo(),
	}
	require.NoError(t, app.SeedCollection(context.Background(), env.durable, "c1", items))
	env.start(t)
	return env
}

// start builds and starts a fresh application over the env's stores
func (e *testEnv) start(t *testing.T) {
	t.Helper()
	e.app = app.New(testConfig(), app.Deps{
		Durable: e.durable,
		Runtime: e.runtime,
		Now:     func() time.Time { return start },
	})
	require.NoError(t, e.app.Start(context.Background()))
	a := e.app
	t.Cleanup(a.Stop)
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		require.NoError(t, err, "failed to marshal body")
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "failed to unmarshal response")
	}
	return resp, w
}

// data returns the "data" object of a successful response
func data(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	d, ok := resp["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", resp)
	return d
}
