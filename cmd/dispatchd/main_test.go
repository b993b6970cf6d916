package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
	httpserver "github.com/fyrsmithlabs/dispatchd/internal/http"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
)

const testCatalog = `
agents:
  - id: writer-1
    name: Writer
    category: content
    cost_per_call: 50
    trust_score: 90
    success_rate: 85
    specializations: [summarize]
  - id: coder-1
    name: Coder
    category: code
    cost_per_call: 200
    trust_score: 80
    success_rate: 75
    specializations: [refactor]
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	engine := orchestrator.NewEngine()
	require.NoError(t, engine.RegisterAgent(context.Background(), orchestrator.AgentCapability{
		ID:              "writer-1",
		Name:            "Writer",
		Category:        orchestrator.CategoryContent,
		CostPerCall:     50,
		TrustScore:      90,
		SuccessRate:     85,
		Specializations: []string{"summarize"},
	}))

	srv, err := httpserver.NewServer(engine, nil, zap.NewNop(), &httpserver.Config{Version: "test"})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "Commit:")
}

func TestDecideCommand(t *testing.T) {
	ts := newTestAPI(t)

	out, err := execute(t, "--server", ts.URL, "decide", "--capability", "summarize", "--budget", "500")
	require.NoError(t, err)
	assert.Contains(t, out, "Agent:     writer-1")
	assert.Contains(t, out, "Autonomy:  full")
	assert.Contains(t, out, "Proceed:   true")
	assert.Contains(t, out, "Selected agent: writer-1")
}

func TestDecideCommand_JSON(t *testing.T) {
	ts := newTestAPI(t)

	out, err := execute(t, "--server", ts.URL, "decide", "--capability", "summarize", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"decision_id"`)
	assert.Contains(t, out, `"agent_id": "writer-1"`)
}

func TestDecideCommand_NoSuitableAgent(t *testing.T) {
	ts := newTestAPI(t)

	_, err := execute(t, "--server", ts.URL, "decide", "--capability", "translate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
	assert.Contains(t, err.Error(), "no suitable agent for capability: translate")
}

func TestDecideCommand_RequiresCapability(t *testing.T) {
	_, err := execute(t, "decide")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capability")
}

func TestHealthCommand(t *testing.T) {
	ts := newTestAPI(t)

	out, err := execute(t, "--server", ts.URL, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: ok")
	assert.Contains(t, out, "Agents:        1")
}

func TestHealthCommand_Unreachable(t *testing.T) {
	ts := newTestAPI(t)
	url := ts.URL
	ts.Close()

	_, err := execute(t, "--server", url, "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestExecutorConfig(t *testing.T) {
	cfg := config.Default().Executor
	cfg.DisableLearning = true
	cfg.OpsPerSecond = 2.5

	got := executorConfig(cfg)
	assert.False(t, got.LearningEnabled)
	assert.Equal(t, orchestrator.EnforcementStrict, got.EnforcementLevel)
	assert.Equal(t, 3, got.MaxRetries)
	assert.Equal(t, time.Second, got.RetryDelay)
	assert.Equal(t, int64(10000), got.CostCap)
	assert.Equal(t, 2.5, got.OpsPerSecond)
	assert.NoError(t, got.Validate())
}

func TestNewApp_LoadsCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))

	cfg := config.Default()
	cfg.Catalog.Path = path

	ctx := context.Background()
	a, err := newApp(ctx, cfg, io.Discard)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close(ctx)) }()

	agents := a.engine.ListAgents()
	require.Len(t, agents, 2)
	assert.Equal(t, "writer-1", agents[0].ID)

	result, err := a.executor.Execute(ctx, orchestrator.ExecutionContext{
		Capability:      "refactor",
		Budget:          1000,
		TimeLimit:       30000,
		RequiredQuality: 50,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, "coder-1", result.Decisions[0].SelectedAgent.AgentID)
}

func TestNewApp_BadCatalog(t *testing.T) {
	cfg := config.Default()
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := newApp(context.Background(), cfg, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load agent catalog")
}

func TestRunServe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping server test in short mode")
	}

	port := freePort(t)
	cfg := config.Default()
	cfg.Server.Port = port
	cfg.Logging.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, cfg)
	}()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
