package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmx "github.com/tanpawarit/Chative-Retention-Router/agent/llm"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

func testConfig(t *testing.T) AppConfig {
	t.Helper()
	dir := t.TempDir()
	return AppConfig{
		Data: DataConfig{
			CustomersFile: filepath.Join("data", "customers.csv"),
			ActionLogFile: filepath.Join(dir, "actions.jsonl"),
		},
		State: StateConfig{Backend: "memory"},
		LLM:   llmx.Config{},
	}
}

func newTestApp(t *testing.T, cfg AppConfig) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, appOptions{registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestScenariosRouteAsScripted(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	want := map[string]statex.Role{
		"money_problems":    statex.RoleRetention,
		"phone_problems":    statex.RoleTechnicalHandoff,
		"questioning_value": statex.RoleRetention,
		"technical_help":    statex.RoleTechnicalHandoff,
		"billing_question":  statex.RoleBillingHandoff,
	}
	for _, name := range scenarioNames() {
		var out bytes.Buffer
		require.NoError(t, runScenario(context.Background(), a.router, name, scenarios[name], &out), name)
		assert.Contains(t, out.String(), "TechFlow ["+string(want[name])+"]", name)
	}
}

func TestMoneyProblemsGetsGoldDiscount(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	var out bytes.Buffer
	require.NoError(t, runScenario(context.Background(), a.router, "money_problems", scenarios["money_problems"], &out))
	assert.Contains(t, out.String(), "50% off")
}

func TestChatSessionEndsOnHandoff(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	in := strings.NewReader("hi there\nemily.b@email.com my phone won't charge\nare you still there?\n")
	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), a.router, "chat-1", in, &out))

	transcript := out.String()
	assert.Contains(t, transcript, "email address")
	assert.Contains(t, transcript, "techsupport@techflow.com")
	assert.Contains(t, transcript, "[conversation chat-1: technical_handoff]")
	assert.NotContains(t, transcript, "are you still there")
}

func TestChatQuit(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), a.router, "chat-2", strings.NewReader("quit\n"), &out))
	assert.NotContains(t, out.String(), "TechFlow:")
}

func TestCancellationWritesActionLog(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	for _, msg := range []string{
		"sarah.j@email.com I can't afford this, cancel please",
		"no thanks, just cancel",
		"no thanks, just cancel",
		"no thanks, just cancel",
		"yes",
	} {
		_, err := a.router.HandleTurn(ctx, "conv-log", msg)
		require.NoError(t, err, msg)
	}

	raw, err := os.ReadFile(cfg.Data.ActionLogFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"customer_id":"CUST_001"`)
	assert.Contains(t, string(raw), `"action":"cancel"`)

	rec, err := a.directory.Lookup(ctx, "sarah.j@email.com")
	require.NoError(t, err)
	assert.Equal(t, statex.StatusCancelled, rec.Status)
}

func TestUnknownStateBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.State.Backend = "etcd"

	_, err := newApp(context.Background(), cfg, appOptions{})
	require.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ROUTER_ATTEMPT_CAP", "5")
	t.Setenv("DATA_CUSTOMERS_FILE", "custom.csv")
	t.Setenv("STATE_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Router.AttemptCap)
	assert.Equal(t, 2, cfg.Router.MaxRetries)
	assert.Equal(t, "custom.csv", cfg.Data.CustomersFile)
	assert.Equal(t, "memory", cfg.State.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.State.Redis.URL)
	assert.Equal(t, "support.handoff", cfg.Kafka.Topic)
	assert.False(t, cfg.Postgres.Enabled())
	assert.False(t, cfg.QStash.Enabled())
}
