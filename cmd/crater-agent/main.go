package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rust-lang/crater/internal/agent"
	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/app"
	"github.com/rust-lang/crater/internal/cargo"
	"github.com/rust-lang/crater/internal/policy"
	"github.com/rust-lang/crater/internal/sandbox"
)

var (
	flagServerURL  = flag.String("server", "", "crater server base URL")
	flagTokenFile  = flag.String("token-file", os.Getenv("CRATER_AGENT_TOKEN_FILE"), "path to a file containing this agent's bearer token")
	flagThreads    = flag.Int("threads", 2, "number of jobs to run concurrently")
	flagScratchDir = flag.String("scratch-dir", envOr("CRATER_WORK_DIR", "/tmp/crater-agent"), "scratch directory for job workspaces")
	flagHeartbeat  = flag.Duration("heartbeat", time.Minute, "how often to heartbeat independent of job activity")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	flag.Parse()
	if *flagServerURL == "" {
		app.Fatalf("--server must be set")
	}
	token, err := readToken(*flagTokenFile)
	if err != nil {
		app.Fatalf("failed to read agent token: %v", err)
	}
	if err := os.MkdirAll(*flagScratchDir, 0o755); err != nil {
		app.Fatalf("failed to create scratch dir: %v", err)
	}

	client := api.NewClient(*flagServerURL, token)
	sandboxCaps, err := fetchSandboxCaps(client)
	if err != nil {
		app.Fatalf("failed to fetch agent config: %v", err)
	}

	runtime := agent.New(agent.Config{
		Client:         client,
		Builder:        cargo.New(*flagScratchDir),
		Remaining:      agent.FullJobSet{},
		Threads:        *flagThreads,
		SandboxCaps:    sandboxCaps,
		HeartbeatEvery: *flagHeartbeat,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := runtime.Run(ctx); err != nil && ctx.Err() == nil {
		app.Fatalf("agent loop exited: %v", err)
	}
}

func readToken(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("--token-file or CRATER_AGENT_TOKEN_FILE must be set")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(trimNewline(data)), nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// fetchSandboxCaps pulls the server's sandbox caps blob (yaml-encoded
// policy.SandboxCaps, per cmd/crater-server's craterConfigBlob) and decodes
// it into the Caps the executor needs for this agent's jobs.
func fetchSandboxCaps(client *api.Client) (sandbox.Caps, error) {
	cfg, err := client.GetConfig(context.Background())
	if err != nil {
		return sandbox.Caps{}, err
	}
	var caps policy.SandboxCaps
	if err := yaml.Unmarshal(cfg.CraterConfig, &caps); err != nil {
		return sandbox.Caps{}, err
	}
	return sandbox.EffectiveCaps(caps, policy.Override{}), nil
}
