// NOTE: This app assumes that only one copy of it is running at the same time.

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/spanner"
	"gopkg.in/yaml.v3"

	"github.com/rust-lang/crater/internal/app"
	"github.com/rust-lang/crater/internal/corpus"
	"github.com/rust-lang/crater/internal/policy"
	"github.com/rust-lang/crater/internal/registry"
	"github.com/rust-lang/crater/internal/server"
	"github.com/rust-lang/crater/internal/store"
)

var (
	flagAddr          = flag.String("addr", ":8080", "address to listen on")
	flagSpannerURI    = flag.String("spanner-uri", os.Getenv("SPANNER_DATABASE_URI"), "Spanner database URI")
	flagConfigPath    = flag.String("config", envOr("CRATER_CONFIG_PATH", "/config/config.yaml"), "path to crater's config document")
	flagMigrate       = flag.Bool("migrate", true, "run pending schema migrations on startup")
	flagStaleInterval = flag.Duration("stale-check-interval", time.Minute, "how often to sweep for stale agents")
	flagStaleAfter    = flag.Duration("stale-after", 5*time.Minute, "how long without a heartbeat before an agent is considered stale")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	flag.Parse()
	if *flagSpannerURI == "" {
		app.Fatalf("--spanner-uri or SPANNER_DATABASE_URI must be set")
	}

	if *flagMigrate {
		if err := store.RunMigrations(*flagSpannerURI); err != nil {
			app.Fatalf("failed to run migrations: %v", err)
		}
	}
	ctx := context.Background()
	client, err := spanner.NewClient(ctx, *flagSpannerURI)
	if err != nil {
		app.Fatalf("failed to connect to spanner: %v", err)
	}
	defer client.Close()

	cfg, err := policy.Load(*flagConfigPath)
	if err != nil {
		app.Fatalf("failed to load config: %v", err)
	}

	experiments := store.NewExperimentRepository(client)
	jobs := store.NewJobRepository(client)
	agents := store.NewAgentRepository(client)
	corpusIndex := corpus.New(cfg.Demo.Crate, cfg.Demo.Repo)
	reg := registry.New(experiments, jobs, corpusIndex, cfg)

	agentAPI := server.NewAgentAPI(reg, agents, jobs, craterConfigBlob(cfg))
	operatorAPI := server.NewOperatorAPI(reg, cfg.ACL(), nil)
	srv := server.New(agentAPI, operatorAPI)

	go sweepStaleAgents(ctx, reg, agents, *flagStaleInterval, *flagStaleAfter)

	log.Printf("listening on %s", *flagAddr)
	app.Fatalf("listen failed: %v", http.ListenAndServe(*flagAddr, srv.Mux()))
}

// craterConfigBlob is handed to agents verbatim via GET /config; agents
// only need the sandbox caps to size their own resource limits locally.
func craterConfigBlob(cfg *policy.Config) []byte {
	data, err := yaml.Marshal(cfg.Sandbox)
	if err != nil {
		app.Fatalf("failed to marshal agent config: %v", err)
	}
	return data
}

// sweepStaleAgents periodically releases running experiments assigned to
// agents that have stopped heartbeating, spec.md §4.5.
func sweepStaleAgents(ctx context.Context, reg *registry.Registry, agents *store.AgentRepository,
	interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		stale, err := agents.Stale(ctx, time.Now().Add(-staleAfter))
		if err != nil {
			app.Errorf("stale agent sweep: failed to list stale agents: %v", err)
			continue
		}
		if len(stale) == 0 {
			continue
		}
		if err := reg.ReleaseStaleAgents(ctx, stale); err != nil {
			app.Errorf("stale agent sweep: %v", err)
		}
	}
}
