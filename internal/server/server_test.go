package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/comparator"
	"github.com/rust-lang/crater/internal/policy"
	"github.com/rust-lang/crater/internal/registry"
	"github.com/rust-lang/crater/internal/store"
)

// fakeCorpus treats every package as known and returns explicit selections
// verbatim, standing in for the corpus-discovery collaborator of spec.md §1.
type fakeCorpus struct{}

func (fakeCorpus) Known(api.PackageRef) bool { return true }
func (fakeCorpus) Resolve(ctx context.Context, sel api.CrateSelection) ([]api.PackageRef, error) {
	return sel.Explicit, nil
}

func setupTestServer(t *testing.T) (*httptest.Server, *api.Client, *registry.Registry, *store.AgentRepository) {
	t.Helper()
	client, ctx := store.NewTransientDB(t)

	experiments := store.NewExperimentRepository(client)
	jobs := store.NewJobRepository(client)
	agents := store.NewAgentRepository(client)
	pol := &policy.Config{}
	reg := registry.New(experiments, jobs, fakeCorpus{}, pol)

	acl := policy.NewACLStore("", &policy.ACL{RustTeams: false, GitHubLogins: []string{"operator"}})
	agentAPI := NewAgentAPI(reg, agents, jobs, []byte("{}"))
	operatorAPI := NewOperatorAPI(reg, acl, nil)
	srv := New(agentAPI, operatorAPI)

	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)

	require.NoError(t, agents.Upsert(ctx, "agent-1", HashToken("tok-1"), []string{"linux"}))

	return ts, api.NewClient(ts.URL, "tok-1"), reg, agents
}

func lazyStatic() api.PackageRef { return api.PackageRef{Registry: "lazy_static", Version: "0.2.11"} }
func helloRS() api.PackageRef    { return api.PackageRef{Git: "https://github.com/brson/hello-rs", SHA: "deadbeef"} }

// TestS1CreateExperiment matches spec.md §8 scenario S1: create pr-1 with
// two toolchains and two packages and expect it queued. The job count is
// not checked here; TestS3 shows all four jobs must be recorded before
// the experiment completes.
func TestS1CreateExperiment(t *testing.T) {
	_, _, reg, _ := setupTestServer(t)
	ctx := context.Background()

	exp, err := reg.Create(ctx, api.CreateExperimentRequest{
		Name:       "pr-1",
		ToolchainA: api.Toolchain{Dist: "stable"},
		ToolchainB: api.Toolchain{Dist: "beta"},
		Mode:       api.ModeBuildAndTest,
		Crates:     api.CrateSelection{Kind: api.SelectExplicit, Explicit: []api.PackageRef{lazyStatic(), helloRS()}},
		Priority:   0,
	})
	require.NoError(t, err)
	assert.Equal(t, api.StatusQueued, exp.Status)
}

// TestS2SingleAssignment matches S2: the first eligible agent gets the
// experiment; a second request sees nothing.
func TestS2SingleAssignment(t *testing.T) {
	ts, client, reg, agents := setupTestServer(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, api.CreateExperimentRequest{
		Name:       "pr-1",
		ToolchainA: api.Toolchain{Dist: "stable"},
		ToolchainB: api.Toolchain{Dist: "beta"},
		Mode:       api.ModeBuildAndTest,
		Crates:     api.CrateSelection{Kind: api.SelectExplicit, Explicit: []api.PackageRef{lazyStatic(), helloRS()}},
	})
	require.NoError(t, err)

	desc, err := client.NextExperiment(ctx)
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, "pr-1", desc.Name)

	exp, err := reg.Get(ctx, "pr-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusRunning, exp.Status)

	require.NoError(t, agents.Upsert(context.Background(), "agent-2", HashToken("tok-2"), []string{"linux"}))
	secondClient := api.NewClient(ts.URL, "tok-2")
	desc2, err := secondClient.NextExperiment(ctx)
	require.NoError(t, err)
	assert.Nil(t, desc2)
}

// TestS3RecordProgressAndComplete matches S3: four outcomes recorded moves
// the experiment to needs-report.
func TestS3RecordProgressAndComplete(t *testing.T) {
	_, client, reg, _ := setupTestServer(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, api.CreateExperimentRequest{
		Name:       "pr-1",
		ToolchainA: api.Toolchain{Dist: "stable"},
		ToolchainB: api.Toolchain{Dist: "beta"},
		Mode:       api.ModeBuildAndTest,
		Crates:     api.CrateSelection{Kind: api.SelectExplicit, Explicit: []api.PackageRef{lazyStatic(), helloRS()}},
	})
	require.NoError(t, err)
	_, err = client.NextExperiment(ctx)
	require.NoError(t, err)

	results := []api.JobResult{
		{Crate: lazyStatic(), Toolchain: api.Toolchain{Dist: "stable"}, Result: api.OutcomeTestPass},
		{Crate: lazyStatic(), Toolchain: api.Toolchain{Dist: "beta"}, Result: api.OutcomeTestFail},
		{Crate: helloRS(), Toolchain: api.Toolchain{Dist: "stable"}, Result: api.OutcomeTestPass},
		{Crate: helloRS(), Toolchain: api.Toolchain{Dist: "beta"}, Result: api.OutcomeTestPass},
	}
	for _, res := range results {
		require.NoError(t, client.RecordProgress(ctx, &api.RecordProgressRequest{
			ExperimentName: "pr-1",
			Results:        []api.JobResult{res},
		}))
	}

	exp, err := reg.Get(ctx, "pr-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusNeedsReport, exp.Status)
}

// TestS4IdempotentAndConflictingProgress matches S4: a repeated identical
// outcome is accepted idempotently, a conflicting one is rejected.
func TestS4IdempotentAndConflictingProgress(t *testing.T) {
	_, client, reg, _ := setupTestServer(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, api.CreateExperimentRequest{
		Name:       "pr-1",
		ToolchainA: api.Toolchain{Dist: "stable"},
		ToolchainB: api.Toolchain{Dist: "beta"},
		Mode:       api.ModeBuildAndTest,
		Crates:     api.CrateSelection{Kind: api.SelectExplicit, Explicit: []api.PackageRef{lazyStatic()}},
	})
	require.NoError(t, err)
	_, err = client.NextExperiment(ctx)
	require.NoError(t, err)

	req := &api.RecordProgressRequest{
		ExperimentName: "pr-1",
		Results: []api.JobResult{
			{Crate: lazyStatic(), Toolchain: api.Toolchain{Dist: "beta"}, Result: api.OutcomeTestFail},
		},
	}
	require.NoError(t, client.RecordProgress(ctx, req))
	require.NoError(t, client.RecordProgress(ctx, req)) // idempotent repeat

	conflicting := &api.RecordProgressRequest{
		ExperimentName: "pr-1",
		Results: []api.JobResult{
			{Crate: lazyStatic(), Toolchain: api.Toolchain{Dist: "beta"}, Result: api.OutcomeTestPass},
		},
	}
	err = client.RecordProgress(ctx, conflicting)
	require.Error(t, err)
	status, ok := api.Status(err)
	require.True(t, ok)
	assert.Equal(t, api.EnvelopeInternalError, status)
}

// TestS5AbortDropsExperiment matches S5: abort returns not-found to the
// next progress call and empties the queue.
func TestS5AbortDropsExperiment(t *testing.T) {
	_, client, reg, _ := setupTestServer(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, api.CreateExperimentRequest{
		Name:       "pr-1",
		ToolchainA: api.Toolchain{Dist: "stable"},
		ToolchainB: api.Toolchain{Dist: "beta"},
		Mode:       api.ModeBuildAndTest,
		Crates:     api.CrateSelection{Kind: api.SelectExplicit, Explicit: []api.PackageRef{lazyStatic()}},
	})
	require.NoError(t, err)
	_, err = client.NextExperiment(ctx)
	require.NoError(t, err)

	require.NoError(t, reg.Abort(ctx, "pr-1"))

	err = client.RecordProgress(ctx, &api.RecordProgressRequest{
		ExperimentName: "pr-1",
		Results: []api.JobResult{
			{Crate: lazyStatic(), Toolchain: api.Toolchain{Dist: "beta"}, Result: api.OutcomeTestFail},
		},
	})
	require.Error(t, err)
	status, ok := api.Status(err)
	require.True(t, ok)
	assert.Equal(t, api.EnvelopeNotFound, status)

	queued, err := reg.List(ctx, api.StatusQueued)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

// TestS6SkipTestsRecordsAsSameTestPass matches S6: with a package
// policy-flagged skip-tests, the experiment descriptor keeps mode
// build-and-test, the package still gets a job per toolchain, recording
// test-skipped for both completes the experiment, and comparing the two
// test-skipped outcomes yields same-test-pass. The results are posted
// directly; no agent or sandbox runs here.
func TestS6SkipTestsRecordsAsSameTestPass(t *testing.T) {
	client, ctx := store.NewTransientDB(t)
	experiments := store.NewExperimentRepository(client)
	jobs := store.NewJobRepository(client)
	agents := store.NewAgentRepository(client)
	pol := &policy.Config{PackageRules: map[string]policy.Override{
		"lazy_static": {SkipTests: true},
	}}
	reg := registry.New(experiments, jobs, fakeCorpus{}, pol)

	acl := policy.NewACLStore("", &policy.ACL{})
	agentAPI := NewAgentAPI(reg, agents, jobs, []byte("{}"))
	operatorAPI := NewOperatorAPI(reg, acl, nil)
	srv := New(agentAPI, operatorAPI)
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	require.NoError(t, agents.Upsert(ctx, "agent-1", HashToken("tok-1"), []string{"linux"}))
	apiClient := api.NewClient(ts.URL, "tok-1")

	_, err := reg.Create(ctx, api.CreateExperimentRequest{
		Name:       "pr-1",
		ToolchainA: api.Toolchain{Dist: "stable"},
		ToolchainB: api.Toolchain{Dist: "beta"},
		Mode:       api.ModeBuildAndTest,
		Crates:     api.CrateSelection{Kind: api.SelectExplicit, Explicit: []api.PackageRef{lazyStatic()}},
	})
	require.NoError(t, err)

	desc, err := apiClient.NextExperiment(ctx)
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, api.ModeBuildAndTest, desc.Mode) // experiment mode unchanged; override is per-package

	results := []api.JobResult{
		{Crate: lazyStatic(), Toolchain: api.Toolchain{Dist: "stable"}, Result: api.OutcomeTestSkipped},
		{Crate: lazyStatic(), Toolchain: api.Toolchain{Dist: "beta"}, Result: api.OutcomeTestSkipped},
	}
	for _, res := range results {
		require.NoError(t, apiClient.RecordProgress(ctx, &api.RecordProgressRequest{
			ExperimentName: "pr-1",
			Results:        []api.JobResult{res},
		}))
	}

	exp, err := reg.Get(ctx, "pr-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusNeedsReport, exp.Status)

	assert.Equal(t, api.VerdictSameTestPass,
		comparator.Compare(results[0].Result, results[1].Result, false))
}

// TestOperatorACLRejectsUnknownLogin: a caller whose GitHub login is not
// on the ACL gets an unauthorized envelope, never reaching the registry.
func TestOperatorACLRejectsUnknownLogin(t *testing.T) {
	ts, _, _, _ := setupTestServer(t)

	body := strings.NewReader(`{"name":"pr-2","toolchain_a":{"dist":"stable"},"toolchain_b":{"dist":"beta"},"mode":"build-and-test","crates":{"kind":"explicit","explicit":[]}}`)
	req, err := http.NewRequest("POST", ts.URL+"/operator-api/create", body)
	require.NoError(t, err)
	req.Header.Set("X-Crater-GitHub-Login", "not-an-operator")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env api.Envelope[bool]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, api.EnvelopeUnauthorized, env.Status)
}
