package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
)

type AgentRepository struct {
	client *spanner.Client
	*entityOps[Agent, string]
}

func NewAgentRepository(client *spanner.Client) *AgentRepository {
	return &AgentRepository{
		client: client,
		entityOps: &entityOps[Agent, string]{
			client:   client,
			keyField: "Name",
			table:    "Agents",
		},
	}
}

// Upsert registers name with tokenHash and capabilities, overwriting
// whatever row (if any) previously existed for that name. Re-registering
// under the same name rotates the token -- spec.md §5's agent identity is
// the name, not the token.
func (repo *AgentRepository) Upsert(ctx context.Context, name, tokenHash string, capabilities []string) error {
	agent := &Agent{
		Name:          name,
		TokenHash:     tokenHash,
		Capabilities:  capabilities,
		LastHeartbeat: time.Now(),
	}
	m, err := spanner.InsertOrUpdateStruct("Agents", agent)
	if err != nil {
		return err
	}
	_, err = repo.client.Apply(ctx, []*spanner.Mutation{m})
	return err
}

var ErrUnknownToken = fmt.Errorf("no agent is registered with this token")

// ByTokenHash looks up the agent owning tokenHash, used by the auth
// middleware on every agent-api request.
func (repo *AgentRepository) ByTokenHash(ctx context.Context, tokenHash string) (*Agent, error) {
	stmt := spanner.Statement{
		SQL:    "SELECT * FROM `Agents` WHERE `TokenHash` = @hash",
		Params: map[string]interface{}{"hash": tokenHash},
	}
	iter := repo.client.Single().Query(ctx, stmt)
	defer iter.Stop()
	agent, err := readOne[Agent](iter)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrUnknownToken
	}
	return agent, nil
}

// Heartbeat bumps LastHeartbeat, called on every agent-api request per
// spec.md §5 ("a request of any kind counts as a heartbeat").
func (repo *AgentRepository) Heartbeat(ctx context.Context, name string) error {
	return repo.Update(ctx, name, func(agent *Agent) error {
		agent.LastHeartbeat = time.Now()
		return nil
	})
}

func (repo *AgentRepository) SetAssignment(ctx context.Context, name, experimentName string) error {
	return repo.Update(ctx, name, func(agent *Agent) error {
		agent.SetAssignment(experimentName)
		return nil
	})
}

// Stale lists agents whose last heartbeat is older than cutoff, the input
// to the reassignment sweep in cmd/crater-server's sweepStaleAgents.
func (repo *AgentRepository) Stale(ctx context.Context, cutoff time.Time) ([]*Agent, error) {
	stmt := spanner.Statement{
		SQL:    "SELECT * FROM `Agents` WHERE `LastHeartbeat` < @cutoff",
		Params: map[string]interface{}{"cutoff": cutoff},
	}
	iter := repo.client.Single().Query(ctx, stmt)
	defer iter.Stop()
	return readEntities[Agent](iter)
}

func (repo *AgentRepository) List(ctx context.Context) ([]*Agent, error) {
	stmt := spanner.Statement{SQL: "SELECT * FROM `Agents`"}
	iter := repo.client.Single().Query(ctx, stmt)
	defer iter.Stop()
	return readEntities[Agent](iter)
}
