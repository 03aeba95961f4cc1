package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/freeeve/hexwar/api/internal/model"
)

const agentColumns = `id, provider, provider_id, display_name, rating, wins, losses, matches_played, created_at, updated_at`

// AgentRepo handles agent database operations.
type AgentRepo struct {
	db *sql.DB
}

// NewAgentRepo creates an AgentRepo.
func NewAgentRepo(db *sql.DB) *AgentRepo {
	return &AgentRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*model.Agent, error) {
	var a model.Agent
	err := row.Scan(&a.ID, &a.Provider, &a.ProviderID, &a.DisplayName, &a.Rating,
		&a.Wins, &a.Losses, &a.MatchesPlayed, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindByProviderID looks up an agent by OAuth provider and provider-specific ID.
func (r *AgentRepo) FindByProviderID(ctx context.Context, provider, providerID string) (*model.Agent, error) {
	a, err := scanAgent(r.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE provider = $1 AND provider_id = $2`,
		provider, providerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find agent by provider: %w", err)
	}
	return a, nil
}

// FindByID looks up an agent by its UUID.
func (r *AgentRepo) FindByID(ctx context.Context, id string) (*model.Agent, error) {
	a, err := scanAgent(r.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find agent by id: %w", err)
	}
	return a, nil
}

// Upsert creates a new agent or refreshes the display name of an existing one.
// New agents start at the default rating.
func (r *AgentRepo) Upsert(ctx context.Context, provider, providerID, displayName string) (*model.Agent, error) {
	a, err := scanAgent(r.db.QueryRowContext(ctx,
		`INSERT INTO agents (provider, provider_id, display_name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (provider, provider_id)
		 DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = now()
		 RETURNING `+agentColumns,
		provider, providerID, displayName,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert agent: %w", err)
	}
	return a, nil
}

// UpdateDisplayName updates an agent's display name.
func (r *AgentRepo) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE agents SET display_name = $1, updated_at = now() WHERE id = $2`,
		displayName, id,
	)
	if err != nil {
		return fmt.Errorf("update display name: %w", err)
	}
	return nil
}

// Leaderboard returns the highest rated agents.
func (r *AgentRepo) Leaderboard(ctx context.Context, limit int) ([]model.Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY rating DESC, wins DESC, created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}
