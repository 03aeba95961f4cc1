package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/freeeve/hexwar/api/internal/model"
	"github.com/freeeve/hexwar/api/internal/repository"
)

const matchColumns = `id, agent_a, agent_b, status, winner, reason, turn_number, final_state, rating_applied, started_at, finished_at`

// MatchRepo handles match, action log and rating history operations.
type MatchRepo struct {
	db *sql.DB
}

// NewMatchRepo creates a MatchRepo.
func NewMatchRepo(db *sql.DB) *MatchRepo {
	return &MatchRepo{db: db}
}

func scanMatch(row rowScanner) (*model.MatchRecord, error) {
	var m model.MatchRecord
	var winner, reason, finalState sql.NullString
	err := row.Scan(&m.ID, &m.AgentA, &m.AgentB, &m.Status, &winner, &reason, &m.TurnNumber,
		&finalState, &m.RatingApplied, &m.StartedAt, &m.FinishedAt)
	if err != nil {
		return nil, err
	}
	m.Winner = winner.String
	m.Reason = reason.String
	if finalState.Valid {
		m.FinalState = json.RawMessage(finalState.String)
	}
	return &m, nil
}

// Create inserts a new active match. An existing row is left untouched.
func (r *MatchRepo) Create(ctx context.Context, m *model.MatchRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO matches (id, agent_a, agent_b, status, turn_number, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.AgentA, m.AgentB, m.Status, m.TurnNumber, m.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}

// FindByID returns a match by ID.
func (r *MatchRepo) FindByID(ctx context.Context, id string) (*model.MatchRecord, error) {
	m, err := scanMatch(r.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find match: %w", err)
	}
	return m, nil
}

// ListActive returns matches that have not finished.
func (r *MatchRepo) ListActive(ctx context.Context) ([]model.MatchRecord, error) {
	return r.list(ctx, "list active matches",
		`SELECT `+matchColumns+` FROM matches WHERE status = 'active' ORDER BY started_at`)
}

// ListByAgent returns an agent's most recent matches, newest first.
func (r *MatchRepo) ListByAgent(ctx context.Context, agentID string, limit int) ([]model.MatchRecord, error) {
	return r.list(ctx, "list matches by agent",
		`SELECT `+matchColumns+` FROM matches
		 WHERE agent_a = $1 OR agent_b = $1
		 ORDER BY started_at DESC LIMIT $2`, agentID, limit)
}

func (r *MatchRepo) list(ctx context.Context, op, query string, args ...any) ([]model.MatchRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []model.MatchRecord
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Finish marks a match complete and stores its final state.
func (r *MatchRepo) Finish(ctx context.Context, id, winner, reason string, turn int, finalState json.RawMessage) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE matches SET status = 'complete', winner = $1, reason = $2, turn_number = $3,
		        final_state = $4, finished_at = now()
		 WHERE id = $5`,
		winner, reason, turn, []byte(finalState), id,
	)
	if err != nil {
		return fmt.Errorf("finish match: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("finish match: %w", err)
	} else if n == 0 {
		return fmt.Errorf("finish match %s: %w", id, repository.ErrMatchNotRecorded)
	}
	return nil
}

// AppendAction adds one entry to the match's action log.
func (r *MatchRepo) AppendAction(ctx context.Context, a *model.ActionRecord) error {
	var grid any
	if len(a.GridAfter) > 0 {
		grid = []byte(a.GridAfter)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO match_actions (id, match_id, seq, turn, participant_id, command, result, grid_after, rationale, forced, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (match_id, seq) DO NOTHING`,
		a.ID, a.MatchID, a.Seq, a.Turn, a.ParticipantID, []byte(a.Command), []byte(a.Result),
		grid, a.Rationale, a.Forced, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

// ListActions returns a match's action log in order.
func (r *MatchRepo) ListActions(ctx context.Context, matchID string) ([]model.ActionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, match_id, seq, turn, participant_id, command, result, grid_after, rationale, forced, created_at
		 FROM match_actions WHERE match_id = $1 ORDER BY seq`, matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []model.ActionRecord
	for rows.Next() {
		var a model.ActionRecord
		var cmd, res []byte
		var grid sql.NullString
		if err := rows.Scan(&a.ID, &a.MatchID, &a.Seq, &a.Turn, &a.ParticipantID, &cmd, &res,
			&grid, &a.Rationale, &a.Forced, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Command = json.RawMessage(cmd)
		a.Result = json.RawMessage(res)
		if grid.Valid {
			a.GridAfter = json.RawMessage(grid.String)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApplyRatings writes the rating changes for a completed match. The
// rating_applied flag is claimed in the same transaction, so a second call
// for the same match writes nothing and returns false. If the match row was
// never written it is inserted as complete, with seats taken from changes.
func (r *MatchRepo) ApplyRatings(ctx context.Context, matchID string, changes []model.RatingChange) (bool, error) {
	if len(changes) != 2 {
		return false, fmt.Errorf("apply ratings: expected 2 changes, got %d", len(changes))
	}
	var winner sql.NullString
	for _, c := range changes {
		if c.Won {
			winner = sql.NullString{String: c.AgentID, Valid: true}
		}
	}
	applied := false
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO matches (id, agent_a, agent_b, status, winner, rating_applied, finished_at)
			 VALUES ($1, $2, $3, 'complete', $4, true, now())
			 ON CONFLICT (id) DO UPDATE SET rating_applied = true
			 WHERE NOT matches.rating_applied`,
			matchID, changes[0].AgentID, changes[1].AgentID, winner)
		if err != nil {
			return fmt.Errorf("claim rating update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rating update: %w", err)
		}
		if n == 0 {
			return nil
		}
		for _, c := range changes {
			win, loss := 0, 1
			if c.Won {
				win, loss = 1, 0
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE agents SET rating = $1, wins = wins + $2, losses = losses + $3,
				        matches_played = matches_played + 1, updated_at = now()
				 WHERE id = $4`,
				c.NewRating, win, loss, c.AgentID,
			); err != nil {
				return fmt.Errorf("update rating: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rating_history (match_id, agent_id, old_rating, new_rating, won)
				 VALUES ($1, $2, $3, $4, $5)`,
				matchID, c.AgentID, c.OldRating, c.NewRating, c.Won,
			); err != nil {
				return fmt.Errorf("insert rating history: %w", err)
			}
		}
		applied = true
		return nil
	})
	return applied, err
}
