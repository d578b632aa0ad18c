package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/Cheese-Endgame-Trainer/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	db *sql.DB
}

// Open connects to databaseURL, pings it and applies the schema.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := NewPostgres(db)
	if err := p.EnsureSchema(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

const resultColumns = `
	id,
	session_id,
	player_id,
	position_id,
	category,
	start_fen,
	final_fen,
	player_color,
	result,
	winner,
	moves_uci,
	mistakes,
	move_count,
	correct_moves,
	suboptimal_moves,
	accuracy,
	started_at,
	ended_at,
	duration_ms`

func (p *Postgres) InsertResult(ctx context.Context, res *domain.TrainingResult) (int64, error) {
	if res == nil {
		return 0, fmt.Errorf("nil training result payload")
	}
	movesUCI, err := json.Marshal(nonNil(res.MovesUCI))
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}
	mistakes, err := json.Marshal(nonNil(res.Mistakes))
	if err != nil {
		return 0, fmt.Errorf("marshal mistakes: %w", err)
	}

	const query = `
		INSERT INTO training_results (
			session_id,
			player_id,
			position_id,
			category,
			start_fen,
			final_fen,
			player_color,
			result,
			winner,
			moves_uci,
			mistakes,
			move_count,
			correct_moves,
			suboptimal_moves,
			accuracy,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::jsonb, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (session_id) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = p.db.QueryRowContext(ctx, query,
		res.SessionID,
		res.PlayerID,
		res.PositionID,
		res.Category,
		res.StartFEN,
		res.FinalFEN,
		res.PlayerColor,
		res.Result,
		res.Winner,
		movesUCI,
		mistakes,
		res.MoveCount,
		res.CorrectMoves,
		res.SuboptimalMoves,
		res.Accuracy,
		res.StartedAt,
		res.EndedAt,
		res.Duration.Milliseconds(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateResult
	}
	if err != nil {
		return 0, fmt.Errorf("insert training result: %w", err)
	}
	return id.Int64, nil
}

func (p *Postgres) RecentResults(ctx context.Context, playerID string, limit int) ([]*domain.TrainingResult, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	query := `SELECT ` + resultColumns + `
		FROM training_results
		WHERE player_id = $1
		ORDER BY ended_at DESC, id DESC
		LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("select training results: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.TrainingResult, 0, limit)
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training results: %w", err)
	}
	return out, nil
}

func (p *Postgres) GetResult(ctx context.Context, id int64, playerID string) (*domain.TrainingResult, error) {
	query := `SELECT ` + resultColumns + `
		FROM training_results
		WHERE id = $1 AND player_id = $2`
	res, err := scanResult(p.db.QueryRowContext(ctx, query, id, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

func (p *Postgres) GetResultBySession(ctx context.Context, sessionID string, playerID string) (*domain.TrainingResult, error) {
	query := `SELECT ` + resultColumns + `
		FROM training_results
		WHERE session_id = $1 AND player_id = $2
		LIMIT 1`
	res, err := scanResult(p.db.QueryRowContext(ctx, query, sessionID, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*domain.TrainingResult, error) {
	var (
		res          domain.TrainingResult
		movesUCIJSON []byte
		mistakesJSON []byte
		durationMS   sql.NullInt64
	)
	err := row.Scan(
		&res.ID,
		&res.SessionID,
		&res.PlayerID,
		&res.PositionID,
		&res.Category,
		&res.StartFEN,
		&res.FinalFEN,
		&res.PlayerColor,
		&res.Result,
		&res.Winner,
		&movesUCIJSON,
		&mistakesJSON,
		&res.MoveCount,
		&res.CorrectMoves,
		&res.SuboptimalMoves,
		&res.Accuracy,
		&res.StartedAt,
		&res.EndedAt,
		&durationMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan training result: %w", err)
	}
	if durationMS.Valid {
		res.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	if err := json.Unmarshal(movesUCIJSON, &res.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(mistakesJSON, &res.Mistakes); err != nil {
		return nil, fmt.Errorf("unmarshal mistakes: %w", err)
	}
	return &res, nil
}

func (p *Postgres) GetProfile(ctx context.Context, playerID string) (*domain.TrainingProfile, error) {
	const query = `
		SELECT
			player_id,
			sessions,
			wins,
			draws,
			losses,
			total_moves,
			correct_moves,
			best_accuracy,
			last_category,
			last_played_at,
			updated_at,
			created_at
		FROM training_profiles
		WHERE player_id = $1
		LIMIT 1`

	var (
		profile    domain.TrainingProfile
		lastPlayed sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, query, playerID).Scan(
		&profile.PlayerID,
		&profile.Sessions,
		&profile.Wins,
		&profile.Draws,
		&profile.Losses,
		&profile.TotalMoves,
		&profile.CorrectMoves,
		&profile.BestAccuracy,
		&profile.LastCategory,
		&lastPlayed,
		&profile.UpdatedAt,
		&profile.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select training profile: %w", err)
	}
	if lastPlayed.Valid {
		profile.LastPlayedAt = lastPlayed.Time
	}
	return &profile, nil
}

// AddToProfile folds res into the player's profile in one statement, so
// concurrent sessions for the same player each count.
func (p *Postgres) AddToProfile(ctx context.Context, res domain.TrainingResult) error {
	delta := domain.TrainingProfile{PlayerID: res.PlayerID}
	ApplyResult(&delta, res)
	const query = `
		INSERT INTO training_profiles (
			player_id,
			sessions,
			wins,
			draws,
			losses,
			total_moves,
			correct_moves,
			best_accuracy,
			last_category,
			last_played_at,
			updated_at,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (player_id)
		DO UPDATE SET
			sessions = training_profiles.sessions + EXCLUDED.sessions,
			wins = training_profiles.wins + EXCLUDED.wins,
			draws = training_profiles.draws + EXCLUDED.draws,
			losses = training_profiles.losses + EXCLUDED.losses,
			total_moves = training_profiles.total_moves + EXCLUDED.total_moves,
			correct_moves = training_profiles.correct_moves + EXCLUDED.correct_moves,
			best_accuracy = GREATEST(training_profiles.best_accuracy, EXCLUDED.best_accuracy),
			last_category = EXCLUDED.last_category,
			last_played_at = GREATEST(training_profiles.last_played_at, EXCLUDED.last_played_at),
			updated_at = NOW()`

	var lastPlayed sql.NullTime
	if !delta.LastPlayedAt.IsZero() {
		lastPlayed = sql.NullTime{Time: delta.LastPlayedAt, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, query,
		delta.PlayerID,
		delta.Sessions,
		delta.Wins,
		delta.Draws,
		delta.Losses,
		delta.TotalMoves,
		delta.CorrectMoves,
		delta.BestAccuracy,
		delta.LastCategory,
		lastPlayed,
	)
	if err != nil {
		return fmt.Errorf("update training profile: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
