package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotTerminal  = errors.New("consultation is not in a terminal state")
	ErrNotFound     = errors.New("consultation not found")
	ErrNotCompleted = errors.New("only completed consultations can be rated")
	ErrAlreadyRated = errors.New("consultation already rated")
)

// Filter selects a user's consultations, newest first.
type Filter struct {
	UserID   uuid.UUID
	Agent    string
	State    State
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// Normalize clamps pagination to sane bounds.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
}

// Repository persists terminal consultation records.
type Repository interface {
	// Save writes a terminal record. It is called exactly once per record.
	Save(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, userID, id uuid.UUID) (*Record, error)
	Find(ctx context.Context, filter Filter) ([]Record, int64, error)
	Rate(ctx context.Context, userID, id uuid.UUID, rating Rating) error
	Stats(ctx context.Context, filter StatsFilter) (*Stats, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const selectColumns = `
	id, user_id, agent, situation, context, state, attempt_count, last_error,
	output_text, signature, session_id, execution_id, processing_ms,
	ip_address, user_agent, rating_score, rating_feedback, rated_at,
	created_at, completed_at`

func (r *postgresRepository) Save(ctx context.Context, rec *Record) error {
	if !rec.State.Terminal() {
		return fmt.Errorf("saving consultation %s in state %s: %w", rec.ID, rec.State, ErrNotTerminal)
	}

	var outText, signature, sessionID, executionID *string
	if rec.Output != nil {
		outText = &rec.Output.Text
		signature = nullable(rec.Output.Signature)
		sessionID = nullable(rec.Output.SessionID)
		executionID = nullable(rec.Output.ExecutionID)
	}

	query := `
		INSERT INTO consultations (
			id, user_id, agent, situation, context, state, attempt_count, last_error,
			output_text, signature, session_id, execution_id, processing_ms,
			ip_address, user_agent, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.Agent, rec.Situation, rec.Context, string(rec.State),
		rec.AttemptCount, nullable(rec.LastError),
		outText, signature, sessionID, executionID, rec.ProcessingMS,
		rec.Metadata.IPAddress, rec.Metadata.UserAgent, rec.CreatedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("inserting consultation: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, userID, id uuid.UUID) (*Record, error) {
	query := `SELECT ` + selectColumns + ` FROM consultations WHERE id = $1 AND user_id = $2`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying consultation by id: %w", err)
	}
	return rec, nil
}

func (r *postgresRepository) Find(ctx context.Context, filter Filter) ([]Record, int64, error) {
	filter.Normalize()

	conditions := []string{"user_id = $1"}
	args := []any{filter.UserID}
	argIdx := 2

	if filter.Agent != "" {
		conditions = append(conditions, fmt.Sprintf("agent = $%d", argIdx))
		args = append(args, filter.Agent)
		argIdx++
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, string(filter.State))
		argIdx++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *filter.From)
		argIdx++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *filter.To)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM consultations WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting consultations: %w", err)
	}

	offset := (filter.Page - 1) * filter.PageSize
	query := fmt.Sprintf(`SELECT %s FROM consultations WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, selectColumns, where, argIdx, argIdx+1)
	args = append(args, filter.PageSize, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying consultations: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning consultation: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating consultations: %w", err)
	}
	return records, total, nil
}

func (r *postgresRepository) Rate(ctx context.Context, userID, id uuid.UUID, rating Rating) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE consultations
		SET rating_score = $3, rating_feedback = $4, rated_at = $5
		WHERE id = $1 AND user_id = $2 AND state = 'completed' AND rating_score IS NULL`,
		id, userID, rating.Score, nullable(rating.Feedback), rating.RatedAt)
	if err != nil {
		return fmt.Errorf("rating consultation: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	rec, err := r.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}
	switch {
	case rec == nil:
		return ErrNotFound
	case rec.State != StateCompleted:
		return ErrNotCompleted
	default:
		return ErrAlreadyRated
	}
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec                              Record
		state                            string
		lastError, outText, signature    *string
		sessionID, executionID, feedback *string
		score                            *int16
		ratedAt                          *time.Time
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Agent, &rec.Situation, &rec.Context, &state,
		&rec.AttemptCount, &lastError,
		&outText, &signature, &sessionID, &executionID, &rec.ProcessingMS,
		&rec.Metadata.IPAddress, &rec.Metadata.UserAgent, &score, &feedback, &ratedAt,
		&rec.CreatedAt, &rec.CompletedAt)
	if err != nil {
		return nil, err
	}

	rec.State = State(state)
	rec.LastError = deref(lastError)
	if outText != nil {
		rec.Output = &Output{
			Text:        *outText,
			Signature:   deref(signature),
			SessionID:   deref(sessionID),
			ExecutionID: deref(executionID),
		}
	}
	if score != nil && ratedAt != nil {
		rec.Rating = &Rating{Score: int(*score), Feedback: deref(feedback), RatedAt: *ratedAt}
	}
	return &rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
