package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pollcast/pollcast/internal/entity"
	"github.com/pollcast/pollcast/internal/repo"
)

type Storage struct {
	db *sql.DB
}

func New(postgresURL string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// SavePoll inserts the poll and its options in one transaction. Options
// and dates are immutable after this point; only the close state ever
// changes.
func (s *Storage) SavePoll(ctx context.Context, poll entity.Poll, options []entity.Option) (uuid.UUID, error) {
	const op = "storage.postgres.SavePoll"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	query := `INSERT INTO polls (id, question, category, creator_id, org_id, is_public, allowed_country, start_date, end_date, is_active, manually_closed)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)`

	_, err = tx.ExecContext(ctx, query,
		poll.ID, poll.Question, poll.Category, poll.CreatorID, poll.OrgID,
		poll.IsPublic, poll.AllowedCountry, poll.StartDate, poll.EndDate,
		poll.IsActive, poll.ManuallyClosed)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	optionQuery := `INSERT INTO options (poll_id, ordinal, text, image_url) VALUES ($1, $2, $3, $4)`
	for _, option := range options {
		if _, err := tx.ExecContext(ctx, optionQuery, poll.ID, option.Ordinal, option.Text, option.ImageURL); err != nil {
			return uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return poll.ID, nil
}

func (s *Storage) GetPollByID(ctx context.Context, id uuid.UUID) (entity.Poll, error) {
	const op = "storage.postgres.GetPollByID"

	query := `SELECT id, question, category, creator_id, org_id, is_public, COALESCE(allowed_country, ''), start_date, end_date, is_active, manually_closed, created_at
		FROM polls WHERE id = $1`

	var poll entity.Poll
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&poll.ID, &poll.Question, &poll.Category, &poll.CreatorID, &poll.OrgID,
		&poll.IsPublic, &poll.AllowedCountry, &poll.StartDate, &poll.EndDate,
		&poll.IsActive, &poll.ManuallyClosed, &poll.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.Poll{}, fmt.Errorf("%s: %w", op, repo.ErrPollNotFound)
		}
		return entity.Poll{}, fmt.Errorf("%s: %w", op, err)
	}

	return poll, nil
}

func (s *Storage) GetPolls(ctx context.Context) ([]entity.Poll, error) {
	const op = "storage.postgres.GetPolls"

	query := `SELECT id, question, category, creator_id, org_id, is_public, COALESCE(allowed_country, ''), start_date, end_date, is_active, manually_closed, created_at
		FROM polls ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var polls []entity.Poll
	for rows.Next() {
		var poll entity.Poll
		if err := rows.Scan(
			&poll.ID, &poll.Question, &poll.Category, &poll.CreatorID, &poll.OrgID,
			&poll.IsPublic, &poll.AllowedCountry, &poll.StartDate, &poll.EndDate,
			&poll.IsActive, &poll.ManuallyClosed, &poll.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		polls = append(polls, poll)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return polls, nil
}

func (s *Storage) ClosePoll(ctx context.Context, id uuid.UUID, closedAt time.Time) error {
	const op = "storage.postgres.ClosePoll"

	const query = `UPDATE polls SET is_active = FALSE, manually_closed = TRUE, end_date = $1 WHERE id = $2`

	res, err := s.db.ExecContext(ctx, query, closedAt, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, repo.ErrPollNotFound)
	}
	return nil
}

func (s *Storage) GetOptionsByPollID(ctx context.Context, pollID uuid.UUID) ([]entity.Option, error) {
	const op = "storage.postgres.GetOptionsByPollID"

	query := `SELECT id, poll_id, ordinal, text, image_url, vote_count, created_at FROM options WHERE poll_id = $1 ORDER BY ordinal`

	rows, err := s.db.QueryContext(ctx, query, pollID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var options []entity.Option
	for rows.Next() {
		var option entity.Option
		if err := rows.Scan(&option.ID, &option.PollID, &option.Ordinal, &option.Text, &option.ImageURL, &option.VoteCount, &option.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		options = append(options, option)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return options, nil
}

func (s *Storage) GetOptionByOrdinal(ctx context.Context, pollID uuid.UUID, ordinal int) (entity.Option, error) {
	const op = "storage.postgres.GetOptionByOrdinal"

	query := `SELECT id, poll_id, ordinal, text, image_url, vote_count, created_at FROM options WHERE poll_id = $1 AND ordinal = $2`

	var option entity.Option
	err := s.db.QueryRowContext(ctx, query, pollID, ordinal).Scan(
		&option.ID, &option.PollID, &option.Ordinal, &option.Text, &option.ImageURL, &option.VoteCount, &option.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.Option{}, fmt.Errorf("%s: %w", op, repo.ErrOptionNotFound)
		}
		return entity.Option{}, fmt.Errorf("%s: %w", op, err)
	}

	return option, nil
}

// RecordVote is the single atomic unit of the vote path: the ledger
// insert and the counter increment commit or roll back together. The
// partial unique indexes on votes are the real concurrency guard; a
// unique violation here maps to ErrDuplicateVote even when the caller's
// optimistic duplicate check already passed.
func (s *Storage) RecordVote(ctx context.Context, vote entity.Vote) (int64, int64, error) {
	const op = "storage.postgres.RecordVote"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	insert := `INSERT INTO votes (poll_id, option_id, user_id, ip_address) VALUES ($1, $2, $3, $4) RETURNING id`

	var voteID int64
	err = tx.QueryRowContext(ctx, insert, vote.PollID, vote.OptionID, vote.UserID, vote.IPAddress).Scan(&voteID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, 0, fmt.Errorf("%s: %w", op, repo.ErrDuplicateVote)
		}
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	// Atomic add at the storage layer, never read-modify-write.
	increment := `UPDATE options SET vote_count = vote_count + 1 WHERE id = $1 RETURNING vote_count`

	var newCount int64
	if err := tx.QueryRowContext(ctx, increment, vote.OptionID).Scan(&newCount); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	return voteID, newCount, nil
}

func (s *Storage) HasUserVote(ctx context.Context, pollID uuid.UUID, userID int64) (bool, error) {
	const op = "storage.postgres.HasUserVote"

	query := `SELECT EXISTS (SELECT 1 FROM votes WHERE poll_id = $1 AND user_id = $2)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, pollID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

func (s *Storage) HasIPVote(ctx context.Context, pollID uuid.UUID, ip string) (bool, error) {
	const op = "storage.postgres.HasIPVote"

	query := `SELECT EXISTS (SELECT 1 FROM votes WHERE poll_id = $1 AND ip_address = $2 AND user_id IS NULL)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, pollID, ip).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// Results returns the per-option counts for a poll ordered by ordinal.
// Read-committed is consistent enough here: broadcasts are periodic and
// the next tick corrects any staleness.
func (s *Storage) Results(ctx context.Context, pollID uuid.UUID) ([]entity.OptionCount, error) {
	const op = "storage.postgres.Results"

	query := `SELECT ordinal, vote_count FROM options WHERE poll_id = $1 ORDER BY ordinal`

	rows, err := s.db.QueryContext(ctx, query, pollID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var counts []entity.OptionCount
	for rows.Next() {
		var count entity.OptionCount
		if err := rows.Scan(&count.Ordinal, &count.VoteCount); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		counts = append(counts, count)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return counts, nil
}

func (s *Storage) IsMember(ctx context.Context, orgID uuid.UUID, userID int64) (bool, error) {
	const op = "storage.postgres.IsMember"

	query := `SELECT EXISTS (SELECT 1 FROM org_members WHERE org_id = $1 AND user_id = $2)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, orgID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

func (s *Storage) AddMember(ctx context.Context, orgID uuid.UUID, userID int64) error {
	const op = "storage.postgres.AddMember"

	query := `INSERT INTO org_members (org_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, orgID, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
