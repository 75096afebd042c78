package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pollcast/pollcast/internal/entity"
	"github.com/pollcast/pollcast/internal/lib/sl"
	"github.com/pollcast/pollcast/internal/repo"
)

var ErrValidation = errors.New("validation error")

// Every rejection reason is its own sentinel wrapping ErrValidation so
// handlers can map the whole family to a 400 while the message stays
// specific. None of these are retried and none are fatal.
var (
	ErrPollClosed        = fmt.Errorf("%w: this poll is closed", ErrValidation)
	ErrPollExpired       = fmt.Errorf("%w: this poll has expired", ErrValidation)
	ErrLoginRequired     = fmt.Errorf("%w: you must be logged in to vote in this poll", ErrValidation)
	ErrNotOrgMember      = fmt.Errorf("%w: you must be a member of this poll's organization to vote", ErrValidation)
	ErrCountryRestricted = fmt.Errorf("%w: this poll is restricted to voters in another country", ErrValidation)
	ErrAlreadyVoted      = fmt.Errorf("%w: you have already voted in this poll", ErrValidation)
	ErrPollAlreadyClosed = fmt.Errorf("%w: poll is already closed", ErrValidation)
)

// ErrNotCreator is a permission failure, not a validation one.
var ErrNotCreator = errors.New("only the poll creator can close it")

type PollStorage interface {
	SavePoll(ctx context.Context, poll entity.Poll, options []entity.Option) (uuid.UUID, error)
	GetPollByID(ctx context.Context, id uuid.UUID) (entity.Poll, error)
	GetPolls(ctx context.Context) ([]entity.Poll, error)
	ClosePoll(ctx context.Context, id uuid.UUID, closedAt time.Time) error
}

type OptionStorage interface {
	GetOptionsByPollID(ctx context.Context, pollID uuid.UUID) ([]entity.Option, error)
	GetOptionByOrdinal(ctx context.Context, pollID uuid.UUID, ordinal int) (entity.Option, error)
}

type VoteStorage interface {
	RecordVote(ctx context.Context, vote entity.Vote) (voteID int64, newCount int64, err error)
	HasUserVote(ctx context.Context, pollID uuid.UUID, userID int64) (bool, error)
	HasIPVote(ctx context.Context, pollID uuid.UUID, ip string) (bool, error)
	Results(ctx context.Context, pollID uuid.UUID) ([]entity.OptionCount, error)
}

// MembershipChecker answers whether a user belongs to the organization
// owning a restricted poll.
type MembershipChecker interface {
	IsMember(ctx context.Context, orgID uuid.UUID, userID int64) (bool, error)
}

// CountryResolver maps a client IP to an ISO country code. An empty
// code means the IP could not be resolved.
type CountryResolver interface {
	Country(ip string) (string, error)
}

// DirtyMarker records that a poll has unbroadcast changes.
type DirtyMarker interface {
	MarkDirty(ctx context.Context, pollID uuid.UUID) error
}

type Voting struct {
	log           *slog.Logger
	pollStorage   PollStorage
	optionStorage OptionStorage
	voteStorage   VoteStorage
	members       MembershipChecker
	geo           CountryResolver
	dirty         DirtyMarker
}

func NewVoting(
	log *slog.Logger,
	pollStorage PollStorage,
	optionStorage OptionStorage,
	voteStorage VoteStorage,
	members MembershipChecker,
	geo CountryResolver,
	dirty DirtyMarker,
) *Voting {
	return &Voting{
		log:           log,
		pollStorage:   pollStorage,
		optionStorage: optionStorage,
		voteStorage:   voteStorage,
		members:       members,
		geo:           geo,
		dirty:         dirty,
	}
}

// VoterIdentity is the resolved identity of a prospective voter: an
// authenticated user id when present, otherwise the client IP stands in.
type VoterIdentity struct {
	UserID *int64
	IP     string
}

type NewOption struct {
	Text     string
	ImageURL *string
}

type NewPoll struct {
	Question       string
	Category       string
	IsPublic       bool
	AllowedCountry string
	OrgID          *uuid.UUID
	EndDate        time.Time
	Options        []NewOption
}

func (v *Voting) CreatePoll(ctx context.Context, creatorID int64, req NewPoll) (entity.Poll, error) {
	const op = "services.Voting.CreatePoll"

	if req.Question == "" || req.Category == "" {
		return entity.Poll{}, fmt.Errorf("%w: question or category is empty", ErrValidation)
	}
	if len(req.Options) < 2 {
		return entity.Poll{}, fmt.Errorf("%w: a poll needs at least two options", ErrValidation)
	}
	for _, option := range req.Options {
		if option.Text == "" {
			return entity.Poll{}, fmt.Errorf("%w: option text is empty", ErrValidation)
		}
	}
	if req.AllowedCountry != "" && len(req.AllowedCountry) != 2 {
		return entity.Poll{}, fmt.Errorf("%w: allowed_country must be an ISO 3166-1 alpha-2 code", ErrValidation)
	}

	now := time.Now().UTC()
	if !req.EndDate.After(now) {
		return entity.Poll{}, fmt.Errorf("%w: end date must be in the future", ErrValidation)
	}

	poll := entity.Poll{
		ID:             uuid.New(),
		Question:       req.Question,
		Category:       req.Category,
		CreatorID:      creatorID,
		OrgID:          req.OrgID,
		IsPublic:       req.IsPublic,
		AllowedCountry: req.AllowedCountry,
		StartDate:      now,
		EndDate:        req.EndDate,
		IsActive:       true,
		CreatedAt:      now,
	}

	options := make([]entity.Option, 0, len(req.Options))
	for i, option := range req.Options {
		options = append(options, entity.Option{
			PollID:   poll.ID,
			Ordinal:  i + 1,
			Text:     option.Text,
			ImageURL: option.ImageURL,
		})
	}

	if _, err := v.pollStorage.SavePoll(ctx, poll, options); err != nil {
		return entity.Poll{}, fmt.Errorf("%s: %w", op, err)
	}

	v.log.Info("poll created",
		slog.String("op", op),
		slog.String("poll_id", poll.ID.String()),
		slog.Int("options", len(options)))

	return poll, nil
}

func (v *Voting) GetPollByID(ctx context.Context, id uuid.UUID) (entity.Poll, []entity.Option, error) {
	const op = "services.Voting.GetPollByID"

	poll, err := v.pollStorage.GetPollByID(ctx, id)
	if err != nil {
		return entity.Poll{}, nil, fmt.Errorf("%s: %w", op, err)
	}

	options, err := v.optionStorage.GetOptionsByPollID(ctx, id)
	if err != nil {
		return entity.Poll{}, nil, fmt.Errorf("%s: %w", op, err)
	}

	return poll, options, nil
}

func (v *Voting) GetPolls(ctx context.Context) ([]entity.Poll, error) {
	const op = "services.Voting.GetPolls"

	polls, err := v.pollStorage.GetPolls(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return polls, nil
}

// ClosePoll is the manual override to end voting before expiry. Only
// the creator may close; closing pulls end_date to now.
func (v *Voting) ClosePoll(ctx context.Context, id uuid.UUID, userID int64) error {
	const op = "services.Voting.ClosePoll"

	poll, err := v.pollStorage.GetPollByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if poll.CreatorID != userID {
		return ErrNotCreator
	}

	if !poll.IsActive || poll.ManuallyClosed {
		return ErrPollAlreadyClosed
	}

	if err := v.pollStorage.ClosePoll(ctx, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	v.log.Info("poll closed", slog.String("op", op), slog.String("poll_id", id.String()))

	return nil
}

func (v *Voting) Results(ctx context.Context, pollID uuid.UUID) ([]entity.OptionCount, error) {
	const op = "services.Voting.Results"

	if _, err := v.pollStorage.GetPollByID(ctx, pollID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	counts, err := v.voteStorage.Results(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return counts, nil
}

// CastVote validates and records a single vote. Validation itself
// writes nothing; the persistence step is one atomic unit (ledger
// insert + counter increment) and the ledger's uniqueness constraint is
// the last line of defense against two requests racing past the
// optimistic duplicate check.
func (v *Voting) CastVote(ctx context.Context, pollID uuid.UUID, ordinal int, voter VoterIdentity) (int64, error) {
	const op = "services.Voting.CastVote"

	log := v.log.With(slog.String("op", op), slog.String("poll_id", pollID.String()))

	poll, err := v.pollStorage.GetPollByID(ctx, pollID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	option, err := v.optionStorage.GetOptionByOrdinal(ctx, pollID, ordinal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := v.validateVote(ctx, poll, voter); err != nil {
		return 0, err
	}

	vote := entity.Vote{
		PollID:   poll.ID,
		OptionID: option.ID,
		UserID:   voter.UserID,
	}
	if voter.IP != "" {
		ip := voter.IP
		vote.IPAddress = &ip
	}

	_, newCount, err := v.voteStorage.RecordVote(ctx, vote)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateVote) {
			return 0, ErrAlreadyVoted
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	// The broadcast pipeline is best-effort: a failed mark only delays
	// the next snapshot until another vote lands on this poll.
	if err := v.dirty.MarkDirty(ctx, poll.ID); err != nil {
		log.Warn("failed to mark poll dirty", sl.Err(err))
	}

	log.Info("vote recorded", slog.Int("option", ordinal), slog.Int64("vote_count", newCount))

	return newCount, nil
}

// validateVote runs the admission checks in order, each with a distinct
// rejection reason. It performs reads only.
func (v *Voting) validateVote(ctx context.Context, poll entity.Poll, voter VoterIdentity) error {
	const op = "services.Voting.validateVote"

	if !poll.IsActive || poll.ManuallyClosed {
		return ErrPollClosed
	}

	// Checked independently of is_active: the flag can be stale.
	if poll.Expired(time.Now().UTC()) {
		return ErrPollExpired
	}

	if !poll.IsPublic {
		if voter.UserID == nil {
			return ErrLoginRequired
		}
		if poll.OrgID != nil {
			isMember, err := v.members.IsMember(ctx, *poll.OrgID, *voter.UserID)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			if !isMember {
				return ErrNotOrgMember
			}
		}
	}

	if poll.AllowedCountry != "" {
		country, err := v.geo.Country(voter.IP)
		if err != nil {
			// Unresolvable IP counts as non-matching on a restricted
			// poll. Conservative default.
			v.log.Warn("country lookup failed", slog.String("op", op), sl.Err(err))
			return ErrCountryRestricted
		}
		if country != poll.AllowedCountry {
			return ErrCountryRestricted
		}
	}

	if voter.UserID != nil {
		voted, err := v.voteStorage.HasUserVote(ctx, poll.ID, *voter.UserID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if voted {
			return ErrAlreadyVoted
		}
	} else {
		voted, err := v.voteStorage.HasIPVote(ctx, poll.ID, voter.IP)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if voted {
			return ErrAlreadyVoted
		}
	}

	return nil
}
