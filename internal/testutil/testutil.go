// Package testutil provides in-memory implementations of the service
// storage interfaces for tests. The vote store enforces the same
// uniqueness rules as the partial unique indexes in postgres, so
// concurrency tests exercise the real admission semantics.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pollcast/pollcast/internal/entity"
	"github.com/pollcast/pollcast/internal/repo"
)

type Store struct {
	mu           sync.Mutex
	polls        map[uuid.UUID]entity.Poll
	options      map[uuid.UUID][]entity.Option
	votes        map[uuid.UUID][]entity.Vote
	members      map[string]struct{}
	nextOptionID int64
	nextVoteID   int64
}

func NewStore() *Store {
	return &Store{
		polls:   make(map[uuid.UUID]entity.Poll),
		options: make(map[uuid.UUID][]entity.Option),
		votes:   make(map[uuid.UUID][]entity.Vote),
		members: make(map[string]struct{}),
	}
}

func (s *Store) SavePoll(_ context.Context, poll entity.Poll, options []entity.Option) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.polls[poll.ID] = poll
	for _, option := range options {
		s.nextOptionID++
		option.ID = s.nextOptionID
		option.PollID = poll.ID
		s.options[poll.ID] = append(s.options[poll.ID], option)
	}
	return poll.ID, nil
}

func (s *Store) GetPollByID(_ context.Context, id uuid.UUID) (entity.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, ok := s.polls[id]
	if !ok {
		return entity.Poll{}, repo.ErrPollNotFound
	}
	return poll, nil
}

func (s *Store) GetPolls(_ context.Context) ([]entity.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	polls := make([]entity.Poll, 0, len(s.polls))
	for _, poll := range s.polls {
		polls = append(polls, poll)
	}
	return polls, nil
}

func (s *Store) ClosePoll(_ context.Context, id uuid.UUID, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, ok := s.polls[id]
	if !ok {
		return repo.ErrPollNotFound
	}
	poll.IsActive = false
	poll.ManuallyClosed = true
	poll.EndDate = closedAt
	s.polls[id] = poll
	return nil
}

func (s *Store) GetOptionsByPollID(_ context.Context, pollID uuid.UUID) ([]entity.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]entity.Option(nil), s.options[pollID]...), nil
}

func (s *Store) GetOptionByOrdinal(_ context.Context, pollID uuid.UUID, ordinal int) (entity.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, option := range s.options[pollID] {
		if option.Ordinal == ordinal {
			return option, nil
		}
	}
	return entity.Option{}, repo.ErrOptionNotFound
}

// RecordVote mirrors the postgres transaction: uniqueness check, ledger
// append and counter increment happen atomically under one lock.
func (s *Store) RecordVote(_ context.Context, vote entity.Vote) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.votes[vote.PollID] {
		if vote.UserID != nil && existing.UserID != nil && *existing.UserID == *vote.UserID {
			return 0, 0, repo.ErrDuplicateVote
		}
		if vote.UserID == nil && existing.UserID == nil &&
			existing.IPAddress != nil && vote.IPAddress != nil && *existing.IPAddress == *vote.IPAddress {
			return 0, 0, repo.ErrDuplicateVote
		}
	}

	s.nextVoteID++
	vote.ID = s.nextVoteID
	vote.CreatedAt = time.Now()
	s.votes[vote.PollID] = append(s.votes[vote.PollID], vote)

	options := s.options[vote.PollID]
	for i := range options {
		if options[i].ID == vote.OptionID {
			options[i].VoteCount++
			return vote.ID, options[i].VoteCount, nil
		}
	}
	return 0, 0, repo.ErrOptionNotFound
}

func (s *Store) HasUserVote(_ context.Context, pollID uuid.UUID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, vote := range s.votes[pollID] {
		if vote.UserID != nil && *vote.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) HasIPVote(_ context.Context, pollID uuid.UUID, ip string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, vote := range s.votes[pollID] {
		if vote.UserID == nil && vote.IPAddress != nil && *vote.IPAddress == ip {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Results(_ context.Context, pollID uuid.UUID) ([]entity.OptionCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts []entity.OptionCount
	for _, option := range s.options[pollID] {
		counts = append(counts, entity.OptionCount{Ordinal: option.Ordinal, VoteCount: option.VoteCount})
	}
	return counts, nil
}

func (s *Store) VoteCount(pollID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.votes[pollID])
}

func (s *Store) IsMember(_ context.Context, orgID uuid.UUID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.members[memberKey(orgID, userID)]
	return ok, nil
}

func (s *Store) AddMember(orgID uuid.UUID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[memberKey(orgID, userID)] = struct{}{}
}

func memberKey(orgID uuid.UUID, userID int64) string {
	return fmt.Sprintf("%s/%d", orgID, userID)
}

// GeoStub resolves from a fixed table; unknown IPs yield "".
type GeoStub struct {
	Countries map[string]string
	Err       error
}

func (g GeoStub) Country(ip string) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	return g.Countries[ip], nil
}

// DirtyRecorder records MarkDirty calls.
type DirtyRecorder struct {
	mu     sync.Mutex
	marked []uuid.UUID
	Err    error
}

func (d *DirtyRecorder) MarkDirty(_ context.Context, pollID uuid.UUID) error {
	if d.Err != nil {
		return d.Err
	}
	d.mu.Lock()
	d.marked = append(d.marked, pollID)
	d.mu.Unlock()
	return nil
}

func (d *DirtyRecorder) Marked() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uuid.UUID(nil), d.marked...)
}
