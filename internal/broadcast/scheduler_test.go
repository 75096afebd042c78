package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollcast/pollcast/internal/entity"
)

type fakeDirtySet struct {
	snapshots [][]uuid.UUID
	err       error
}

func (f *fakeDirtySet) SnapshotAndClear(context.Context) ([]uuid.UUID, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.snapshots) == 0 {
		return nil, nil
	}
	next := f.snapshots[0]
	f.snapshots = f.snapshots[1:]
	return next, nil
}

type fakeCountSource struct {
	counts map[uuid.UUID][]entity.OptionCount
	errOn  map[uuid.UUID]error
}

func (f *fakeCountSource) Results(_ context.Context, pollID uuid.UUID) ([]entity.OptionCount, error) {
	if err := f.errOn[pollID]; err != nil {
		return nil, err
	}
	return f.counts[pollID], nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	published map[uuid.UUID][]entity.OptionCount
	errOn     map[uuid.UUID]error
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{
		published: make(map[uuid.UUID][]entity.OptionCount),
		errOn:     make(map[uuid.UUID]error),
	}
}

func (p *recordingPublisher) PublishResults(_ context.Context, pollID uuid.UUID, results []entity.OptionCount) error {
	if err := p.errOn[pollID]; err != nil {
		return err
	}
	p.mu.Lock()
	p.published[pollID] = results
	p.mu.Unlock()
	return nil
}

func newTestScheduler(dirty DirtySet, counts CountSource, pub Publisher) *Scheduler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(log, dirty, counts, pub, 0)
}

func TestScheduler_TickPublishesDirtyPolls(t *testing.T) {
	pollA := uuid.New()
	pollB := uuid.New()

	dirty := &fakeDirtySet{snapshots: [][]uuid.UUID{{pollA, pollB}}}
	counts := &fakeCountSource{counts: map[uuid.UUID][]entity.OptionCount{
		pollA: {{Ordinal: 1, VoteCount: 3}, {Ordinal: 2, VoteCount: 1}},
		pollB: {{Ordinal: 1, VoteCount: 7}},
	}}
	pub := newRecordingPublisher()

	scheduler := newTestScheduler(dirty, counts, pub)
	scheduler.tick(context.Background())

	require.Len(t, pub.published, 2)
	assert.Equal(t, counts.counts[pollA], pub.published[pollA])
	assert.Equal(t, counts.counts[pollB], pub.published[pollB])

	// Nothing left: the next tick is a no-op.
	scheduler.tick(context.Background())
	assert.Len(t, pub.published, 2)
}

func TestScheduler_EmptySnapshotIsNoOp(t *testing.T) {
	pub := newRecordingPublisher()
	scheduler := newTestScheduler(&fakeDirtySet{}, &fakeCountSource{}, pub)

	scheduler.tick(context.Background())
	assert.Empty(t, pub.published)
}

// A failure on one poll must not abort the rest of the batch.
func TestScheduler_PerPollFailureIsolation(t *testing.T) {
	pollBroken := uuid.New()
	pollFetchErr := uuid.New()
	pollOK := uuid.New()

	dirty := &fakeDirtySet{snapshots: [][]uuid.UUID{{pollFetchErr, pollBroken, pollOK}}}
	counts := &fakeCountSource{
		counts: map[uuid.UUID][]entity.OptionCount{
			pollBroken: {{Ordinal: 1, VoteCount: 1}},
			pollOK:     {{Ordinal: 1, VoteCount: 5}},
		},
		errOn: map[uuid.UUID]error{pollFetchErr: errors.New("storage unreachable")},
	}
	pub := newRecordingPublisher()
	pub.errOn[pollBroken] = errors.New("publish failed")

	scheduler := newTestScheduler(dirty, counts, pub)
	scheduler.tick(context.Background())

	require.Len(t, pub.published, 1)
	assert.Equal(t, counts.counts[pollOK], pub.published[pollOK])
}

func TestScheduler_DrainErrorSkipsTick(t *testing.T) {
	pub := newRecordingPublisher()
	scheduler := newTestScheduler(&fakeDirtySet{err: errors.New("tracker down")}, &fakeCountSource{}, pub)

	scheduler.tick(context.Background())
	assert.Empty(t, pub.published)
}

type captureGroupPublisher struct {
	pollID  uuid.UUID
	payload []byte
}

func (c *captureGroupPublisher) Publish(pollID uuid.UUID, payload []byte) int {
	c.pollID = pollID
	c.payload = payload
	return 1
}

func TestHubPublisher_FrameShape(t *testing.T) {
	capture := &captureGroupPublisher{}
	pub := NewHubPublisher(capture)

	pollID := uuid.New()
	results := []entity.OptionCount{{Ordinal: 1, VoteCount: 4}, {Ordinal: 2, VoteCount: 0}}

	require.NoError(t, pub.PublishResults(context.Background(), pollID, results))
	assert.Equal(t, pollID, capture.pollID)

	var frame Update
	require.NoError(t, json.Unmarshal(capture.payload, &frame))
	assert.Equal(t, "poll_update", frame.Type)
	assert.Equal(t, results, frame.Results)

	assert.JSONEq(t,
		`{"type":"poll_update","results":[{"id":1,"vote_count":4},{"id":2,"vote_count":0}]}`,
		string(capture.payload))
}
