package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollcast/pollcast/internal/entity"
	"github.com/pollcast/pollcast/internal/handlers"
	"github.com/pollcast/pollcast/internal/middleware"
	"github.com/pollcast/pollcast/internal/routes"
	"github.com/pollcast/pollcast/internal/services"
	"github.com/pollcast/pollcast/internal/testutil"
	"github.com/pollcast/pollcast/internal/ws"
)

const testSecret = "test-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(store *testutil.Store) (*gin.Engine, *services.Voting, *ws.Hub) {
	gin.SetMode(gin.TestMode)

	voting := services.NewVoting(discardLogger(), store, store, store, store, testutil.GeoStub{}, &testutil.DirtyRecorder{})
	hub := ws.NewHub(discardLogger())

	auth := middleware.NewAuth(testSecret)
	votingHandler := handlers.NewVotingHandler(voting)
	liveHandler := handlers.NewLiveHandler(discardLogger(), voting, hub)

	r := gin.New()
	api := r.Group("/api")
	routes.RegisterPublicRoutes(api.Group(""), votingHandler, auth.Optional())
	routes.RegisterPrivateRoutes(api.Group("", auth.Require()), votingHandler)
	r.GET("/ws/polls/:id", liveHandler.Subscribe)

	return r, voting, hub
}

func signToken(t *testing.T, userID int64) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func seedPoll(t *testing.T, store *testutil.Store, mutate func(*entity.Poll)) entity.Poll {
	t.Helper()

	now := time.Now().UTC()
	poll := entity.Poll{
		ID:        uuid.New(),
		Question:  "Best option?",
		Category:  "general",
		CreatorID: 1,
		IsPublic:  true,
		StartDate: now.Add(-time.Hour),
		EndDate:   now.Add(time.Hour),
		IsActive:  true,
		CreatedAt: now,
	}
	if mutate != nil {
		mutate(&poll)
	}

	_, err := store.SavePoll(context.Background(), poll, []entity.Option{
		{Ordinal: 1, Text: "Option A"},
		{Ordinal: 2, Text: "Option B"},
	})
	require.NoError(t, err)

	return poll
}

func doVote(r *gin.Engine, pollID string, ordinal int, token, forwardedFor string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]int{"option_id": ordinal})
	req := httptest.NewRequest(http.MethodPost, "/api/polls/"+pollID+"/vote", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getResults(t *testing.T, r *gin.Engine, pollID string) []entity.OptionCount {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/polls/"+pollID+"/results", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []entity.OptionCount `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Results
}

// Full voting scenario: authenticated vote, duplicate rejection,
// anonymous vote from a forwarded IP, results reflecting all of it.
func TestVote_Scenario(t *testing.T) {
	store := testutil.NewStore()
	r, _, _ := newTestRouter(store)

	poll := seedPoll(t, store, nil)
	token := signToken(t, 100)

	w := doVote(r, poll.ID.String(), 1, token, "")
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t,
		[]entity.OptionCount{{Ordinal: 1, VoteCount: 1}, {Ordinal: 2, VoteCount: 0}},
		getResults(t, r, poll.ID.String()))

	// Same user again: 400 with the duplicate reason.
	w = doVote(r, poll.ID.String(), 1, token, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "already voted")

	// Anonymous voter identified by the forwarded IP.
	w = doVote(r, poll.ID.String(), 2, "", "9.9.9.9")
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t,
		[]entity.OptionCount{{Ordinal: 1, VoteCount: 1}, {Ordinal: 2, VoteCount: 1}},
		getResults(t, r, poll.ID.String()))
}

func TestVote_AnonymousDuplicateByForwardedIP(t *testing.T) {
	store := testutil.NewStore()
	r, _, _ := newTestRouter(store)

	poll := seedPoll(t, store, nil)

	// Only the first element of X-Forwarded-For identifies the client.
	w := doVote(r, poll.ID.String(), 1, "", "9.9.9.9, 10.0.0.1")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doVote(r, poll.ID.String(), 2, "", "9.9.9.9, 172.16.0.3")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "already voted")
}

func TestVote_NotFound(t *testing.T) {
	store := testutil.NewStore()
	r, _, _ := newTestRouter(store)

	w := doVote(r, uuid.NewString(), 1, "", "9.9.9.9")
	assert.Equal(t, http.StatusNotFound, w.Code)

	poll := seedPoll(t, store, nil)
	w = doVote(r, poll.ID.String(), 99, "", "9.9.9.9")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVote_BadInput(t *testing.T) {
	store := testutil.NewStore()
	r, _, _ := newTestRouter(store)

	poll := seedPoll(t, store, nil)

	w := doVote(r, "not-a-uuid", 1, "", "9.9.9.9")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/polls/"+poll.ID.String()+"/vote", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	assert.Equal(t, http.StatusBadRequest, w2.Code)
}

// A poll past its end date but still flagged active must reject.
func TestVote_StaleActiveFlag(t *testing.T) {
	store := testutil.NewStore()
	r, _, _ := newTestRouter(store)

	poll := seedPoll(t, store, func(p *entity.Poll) {
		p.StartDate = time.Now().UTC().Add(-2 * time.Hour)
		p.EndDate = time.Now().UTC().Add(-time.Hour)
		p.IsActive = true
	})

	w := doVote(r, poll.ID.String(), 1, "", "9.9.9.9")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
}

func TestCreatePoll(t *testing.T) {
	store := testutil.NewStore()
	r, _, _ := newTestRouter(store)

	body := map[string]any{
		"question": "Tabs or spaces?",
		"category": "engineering",
		"end_date": time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
		"options":  []map[string]any{{"text": "Tabs"}, {"text": "Spaces"}},
	}
	payload, _ := json.Marshal(body)

	// No token: rejected by the auth middleware.
	req := httptest.NewRequest(http.MethodPost, "/api/polls", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/polls", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t, 7))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		PollID uuid.UUID `json:"poll_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	poll, err := store.GetPollByID(context.Background(), resp.PollID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), poll.CreatorID)
	assert.True(t, poll.IsPublic)
}

func TestClosePoll(t *testing.T) {
	store := testutil.NewStore()
	r, _, _ := newTestRouter(store)

	poll := seedPoll(t, store, func(p *entity.Poll) {
		p.CreatorID = 7
	})

	closeReq := func(userID int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/polls/%s/close", poll.ID), nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, userID))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusForbidden, closeReq(8).Code)
	assert.Equal(t, http.StatusOK, closeReq(7).Code)
	// Already closed.
	assert.Equal(t, http.StatusBadRequest, closeReq(7).Code)

	w := doVote(r, poll.ID.String(), 1, "", "9.9.9.9")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPollByID(t *testing.T) {
	store := testutil.NewStore()
	r, _, _ := newTestRouter(store)

	poll := seedPoll(t, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/polls/"+poll.ID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Poll    entity.Poll     `json:"poll"`
		Options []entity.Option `json:"options"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, poll.ID, resp.Poll.ID)
	require.Len(t, resp.Options, 2)

	req = httptest.NewRequest(http.MethodGet, "/api/polls/"+uuid.NewString(), nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
