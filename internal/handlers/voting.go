package handlers

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pollcast/pollcast/internal/entity"
	"github.com/pollcast/pollcast/internal/middleware"
	"github.com/pollcast/pollcast/internal/repo"
	"github.com/pollcast/pollcast/internal/services"
)

type VotingHandler struct {
	votingService *services.Voting
}

type CreateOptionRequest struct {
	Text     string  `json:"text" binding:"required"`
	ImageURL *string `json:"image_url"`
}

type CreatePollRequest struct {
	Question       string                `json:"question" binding:"required"`
	Category       string                `json:"category" binding:"required"`
	IsPublic       *bool                 `json:"is_public"`
	AllowedCountry string                `json:"allowed_country" binding:"omitempty,len=2"`
	OrganizationID *string               `json:"organization_id"`
	EndDate        time.Time             `json:"end_date" binding:"required"`
	Options        []CreateOptionRequest `json:"options" binding:"required,min=2,dive"`
}

type VoteRequest struct {
	OptionID int `json:"option_id" binding:"required,min=1"`
}

func NewVotingHandler(votingService *services.Voting) *VotingHandler {
	return &VotingHandler{votingService: votingService}
}

func (v *VotingHandler) CreatePoll(c *gin.Context) {
	var req CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	newPoll := services.NewPoll{
		Question:       req.Question,
		Category:       req.Category,
		IsPublic:       true,
		AllowedCountry: strings.ToUpper(req.AllowedCountry),
		EndDate:        req.EndDate,
	}
	if req.IsPublic != nil {
		newPoll.IsPublic = *req.IsPublic
	}
	if req.OrganizationID != nil {
		orgID, err := uuid.Parse(*req.OrganizationID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization id"})
			return
		}
		newPoll.OrgID = &orgID
	}
	for _, option := range req.Options {
		newPoll.Options = append(newPoll.Options, services.NewOption{
			Text:     option.Text,
			ImageURL: option.ImageURL,
		})
	}

	poll, err := v.votingService.CreatePoll(c.Request.Context(), userID, newPoll)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"poll_id": poll.ID})
}

func (v *VotingHandler) GetPolls(c *gin.Context) {
	polls, err := v.votingService.GetPolls(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"polls": polls})
}

func (v *VotingHandler) GetPollByID(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid poll id"})
		return
	}

	poll, options, err := v.votingService.GetPollByID(c.Request.Context(), pollID)
	if err != nil {
		if errors.Is(err, repo.ErrPollNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "poll not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if options == nil {
		options = []entity.Option{}
	}
	c.JSON(http.StatusOK, gin.H{"poll": poll, "options": options})
}

func (v *VotingHandler) GetResults(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid poll id"})
		return
	}

	results, err := v.votingService.Results(c.Request.Context(), pollID)
	if err != nil {
		if errors.Is(err, repo.ErrPollNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "poll not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if results == nil {
		results = []entity.OptionCount{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (v *VotingHandler) ClosePoll(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid poll id"})
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err = v.votingService.ClosePoll(c.Request.Context(), pollID, userID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "poll closed successfully"})
	case errors.Is(err, repo.ErrPollNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "poll not found"})
	case errors.Is(err, services.ErrNotCreator):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Vote is the submission entry point. Success is 201; every validation
// rejection is a 400 with its specific reason; an unknown poll or
// option ordinal is 404.
func (v *VotingHandler) Vote(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid poll id"})
		return
	}

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	voter := services.VoterIdentity{IP: clientIP(c.Request)}
	if userID, ok := userIDFromContext(c); ok {
		voter.UserID = &userID
	}

	_, err = v.votingService.CastVote(c.Request.Context(), pollID, req.OptionID, voter)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"message": "vote cast successfully"})
	case errors.Is(err, repo.ErrPollNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "poll not found"})
	case errors.Is(err, repo.ErrOptionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "option not found"})
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func userIDFromContext(c *gin.Context) (int64, bool) {
	value, exists := c.Get(middleware.ContextUserID)
	if !exists {
		return 0, false
	}
	userID, ok := value.(int64)
	return userID, ok
}

// clientIP takes the first element of X-Forwarded-For when present,
// otherwise the direct peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
