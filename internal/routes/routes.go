package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/pollcast/pollcast/internal/handlers"
)

func RegisterPublicRoutes(rg *gin.RouterGroup, handler *handlers.VotingHandler, identity gin.HandlerFunc) {
	{
		rg.GET("/polls", handler.GetPolls)
		rg.GET("/polls/:id", handler.GetPollByID)
		rg.GET("/polls/:id/results", handler.GetResults)

		// Voting is open to anonymous clients; identity is resolved
		// when a token is supplied.
		rg.POST("/polls/:id/vote", identity, handler.Vote)
	}
}

func RegisterPrivateRoutes(rg *gin.RouterGroup, handler *handlers.VotingHandler) {
	{
		rg.POST("/polls", handler.CreatePoll)
		rg.POST("/polls/:id/close", handler.ClosePoll)
	}
}
