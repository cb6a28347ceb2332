package webserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Votes struct {
	deps Deps
}

func NewVotes(deps Deps) Votes {
	return Votes{deps: deps}
}

func (h Votes) Commit(c *gin.Context) {
	var req struct {
		CaseID     uint64 `json:"caseId" binding:"required"`
		CommitHash string `json:"commitHash" binding:"required,len=64"`
		Stake      uint64 `json:"stake" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	voter := callerAddr(c)

	banned, err := h.deps.Tracker.IsVotingBanned(voter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	if banned {
		c.JSON(http.StatusForbidden, gin.H{"err": "voter is under a voting ban"})
		return
	}

	if err := h.deps.Voting.Commit(req.CaseID, voter, req.CommitHash, req.Stake); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}

func (h Votes) Reveal(c *gin.Context) {
	var req struct {
		CaseID   uint64 `json:"caseId" binding:"required"`
		Position *bool  `json:"position" binding:"required"`
		Salt     string `json:"salt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if err := h.deps.Voting.Reveal(req.CaseID, callerAddr(c), *req.Position, req.Salt); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h Votes) Claim(c *gin.Context) {
	var req struct {
		CaseID uint64 `json:"caseId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	amount, err := h.deps.Voting.Claim(req.CaseID, callerAddr(c))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

func (h Votes) Tally(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad case id"})
		return
	}
	forStake, againstStake, err := h.deps.Voting.Tally(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"for": forStake, "against": againstStake})
}

func (h Votes) VoterRecord(c *gin.Context) {
	addr := c.Param("addr")
	rec, err := h.deps.Tracker.Record(addr)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}
	accuracy, _ := h.deps.Tracker.AccuracyScoreBps(addr)
	banned, _ := h.deps.Tracker.IsVotingBanned(addr)
	c.JSON(http.StatusOK, gin.H{"record": rec, "accuracyBps": accuracy, "votingBanned": banned})
}

func (h Votes) Withdraw(c *gin.Context) {
	amount, err := h.deps.Payouts.Withdraw(callerAddr(c))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

func (h Votes) Balance(c *gin.Context) {
	amount, err := h.deps.Payouts.Balance(callerAddr(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}
