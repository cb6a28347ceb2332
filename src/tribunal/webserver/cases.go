package webserver

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stake-plus/tribunal/src/tribunal/config"
	"github.com/stake-plus/tribunal/src/tribunal/types"
)

type Cases struct {
	cfg  config.Config
	deps Deps
}

func NewCases(cfg config.Config, deps Deps) Cases {
	return Cases{cfg: cfg, deps: deps}
}

// Register opens a new case. Only the case-opening authority may call it.
func (h Cases) Register(c *gin.Context) {
	if !isAuthority(c) {
		c.JSON(http.StatusForbidden, gin.H{"err": "only the authority can open cases"})
		return
	}

	var req struct {
		ID        uint64    `json:"id" binding:"required"`
		Subject   string    `json:"subject" binding:"required"`
		AgentID   string    `json:"agentId"`
		VotingEnd time.Time `json:"votingEnd" binding:"required"`
		RevealEnd time.Time `json:"revealEnd" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	err := h.deps.Voting.RegisterCase(req.ID, req.Subject, req.AgentID, callerAddr(c), req.VotingEnd, req.RevealEnd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}

func (h Cases) Get(c *gin.Context) {
	id, err := parseCaseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad case id"})
		return
	}
	kase, err := h.deps.Voting.GetCase(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}
	forStake, againstStake, _ := h.deps.Voting.Tally(id)
	c.JSON(http.StatusOK, gin.H{
		"case":    kase,
		"for":     forStake,
		"against": againstStake,
	})
}

// Resolve finalizes the vote and runs the post-resolution pipeline: voter
// track records, then ban enforcement on the subject.
func (h Cases) Resolve(c *gin.Context) {
	if !isAuthority(c) {
		c.JSON(http.StatusForbidden, gin.H{"err": "only the authority can resolve"})
		return
	}
	id, err := parseCaseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad case id"})
		return
	}

	outcome, err := h.deps.Voting.Resolve(id)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}

	h.recordVoterOutcomes(id, outcome)

	kase, err := h.deps.Voting.GetCase(id)
	if err == nil {
		var enfErr error
		if outcome == types.OutcomeAction {
			enfErr = h.deps.Enforcer.ApplyFromResolution(kase.Subject, id)
		} else {
			enfErr = h.deps.Enforcer.ClearFromResolution(kase.Subject, id)
		}
		if enfErr != nil {
			log.Printf("Case %d: enforcement failed: %v", id, enfErr)
		}
	}

	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

func (h Cases) ProcessForfeits(c *gin.Context) {
	id, err := parseCaseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad case id"})
		return
	}
	processed, remaining, err := h.deps.Voting.ProcessForfeits(id)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed, "remaining": remaining})
}

func (h Cases) CloseEvidence(c *gin.Context) {
	id, err := parseCaseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad case id"})
		return
	}
	remaining, err := h.deps.Evidence.CloseBatch(id)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"remaining": remaining})
}

func (h Cases) Escalate(c *gin.Context) {
	if !isAuthority(c) {
		c.JSON(http.StatusForbidden, gin.H{"err": "only the authority can escalate"})
		return
	}
	id, err := parseCaseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad case id"})
		return
	}
	kase, err := h.deps.Voting.GetCase(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}
	if err := h.deps.Arbitrator.Escalate(c.Request.Context(), id, kase.Subject); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}

func (h Cases) CrossDomainStatus(c *gin.Context) {
	id, err := parseCaseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad case id"})
		return
	}
	cc, votes, err := h.deps.Arbitrator.Status(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": cc, "votes": votes})
}

// recordVoterOutcomes feeds every revealed vote into the track record.
func (h Cases) recordVoterOutcomes(caseID uint64, outcome uint8) {
	var commits []types.VoteCommit
	if err := h.deps.DB.Where("case_id = ? AND revealed = ?", caseID, true).Find(&commits).Error; err != nil {
		log.Printf("Case %d: loading commits for track record: %v", caseID, err)
		return
	}
	actionTaken := outcome == types.OutcomeAction
	for _, vc := range commits {
		won := vc.Position == actionTaken
		if _, err := h.deps.Tracker.RecordOutcome(vc.Voter, caseID, won, vc.Stake); err != nil {
			log.Printf("Case %d: track record for %s: %v", caseID, vc.Voter, err)
		}
	}
}

func parseCaseID(c *gin.Context) (uint64, error) {
	return strconv.ParseUint(c.Param("id"), 10, 64)
}
