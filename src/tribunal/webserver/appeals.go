package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Appeals struct {
	deps Deps
}

func NewAppeals(deps Deps) Appeals {
	return Appeals{deps: deps}
}

func (h Appeals) File(c *gin.Context) {
	var req struct {
		CaseID      uint64 `json:"caseId" binding:"required"`
		Stake       uint64 `json:"stake" binding:"required"`
		EvidenceRef string `json:"evidenceRef"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	id, err := h.deps.Court.File(callerAddr(c), req.CaseID, req.Stake, req.EvidenceRef)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h Appeals) Vote(c *gin.Context) {
	var req struct {
		Restore *bool `json:"restore" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if err := h.deps.Court.BoardVote(c.Param("id"), callerAddr(c), *req.Restore); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}

func (h Appeals) Complete(c *gin.Context) {
	if err := h.deps.Court.CompleteReview(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h Appeals) Decide(c *gin.Context) {
	var req struct {
		Restore   *bool  `json:"restore" binding:"required"`
		Reasoning string `json:"reasoning" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if err := h.deps.Court.FinalDecision(c.Param("id"), callerAddr(c), *req.Restore, req.Reasoning); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h Appeals) Get(c *gin.Context) {
	appeal, err := h.deps.Court.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"appeal": appeal})
}
