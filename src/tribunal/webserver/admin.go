package webserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stake-plus/tribunal/src/tribunal/config"
)

type Admin struct {
	cfg  config.Config
	deps Deps
}

func NewAdmin(cfg config.Config, deps Deps) Admin {
	return Admin{cfg: cfg, deps: deps}
}

func (h Admin) Propose(c *gin.Context) {
	var req struct {
		Kind   string `json:"kind" binding:"required"`
		Target string `json:"target"`
		Value  uint64 `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	id, err := h.deps.Timelock.Propose(callerAddr(c), req.Kind, req.Target, req.Value)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h Admin) Execute(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad change id"})
		return
	}
	if err := h.deps.Timelock.Execute(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h Admin) Cancel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad change id"})
		return
	}
	if err := h.deps.Timelock.Cancel(callerAddr(c), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h Admin) AssessQuality(c *gin.Context) {
	var req struct {
		CaseID uint64 `json:"caseId" binding:"required"`
		Tier   uint8  `json:"tier" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if err := h.deps.Tracker.AssessQuality(req.CaseID, req.Tier, callerAddr(c)); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h Admin) ReputationScore(c *gin.Context) {
	score, confidence, err := h.deps.Oracle.Score(c.Param("subject"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"score": score, "confidence": confidence})
}

func (h Admin) ReputationReport(c *gin.Context) {
	var req struct {
		Source  string `json:"source" binding:"required"`
		Subject string `json:"subject" binding:"required"`
		Score   uint32 `json:"score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if err := h.deps.Oracle.Report(req.Source, req.Subject, req.Score); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}
