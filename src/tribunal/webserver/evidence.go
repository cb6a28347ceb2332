package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/types"
)

type EvidenceAPI struct {
	deps Deps
}

func NewEvidenceAPI(deps Deps) EvidenceAPI {
	return EvidenceAPI{deps: deps}
}

func (h EvidenceAPI) Submit(c *gin.Context) {
	var req struct {
		CaseID     uint64 `json:"caseId" binding:"required"`
		Stake      uint64 `json:"stake" binding:"required"`
		Position   *bool  `json:"position" binding:"required"`
		ContentRef string `json:"contentRef" binding:"required"`
		Summary    string `json:"summary" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	id, err := h.deps.Evidence.Submit(req.CaseID, callerAddr(c), req.Stake, *req.Position, req.ContentRef, req.Summary)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h EvidenceAPI) Support(c *gin.Context) {
	var req struct {
		Stake      uint64 `json:"stake" binding:"required"`
		Supporting *bool  `json:"supporting" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if err := h.deps.Evidence.Support(c.Param("id"), callerAddr(c), req.Stake, *req.Supporting); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}

func (h EvidenceAPI) Claim(c *gin.Context) {
	var req struct {
		EvidenceIDs []string `json:"evidenceIds" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	claimant := callerAddr(c)

	if len(req.EvidenceIDs) == 1 {
		amount, err := h.deps.Evidence.Claim(req.EvidenceIDs[0], claimant)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"amount": amount})
		return
	}

	total, err := h.deps.Evidence.ClaimBatch(req.EvidenceIDs, claimant)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": total})
}

func (h EvidenceAPI) Get(c *gin.Context) {
	var ev types.Evidence
	if err := h.deps.DB.First(&ev, "id = ?", c.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"err": "evidence not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	var supports []types.EvidenceSupport
	h.deps.DB.Where("evidence_id = ?", ev.ID).Order("created_at").Find(&supports)
	c.JSON(http.StatusOK, gin.H{"evidence": ev, "supports": supports})
}
