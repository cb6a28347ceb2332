package webserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Bans struct {
	deps Deps
}

func NewBans(deps Deps) Bans {
	return Bans{deps: deps}
}

func (h Bans) AddressStatus(c *gin.Context) {
	banned, err := h.deps.Enforcer.IsAddressBanned(c.Param("addr"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"banned": banned})
}

func (h Bans) AgentStatus(c *gin.Context) {
	banned, err := h.deps.Enforcer.IsAgentBanned(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"banned": banned})
}

func (h Bans) ApplyAddress(c *gin.Context) {
	var req struct {
		Address   string     `json:"address" binding:"required"`
		BanType   uint8      `json:"banType" binding:"required"`
		ExpiresAt *time.Time `json:"expiresAt"`
		Reason    string     `json:"reason"`
		CaseID    uint64     `json:"caseId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	var expires time.Time
	if req.ExpiresAt != nil {
		expires = *req.ExpiresAt
	}
	err := h.deps.Enforcer.ApplyAddressBan(callerAddr(c), req.Address, req.BanType, expires, req.Reason, req.CaseID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}

func (h Bans) RemoveAddress(c *gin.Context) {
	if err := h.deps.Enforcer.RemoveAddressBan(callerAddr(c), c.Param("addr")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h Bans) ApplyAgent(c *gin.Context) {
	var req struct {
		AgentID   string     `json:"agentId" binding:"required"`
		Owner     string     `json:"owner" binding:"required"`
		BanType   uint8      `json:"banType" binding:"required"`
		ExpiresAt *time.Time `json:"expiresAt"`
		Reason    string     `json:"reason"`
		CaseID    uint64     `json:"caseId"`
		Slashed   bool       `json:"slashed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	var expires time.Time
	if req.ExpiresAt != nil {
		expires = *req.ExpiresAt
	}
	err := h.deps.Enforcer.ApplyAgentBan(callerAddr(c), req.AgentID, req.Owner, req.BanType, expires, req.Reason, req.CaseID, req.Slashed)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}

func (h Bans) RemoveAgent(c *gin.Context) {
	if err := h.deps.Enforcer.RemoveAgentBan(callerAddr(c), c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h Bans) ClearExpired(c *gin.Context) {
	cleared, err := h.deps.Enforcer.ClearExpired()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

func (h Bans) Replicate(c *gin.Context) {
	if !isAuthority(c) {
		c.JSON(http.StatusForbidden, gin.H{"err": "only the authority can replicate bans"})
		return
	}
	var req struct {
		Domain    string     `json:"domain" binding:"required"`
		Address   string     `json:"address" binding:"required"`
		BanType   uint8      `json:"banType" binding:"required"`
		ExpiresAt *time.Time `json:"expiresAt"`
		Reason    string     `json:"reason"`
		CaseID    uint64     `json:"caseId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	var expires time.Time
	if req.ExpiresAt != nil {
		expires = *req.ExpiresAt
	}
	err := h.deps.Enforcer.Replicate(c.Request.Context(), req.Domain, req.Address, req.BanType, expires, req.Reason, req.CaseID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}
