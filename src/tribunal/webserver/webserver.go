package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/components/admin"
	"github.com/stake-plus/tribunal/src/tribunal/components/appeals"
	"github.com/stake-plus/tribunal/src/tribunal/components/ban"
	"github.com/stake-plus/tribunal/src/tribunal/components/crossdomain"
	"github.com/stake-plus/tribunal/src/tribunal/components/evidence"
	"github.com/stake-plus/tribunal/src/tribunal/components/payout"
	"github.com/stake-plus/tribunal/src/tribunal/components/reputation"
	"github.com/stake-plus/tribunal/src/tribunal/components/trackrecord"
	"github.com/stake-plus/tribunal/src/tribunal/components/voting"
	"github.com/stake-plus/tribunal/src/tribunal/config"
)

// Deps carries every component the API surfaces.
type Deps struct {
	DB         *gorm.DB
	Voting     *voting.Engine
	Evidence   *evidence.Ledger
	Tracker    *trackrecord.Tracker
	Arbitrator *crossdomain.Arbitrator
	Enforcer   *ban.Enforcer
	Court      *appeals.Court
	Oracle     *reputation.Oracle
	Timelock   *admin.Timelock
	Payouts    *payout.Ledger
}

func New(cfg config.Config, deps Deps) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	attachRoutes(g, cfg, deps)
	return g
}

func attachRoutes(r *gin.Engine, cfg config.Config, deps Deps) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	secret := []byte(cfg.JWTSecret)
	authH := NewAuth(deps.DB, secret)
	caseH := NewCases(cfg, deps)
	voteH := NewVotes(deps)
	evH := NewEvidenceAPI(deps)
	banH := NewBans(deps)
	appealH := NewAppeals(deps)
	adminH := NewAdmin(cfg, deps)

	v1 := r.Group("/v1")
	{
		v1.POST("/auth/login", authH.Login)

		secured := v1.Use(JWTMiddleware(secret))
		secured.POST("/cases", caseH.Register)
		secured.GET("/cases/:id", caseH.Get)
		secured.POST("/cases/:id/resolve", caseH.Resolve)
		secured.POST("/cases/:id/forfeits", caseH.ProcessForfeits)
		secured.POST("/cases/:id/close-evidence", caseH.CloseEvidence)
		secured.POST("/cases/:id/escalate", caseH.Escalate)
		secured.GET("/cases/:id/crossdomain", caseH.CrossDomainStatus)

		secured.POST("/votes/commit", voteH.Commit)
		secured.POST("/votes/reveal", voteH.Reveal)
		secured.POST("/votes/claim", voteH.Claim)
		secured.GET("/votes/:id/tally", voteH.Tally)
		secured.GET("/voters/:addr", voteH.VoterRecord)

		secured.POST("/evidence", evH.Submit)
		secured.POST("/evidence/:id/support", evH.Support)
		secured.POST("/evidence/claim", evH.Claim)
		secured.GET("/evidence/:id", evH.Get)

		secured.GET("/bans/address/:addr", banH.AddressStatus)
		secured.GET("/bans/agent/:id", banH.AgentStatus)
		secured.POST("/bans/address", banH.ApplyAddress)
		secured.DELETE("/bans/address/:addr", banH.RemoveAddress)
		secured.POST("/bans/agent", banH.ApplyAgent)
		secured.DELETE("/bans/agent/:id", banH.RemoveAgent)
		secured.POST("/bans/clear-expired", banH.ClearExpired)
		secured.POST("/bans/replicate", banH.Replicate)

		secured.POST("/appeals", appealH.File)
		secured.POST("/appeals/:id/vote", appealH.Vote)
		secured.POST("/appeals/:id/complete", appealH.Complete)
		secured.POST("/appeals/:id/decision", appealH.Decide)
		secured.GET("/appeals/:id", appealH.Get)

		secured.POST("/withdraw", voteH.Withdraw)
		secured.GET("/balance", voteH.Balance)

		secured.GET("/reputation/:subject", adminH.ReputationScore)
		secured.POST("/reputation", adminH.ReputationReport)
	}

	// inherits the JWT middleware installed on v1 above
	adm := v1.Group("/admin")
	{
		adm.POST("/changes", adminH.Propose)
		adm.POST("/changes/:id/execute", adminH.Execute)
		adm.DELETE("/changes/:id", adminH.Cancel)
		adm.POST("/quality", adminH.AssessQuality)
	}
}
