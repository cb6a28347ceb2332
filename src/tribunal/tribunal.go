package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stake-plus/tribunal/src/tribunal/components/admin"
	"github.com/stake-plus/tribunal/src/tribunal/components/appeals"
	"github.com/stake-plus/tribunal/src/tribunal/components/ban"
	"github.com/stake-plus/tribunal/src/tribunal/components/crossdomain"
	"github.com/stake-plus/tribunal/src/tribunal/components/evidence"
	"github.com/stake-plus/tribunal/src/tribunal/components/notify"
	"github.com/stake-plus/tribunal/src/tribunal/components/payout"
	"github.com/stake-plus/tribunal/src/tribunal/components/reputation"
	"github.com/stake-plus/tribunal/src/tribunal/components/trackrecord"
	"github.com/stake-plus/tribunal/src/tribunal/components/voting"
	"github.com/stake-plus/tribunal/src/tribunal/config"
	"github.com/stake-plus/tribunal/src/tribunal/data"
	"github.com/stake-plus/tribunal/src/tribunal/webserver"
)

func main() {
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "tribunal:test@tcp(127.0.0.1:3306)/tribunal"
	}
	db := data.MustMySQL(mysqlDSN)

	if err := data.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	cfg := config.Load(db)
	rdb := data.MustRedis(cfg.RedisURL)

	notifier := buildNotifier(cfg, rdb)
	payouts := payout.NewLedger(db)

	votingEngine := voting.NewEngine(db, payouts, notifier, voting.Config{
		MinStake:     cfg.MinVoteStake,
		FeeBps:       cfg.ProtocolFeeBps,
		ForfeitBatch: cfg.ForfeitBatchSize,
		Treasury:     cfg.Treasury,
	})
	evidenceLedger := evidence.NewLedger(db, payouts, notifier, evidence.Config{
		MinStake:   cfg.MinEvidenceStake,
		FeeBps:     cfg.ProtocolFeeBps,
		CloseBatch: cfg.EvidenceBatchSize,
		Treasury:   cfg.Treasury,
	})
	tracker := trackrecord.NewTracker(db, payouts, notifier, trackrecord.Config{
		Treasury:  cfg.Treasury,
		Assessors: memberSet(data.GetSetting("quality_assessors"), cfg.Authority),
	})

	transport := crossdomain.NewRedisTransport(rdb, cfg.LocalDomain, cfg.Authority)
	enforcer := ban.NewEnforcer(db, notifier, transport, ban.Config{
		Authority:   cfg.Authority,
		LocalDomain: cfg.LocalDomain,
	})
	arbitrator := crossdomain.NewArbitrator(db, transport, notifier, enforcer, crossdomain.Config{
		LocalDomain: cfg.LocalDomain,
		HubDomain:   cfg.HubDomain,
		Quorum:      cfg.DomainQuorum,
	})

	banCheck := ban.PolicyChecker{Checker: enforcer, Policy: failPolicy(cfg.BanFailPolicy)}
	court := appeals.NewCourt(db, payouts, notifier, banCheck, enforcer, appeals.Config{
		MinStake:      cfg.MinAppealStake,
		Authority:     cfg.Authority,
		InsuranceFund: cfg.InsuranceFund,
		Board:         memberSet(data.GetSetting("appeal_board"), ""),
	})

	oracle := reputation.NewOracle(0)
	for source, weight := range map[string]uint32{"tribunal": 6000, "community": 4000} {
		oracle.AddSource(source, weight)
	}

	timelock := admin.NewTimelock(db, notifier, admin.Config{
		Delay:     time.Duration(cfg.TimelockDelayHrs) * time.Hour,
		Authority: cfg.Authority,
	})

	ctx, cancel := context.WithCancel(context.Background())

	go transport.Listen(ctx, arbitrator.HandleMessage)

	// Hourly sweep of expired bans.
	go func() {
		tick := time.NewTicker(time.Hour)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if n, err := enforcer.ClearExpired(); err != nil {
					log.Printf("ban sweep: %v", err)
				} else if n > 0 {
					log.Printf("ban sweep: cleared %d expired bans", n)
				}
			}
		}
	}()

	router := webserver.New(cfg, webserver.Deps{
		DB:         db,
		Voting:     votingEngine,
		Evidence:   evidenceLedger,
		Tracker:    tracker,
		Arbitrator: arbitrator,
		Enforcer:   enforcer,
		Court:      court,
		Oracle:     oracle,
		Timelock:   timelock,
		Payouts:    payouts,
	})

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	log.Printf("Tribunal listening on %s (domain %s, hub %s)", cfg.Port, cfg.LocalDomain, cfg.HubDomain)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	_ = httpSrv.Shutdown(shutCtx)
}

// memberSet parses a comma-separated settings value into a lookup set.
func memberSet(list, extra string) map[string]bool {
	set := make(map[string]bool)
	for _, m := range strings.Split(list, ",") {
		if m = strings.TrimSpace(m); m != "" {
			set[m] = true
		}
	}
	if extra != "" {
		set[extra] = true
	}
	return set
}

func failPolicy(name string) ban.Policy {
	if name == "closed" {
		return ban.FailClosed
	}
	return ban.FailOpen
}

func buildNotifier(cfg config.Config, rdb *redis.Client) notify.Notifier {
	notifiers := []notify.Notifier{notify.NewRedis(rdb)}
	if cfg.DiscordToken != "" && cfg.DiscordChannel != "" {
		d, err := notify.NewDiscord(cfg.DiscordToken, cfg.DiscordChannel)
		if err != nil {
			log.Printf("discord notifier disabled: %v", err)
		} else {
			notifiers = append(notifiers, d)
		}
	}
	if len(notifiers) == 1 {
		return notifiers[0]
	}
	return notify.Multi(notifiers)
}
