// Command brickwatchd runs the scan scheduler, dispatch workers, and
// scheduled jobs as a single long-lived process, plus the debug HTTP
// surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"brickwatch/internal/api"
	"brickwatch/internal/config"
	"brickwatch/internal/db"
	"brickwatch/internal/dispatch"
	"brickwatch/internal/identity"
	"brickwatch/internal/jobs"
	"brickwatch/internal/logger"
	"brickwatch/internal/marketplace/adaptera"
	"brickwatch/internal/marketplace/adapterb"
	"brickwatch/internal/notify"
	"brickwatch/internal/queue"
	"brickwatch/internal/scheduler"
)

var version = "dev"

const (
	scanInterval      = 5 * time.Minute
	workerPollInterval = 3 * time.Second
	jobsPollInterval  = time.Hour
	digestInterval    = 7 * 24 * time.Hour
	reminderInterval  = 24 * time.Hour
	snapshotInterval  = 24 * time.Hour
	cleanupInterval   = 24 * time.Hour
	claimBatchSize    = 20
)

func main() {
	logger.Banner(version)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Config", fmt.Sprintf("Failed to load: %v", err))
		os.Exit(1)
	}

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
		os.Exit(1)
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.QueueURL})
	defer rdb.Close()
	q := queue.New(rdb)

	adapterA := adaptera.New(cfg.AdapterAClientID, cfg.AdapterAClientSecret, cfg.AdapterADefaultMarketplace)
	adapterB := adapterb.New(cfg.AdapterBKey)
	idSvc := identity.New(store, adapterB)

	disp := dispatch.New(q)
	sched := scheduler.New(store, adapterA, adapterB, idSvc, disp, 8)

	chatSender := notify.NewChatSender(cfg.ChatToken)
	var pushSender *notify.PushSender
	if cfg.PushEnabled() {
		pushSender, err = notify.NewPushSender(cfg.PushPublicKey, cfg.PushPrivateKey, cfg.PushSubject)
		if err != nil {
			logger.Error("Push", fmt.Sprintf("Failed to initialize VAPID keys: %v", err))
			os.Exit(1)
		}
	} else {
		logger.Info("Push", "push channel disabled (missing VAPID configuration)")
	}

	chatWorker := dispatch.NewChatWorker(q, store, chatSender)
	var pushWorker *dispatch.Worker
	if pushSender != nil {
		pushWorker = dispatch.NewPushWorker(q, store, pushSender)
	}

	runner := jobs.New(store, adapterA, chatSender)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runScanLoop(ctx, sched)
	go runWorkerLoop(ctx, "chat", chatWorker)
	if pushWorker != nil {
		go runWorkerLoop(ctx, "push", pushWorker)
	}
	go runJobsLoop(ctx, runner)

	srv := api.New(store)
	addr := fmt.Sprintf("%s:%d", bindHost(cfg), cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	go func() {
		<-ctx.Done()
		logger.Info("Server", "Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server", fmt.Sprintf("Shutdown error: %v", err))
		}
	}()

	logger.Server(addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server", fmt.Sprintf("Failed: %v", err))
		os.Exit(1)
	}
	logger.Info("Server", "Stopped")
}

func bindHost(cfg *config.Config) string {
	if cfg.NodeEnv == "production" {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}

func runScanLoop(ctx context.Context, sched *scheduler.Scheduler) {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		stats, err := sched.RunCycle(ctx)
		if err != nil {
			logger.Error("Scheduler", fmt.Sprintf("Scan cycle failed: %v", err))
		} else {
			total := 0
			for _, s := range stats {
				total += s.AlertsEmitted
			}
			logger.Stats("alerts_emitted", total)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runWorkerLoop(ctx context.Context, name string, w *dispatch.Worker) {
	ticker := time.NewTicker(workerPollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx, claimBatchSize); err != nil {
			logger.Error("Dispatch", fmt.Sprintf("%s worker: %v", name, err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runJobsLoop(ctx context.Context, runner *jobs.Runner) {
	ticker := time.NewTicker(jobsPollInterval)
	defer ticker.Stop()
	for {
		runDueJobs(ctx, runner)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runDueJobs(ctx context.Context, runner *jobs.Runner) {
	if runner.DueSince("weekly_digest", digestInterval) {
		if err := runner.RunWeeklyDigest(ctx); err != nil {
			logger.Error("Jobs", fmt.Sprintf("weekly digest: %v", err))
		}
	}
	if runner.DueSince("still_available_reminder", reminderInterval) {
		if err := runner.RunStillAvailableReminder(ctx); err != nil {
			logger.Error("Jobs", fmt.Sprintf("still-available reminder: %v", err))
		}
	}
	if runner.DueSince("daily_price_snapshot", snapshotInterval) {
		if err := runner.RunDailyPriceSnapshot(ctx); err != nil {
			logger.Error("Jobs", fmt.Sprintf("daily price snapshot: %v", err))
		}
	}
	if runner.DueSince("expired_deal_cleanup", cleanupInterval) {
		if err := runner.RunExpiredDealCleanup(ctx); err != nil {
			logger.Error("Jobs", fmt.Sprintf("expired deal cleanup: %v", err))
		}
	}
}
