package main

import (
	"context"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"tapattend/internal/attendance"
	"tapattend/internal/cloudinary"
	"tapattend/internal/config"
	"tapattend/internal/logger"
	"tapattend/internal/queue"
	"tapattend/internal/report"
	"tapattend/internal/store"
)

// Worker consumes report jobs and schedules the nightly attendance export.
func main() {
	cfg := config.Load()
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	repo := attendance.NewRepository(db.Client)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}
	svc := attendance.NewService(repo, cfg.Location())

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		if !redisClient.Healthy(ctx) {
			log.Warn("redis not reachable yet, the consumer will keep retrying")
		}
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	} else {
		log.Warn("QUEUE_BACKEND is not redis, only scheduled exports will run here")
		q = queue.NewInMemory(16)
	}

	files, err := report.NewFiles(cfg.ReportsDir)
	if err != nil {
		log.Fatalf("reports dir: %v", err)
	}

	var archive report.Archiver
	if c := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder); c.Configured() {
		archive = c
		log.WithField("cloud", cfg.CloudinaryCloudName).Info("cloudinary configured")
	}

	sched := cron.New(cron.WithLocation(cfg.Location()))
	if cfg.ExportCron != "" {
		_, err := sched.AddFunc(cfg.ExportCron, func() {
			msg, job, err := report.AttendanceJob(svc.Today(), "")
			if err != nil {
				log.WithError(err).Error("build nightly export")
				return
			}
			if err := q.Publish(ctx, msg); err != nil {
				log.WithError(err).Error("queue nightly export")
				return
			}
			log.WithField("file", job.Filename).Info("nightly export queued")
		})
		if err != nil {
			log.Fatalf("invalid EXPORT_CRON %q: %v", cfg.ExportCron, err)
		}
		sched.Start()
		defer sched.Stop()
		log.WithField("schedule", cfg.ExportCron).Info("nightly export scheduled")
	}

	if err := report.NewWorker(svc, files, archive).Run(ctx, q); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
	log.Info("worker stopped")
}
