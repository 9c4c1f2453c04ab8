package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luqmand1/TeacherClockMy/internal/attendance"
	"github.com/luqmand1/TeacherClockMy/internal/config"
	"github.com/luqmand1/TeacherClockMy/internal/metrics"
	"github.com/luqmand1/TeacherClockMy/internal/queue"
	"github.com/luqmand1/TeacherClockMy/internal/store"
)

// Worker consumes clock-event audit messages and runs the end-of-day sweep
// that marks teachers without a record as Absent.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	loc := cfg.Location()

	var st store.Store
	if cfg.StoreBackend == "postgres" {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer pg.Close()
		st = pg
	} else {
		log.Println("using in-memory store with seed data")
		st = store.Seeded(loc)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	att, err := attendance.NewService(st, cfg.LateCutoff, loc)
	if err != nil {
		log.Fatalf("attendance service init failed: %v", err)
	}

	go runSweep(ctx, att, cfg.SweepAt, loc)

	events, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for clock events...")
	for evt := range events {
		log.Printf("clock event: user=%d (%s) kind=%s date=%s status=%s score=%.1f at=%s",
			evt.UserID, evt.UserName, evt.Kind, evt.Date, evt.Status, evt.Score, evt.At)
	}

	log.Println("worker stopped")
}

// runSweep fires the absent sweep once a day at the configured local time.
func runSweep(ctx context.Context, att *attendance.Service, sweepAt string, loc *time.Location) {
	var hour, minute int
	if _, err := fmt.Sscanf(sweepAt, "%d:%d", &hour, &minute); err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		log.Printf("invalid SWEEP_AT %q, absent sweep disabled", sweepAt)
		return
	}

	for {
		now := time.Now().In(loc)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		day := next.Format("2006-01-02")
		n, err := att.SweepAbsent(ctx, day)
		if err != nil {
			log.Printf("absent sweep for %s failed: %v", day, err)
			continue
		}
		metrics.AbsentSwept.Add(float64(n))
		log.Printf("absent sweep for %s: %d teacher(s) marked absent", day, n)
	}
}
