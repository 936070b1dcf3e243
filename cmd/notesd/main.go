package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"collab-notes-core/internal/bootstrap"
	"collab-notes-core/internal/config"
	"collab-notes-core/internal/entity"
	"collab-notes-core/internal/mapper"
	"collab-notes-core/internal/store/redisstore"

	"github.com/redis/go-redis/v9"
)

// notesd watches the shared note collection over Redis and logs every
// reconciled snapshot. It doubles as a reference composition root for the
// core.
func main() {
	cfg := config.Load()

	opts, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Fatalf("invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)

	remote := redisstore.New(rdb, redisstore.Options{})
	defer remote.Close()

	container := bootstrap.NewContainer(remote, cfg)
	defer container.Logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cancel, err := container.Notes.Observe(ctx, func(notes []*entity.Note) {
		summaries := mapper.ToNoteSummaries(notes)
		container.Logger.Info("notesd", "Collection snapshot", map[string]interface{}{
			"count": len(summaries),
			"notes": summaries,
		})
	}, func(err error) {
		container.Logger.Error("notesd", "Collection feed error", map[string]interface{}{
			"error": err.Error(),
		})
	})
	if err != nil {
		log.Fatalf("observe failed: %v", err)
	}
	defer cancel()

	container.Logger.Info("notesd", "Watching note collection", map[string]interface{}{
		"identity": container.Identity.Current(),
	})

	<-ctx.Done()
}
