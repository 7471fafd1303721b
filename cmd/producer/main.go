package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	r "github.com/redis/go-redis/v9"

	"github.com/you/claimq/internal/config"
	"github.com/you/claimq/internal/domain"
	"github.com/you/claimq/internal/queue"
)

// Demo feeder: publishes n uuid-identified events, optionally duplicating
// each delivery to exercise the at-least-once path end to end.
func main() {
	n := flag.Int("n", 10, "number of events to publish")
	dups := flag.Int("dups", 1, "deliveries per event")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	q := queue.New(rdb)

	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < *n; i++ {
		payload, _ := json.Marshal(map[string]any{"seq": i, "sent_at": now})
		env := domain.Envelope{ID: uuid.NewString(), Payload: payload}
		for d := 0; d < *dups; d++ {
			if err := q.Enqueue(ctx, env, now); err != nil {
				log.Fatal(err)
			}
		}
		fmt.Println(env.ID)
	}
}
