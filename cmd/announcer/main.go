// cmd/announcer is an asynchronous worker that pops lobby lifecycle events
// from the Redis queue, records them in PostgreSQL, and logs the announcement
// a chat integration would render.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/inhouseleague/ihl/internal/database"
	"github.com/inhouseleague/ihl/internal/lobby"
)

// lifecycleEvent mirrors the orchestrator's event payload on the wire.
type lifecycleEvent struct {
	LobbyID  uuid.UUID         `json:"lobby_id"`
	From     lobby.State       `json:"from"`
	To       lobby.State       `json:"to"`
	Snapshot *lobby.LobbyState `json:"snapshot"`
}

// AnnouncerService drains the event queue in batches and persists them.
type AnnouncerService struct {
	redisClient *redis.Client
	queueName   string
	batchSize   int
	flushDelay  time.Duration
	logger      *logrus.Logger

	batchMu  sync.Mutex
	batch    []lifecycleEvent
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewAnnouncerService constructs the worker from environment variables.
func NewAnnouncerService(logger *logrus.Logger) *AnnouncerService {
	rdb := redis.NewClient(&redis.Options{
		Addr: getEnv("REDIS_ADDR", "localhost:6379"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	batchSize := getEnvInt("ANNOUNCER_BATCH_SIZE", 20)
	return &AnnouncerService{
		redisClient: rdb,
		queueName:   getEnv("EVENT_QUEUE_NAME", "ihl_events"),
		batchSize:   batchSize,
		flushDelay:  time.Duration(getEnvInt("ANNOUNCER_FLUSH_MS", 500)) * time.Millisecond,
		logger:      logger,
		batch:       make([]lifecycleEvent, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run starts the queue reader and the periodic flusher.
func (as *AnnouncerService) Run() {
	database.ConnectDB()
	go as.readQueueLoop()
	go as.flushLoop()
}

// Stop flushes whatever is buffered and shuts the loops down.
func (as *AnnouncerService) Stop() {
	as.cancelFn()
	as.flush()
}

func (as *AnnouncerService) readQueueLoop() {
	for {
		select {
		case <-as.ctx.Done():
			return
		default:
		}

		res, err := as.redisClient.BLPop(as.ctx, 2*time.Second, as.queueName).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			as.logger.Warnf("blpop error: %v", err)
			time.Sleep(time.Second)
			continue
		}
		// BLPop returns [key, value].
		if len(res) != 2 {
			continue
		}

		var ev lifecycleEvent
		if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
			as.logger.Warnf("failed to decode lifecycle event: %v", err)
			continue
		}

		as.logger.WithFields(logrus.Fields{
			"lobby": ev.LobbyID,
			"from":  ev.From,
			"to":    ev.To,
		}).Info(announcement(ev))

		as.batchMu.Lock()
		as.batch = append(as.batch, ev)
		full := len(as.batch) >= as.batchSize
		as.batchMu.Unlock()
		if full {
			as.flush()
		}
	}
}

func (as *AnnouncerService) flushLoop() {
	ticker := time.NewTicker(as.flushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-as.ctx.Done():
			return
		case <-ticker.C:
			as.flush()
		}
	}
}

// flush writes the buffered events to the lobby_events table in one
// transaction.
func (as *AnnouncerService) flush() {
	as.batchMu.Lock()
	if len(as.batch) == 0 {
		as.batchMu.Unlock()
		return
	}
	pending := as.batch
	as.batch = make([]lifecycleEvent, 0, as.batchSize)
	as.batchMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := pgx.BeginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, ev := range pending {
			snapshot, err := json.Marshal(ev.Snapshot)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO lobby_events (lobby_id, from_state, to_state, snapshot, recorded_at)
				VALUES ($1, $2, $3, $4, $5)`,
				ev.LobbyID, string(ev.From), string(ev.To), snapshot, time.Now())
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		as.logger.Errorf("failed to flush %d events: %v", len(pending), err)
		// Put them back so the next flush retries.
		as.batchMu.Lock()
		as.batch = append(pending, as.batch...)
		as.batchMu.Unlock()
	}
}

// announcement renders the human-readable line for a transition.
func announcement(ev lifecycleEvent) string {
	switch ev.To {
	case lobby.StateCheckingReady:
		return "Ready check started"
	case lobby.StateDraftingPlayers:
		return "Captains are drafting"
	case lobby.StateBotAssigned:
		return "Game lobby is being created"
	case lobby.StateBotFailed:
		return "Game lobby creation failed, waiting for an operator"
	case lobby.StateMatchInProgress:
		return "Match started"
	case lobby.StateCompleted:
		return "Match completed"
	case lobby.StateKilled:
		return "Lobby cancelled"
	default:
		return "Lobby updated"
	}
}

func main() {
	logger := logrus.New()

	as := NewAnnouncerService(logger)
	as.Run()
	log.Println("announcer running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	as.Stop()
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
