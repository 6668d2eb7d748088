package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	sessiondb "github.com/poiesic/sessiondb"
	"github.com/poiesic/sessiondb/core"
	"github.com/poiesic/sessiondb/session"
)

var titles = []string{
	"Morning standup recording",
	"Incident review walkthrough",
	"Pairing on the payment flow",
	"Design critique session",
	"Customer demo rehearsal",
	"Focus block: queue refactor",
	"Quarterly planning notes",
	"Onboarding screen share",
	"Bug triage marathon",
	"Architecture whiteboard talk",
}

var categories = []string{"meetings", "deep-work", "demos", "reviews"}

var tags = []string{"work", "daily", "team", "archived", "important"}

var (
	dbPath       = flag.String("db", "./sessions_db", "database directory")
	sessionCount = flag.Int("sessions", 10, "number of sessions to create")
	itemCount    = flag.Int("items", 40, "screenshots per session")
	sharedFrames = flag.Int("shared", 8, "size of the shared frame pool; smaller means more dedup")
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
	flag.Parse()
}

// frame fabricates screenshot bytes. Drawing from a small pool produces
// byte-identical frames across sessions, which exercises deduplication.
func frame(rng *rand.Rand, pool int) []byte {
	return fmt.Appendf(nil, "synthetic-frame-%06d", rng.Intn(pool))
}

func seedSession(ctx context.Context, engine *sessiondb.Engine, rng *rand.Rand) error {
	meta, err := engine.Sessions().Create(ctx, session.CreateOptions{
		Title:    titles[rng.Intn(len(titles))],
		Category: categories[rng.Intn(len(categories))],
		Tags:     []string{tags[rng.Intn(len(tags))]},
	})
	if err != nil {
		return err
	}

	for i := 0; i < *itemCount; i++ {
		hash, err := engine.Content().Save(ctx, frame(rng, *sharedFrames), "image/png")
		if err != nil {
			return err
		}
		item := core.MediaItem{
			Id:         fmt.Sprintf("%s-frame-%d", meta.Id, i),
			CapturedAt: time.Now().UTC(),
			ContentId:  hash,
		}
		if err := engine.Sessions().AppendItem(ctx, meta.Id, core.CollectionScreenshots, item); err != nil {
			return err
		}
	}

	return engine.Sessions().UpdateMetadata(ctx, meta.Id, func(m *core.SessionMetadata) error {
		m.Status = core.StatusCompleted
		return nil
	})
}

func main() {
	engine, err := sessiondb.Open(*dbPath, sessiondb.WithChunkSize(16))
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	ctx := context.Background()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < *sessionCount; i++ {
		if err := seedSession(ctx, engine, rng); err != nil {
			panic(err)
		}
	}

	if err := engine.Queue().Flush(ctx); err != nil {
		panic(err)
	}

	stats := engine.Stats()
	slog.Info("seeding complete",
		"sessions", *sessionCount,
		"saves", stats.Content.Saves,
		"dedupHits", stats.Content.DedupHits,
		"dedupRatio", fmt.Sprintf("%.2f", stats.Content.DedupRatio()))
}
