// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	sessiondb "github.com/poiesic/sessiondb"
	"github.com/poiesic/sessiondb/index"
	"github.com/urfave/cli/v2"
)

var dbFlag = &cli.StringFlag{
	Name:     "db",
	Aliases:  []string{"d"},
	Usage:    "Path to the session database directory",
	Required: true,
}

func main() {
	app := &cli.App{
		Name:  "sessiondb",
		Usage: "Session storage engine for captured screen recording sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Print engine statistics",
				Action: statsCommand,
				Flags:  []cli.Flag{dbFlag},
			},
			{
				Name:   "gc",
				Usage:  "Collect garbage blobs past the grace period",
				Action: gcCommand,
				Flags: []cli.Flag{
					dbFlag,
					&cli.DurationFlag{
						Name:  "grace",
						Usage: "Grace period for unreferenced blobs",
						Value: 24 * time.Hour,
					},
				},
			},
			{
				Name:   "verify",
				Usage:  "Verify the integrity of every stored blob",
				Action: verifyCommand,
				Flags:  []cli.Flag{dbFlag},
			},
			{
				Name:   "rebuild-index",
				Usage:  "Rebuild all search indexes from session metadata",
				Action: rebuildIndexCommand,
				Flags:  []cli.Flag{dbFlag},
			},
			{
				Name:   "list",
				Usage:  "List sessions matching a status",
				Action: listCommand,
				Flags: []cli.Flag{
					dbFlag,
					&cli.StringFlag{
						Name:  "status",
						Usage: "Session status to list (active, paused, completed, interrupted)",
						Value: "active",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openEngine(c *cli.Context, opts ...sessiondb.Option) (*sessiondb.Engine, error) {
	engine, err := sessiondb.Open(c.String("db"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return engine, nil
}

func statsCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	stats := engine.Stats()
	fmt.Printf("Queue:   depth=%d batches=%d committed=%d dead-lettered=%d\n",
		stats.Queue.Depth, stats.Queue.Batches, stats.Queue.Committed, stats.Queue.DeadLettered)
	fmt.Printf("Content: saves=%d dedup-hits=%d dedup-ratio=%.2f gc-removed=%d\n",
		stats.Content.Saves, stats.Content.DedupHits, stats.Content.DedupRatio(), stats.Content.GCRemoved)
	fmt.Printf("Index:   terms=%d postings=%d rebuilds=%d\n",
		stats.Index.Terms, stats.Index.Postings, stats.Index.Rebuilds)
	fmt.Printf("Cache:   entries=%d bytes=%d hit-rate=%.2f evictions=%d\n",
		stats.Cache.Entries, stats.Cache.ResidentBytes, stats.Cache.HitRate(), stats.Cache.Evictions)
	return nil
}

func gcCommand(c *cli.Context) error {
	engine, err := openEngine(c, sessiondb.WithGCGrace(c.Duration("grace")))
	if err != nil {
		return err
	}
	defer engine.Close()

	removed, err := engine.Content().CollectGarbage(context.Background())
	if err != nil {
		return fmt.Errorf("garbage collection failed: %w", err)
	}
	fmt.Printf("Removed %d unreferenced blobs\n", removed)
	return nil
}

func verifyCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	checked, err := engine.Content().VerifyAll(context.Background())
	if err != nil {
		return fmt.Errorf("verification failed after %d blobs: %w", checked, err)
	}
	fmt.Printf("Verified %d blobs, all intact\n", checked)
	return nil
}

func rebuildIndexCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := context.Background()
	if err := engine.Index().Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}
	if err := engine.Queue().Flush(ctx); err != nil {
		return fmt.Errorf("failed to persist rebuilt indexes: %w", err)
	}
	stats := engine.Index().Stats()
	fmt.Printf("Rebuilt indexes: %d terms, %d postings\n", stats.Terms, stats.Postings)
	return nil
}

func listCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := context.Background()
	ids, err := engine.Index().Search(ctx, index.Term(index.IndexStatus, c.String("status")))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	for _, id := range ids {
		meta, err := engine.Sessions().LoadMetadata(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %-12s  %s\n", meta.Id, meta.Status, meta.Title)
	}
	fmt.Printf("%d sessions\n", len(ids))
	return nil
}

func setupLogger(c *cli.Context) error {
	level, err := parseLogLevel(c.String("log-level"))
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", s)
	}
}
