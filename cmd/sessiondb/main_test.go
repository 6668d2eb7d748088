package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestParseLogLevel(t *testing.T) {
	t.Run("valid levels", func(t *testing.T) {
		cases := map[string]slog.Level{
			"debug": slog.LevelDebug,
			"info":  slog.LevelInfo,
			"warn":  slog.LevelWarn,
			"error": slog.LevelError,
			"INFO":  slog.LevelInfo,
			"Debug": slog.LevelDebug,
		}
		for input, want := range cases {
			level, err := parseLogLevel(input)
			require.NoError(t, err, input)
			assert.Equal(t, want, level, input)
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := parseLogLevel("verbose")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "verbose")
	})
}

func TestGCCommandFlags(t *testing.T) {
	cmd := &cli.Command{
		Name:   "gc",
		Action: gcCommand,
		Flags: []cli.Flag{
			dbFlag,
			&cli.DurationFlag{
				Name:  "grace",
				Value: 24 * time.Hour,
			},
		},
	}

	t.Run("db is required", func(t *testing.T) {
		app := &cli.App{Name: "sessiondb", Commands: []*cli.Command{cmd}}
		err := app.Run([]string{"sessiondb", "gc"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db")
	})

	t.Run("grace has a default", func(t *testing.T) {
		var graceFlag *cli.DurationFlag
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.DurationFlag); ok && f.Name == "grace" {
				graceFlag = f
				break
			}
		}
		require.NotNil(t, graceFlag)
		assert.Equal(t, 24*time.Hour, graceFlag.Value)
	})
}

func TestListCommandStatusDefault(t *testing.T) {
	statusFlag := &cli.StringFlag{
		Name:  "status",
		Value: "active",
	}
	assert.Equal(t, "active", statusFlag.Value)
	assert.False(t, statusFlag.Required)
}
