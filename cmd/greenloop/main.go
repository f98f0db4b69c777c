// Package main is the entry point for the greenloop gamification engine CLI.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cliApp := &cli.App{
		Name:  "greenloop",
		Usage: "points, streaks, badges and leaderboards for sustainability actions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config",
				Usage:   "directory containing config.yaml",
				EnvVars: []string{"GREENLOOP_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			commandMigrate(),
			commandVerify(),
			commandScore(),
			commandAward(),
			commandClaimable(),
			commandBadges(),
			commandLeaderboard(),
			commandSummary(),
			commandAdjust(),
			commandReconcile(),
			commandWorker(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}
