package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"greenloop/internal/job"
	"greenloop/internal/migrations"
	"greenloop/internal/model"
	"greenloop/internal/pkg/retry"
	"greenloop/internal/service"
)

func parseID(c *cli.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.String(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: --%s: %v", model.ErrValidation, name, err)
	}
	return id, nil
}

func userFlag() cli.Flag {
	return &cli.StringFlag{Name: "user", Usage: "user id", Required: true}
}

// withApp bootstraps the engine, runs fn and releases resources.
func withApp(fn func(c *cli.Context, a *app) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		a, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(c, a)
	}
}

func commandMigrate() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "down", Usage: "roll back every migration"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.Bool("down") {
				return migrations.Down(cfg.Database.DSN())
			}
			return migrations.Up(cfg.Database.DSN())
		},
	}
}

func commandVerify() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "review one or more pending actions and score the verified ones",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "action", Usage: "action id (repeatable)"},
			&cli.StringFlag{Name: "admin", Usage: "reviewing admin id"},
			&cli.BoolFlag{Name: "reject", Usage: "reject instead of verify"},
			&cli.StringFlag{Name: "notes", Usage: "review notes"},
			&cli.BoolFlag{Name: "pending", Usage: "list pending actions instead of reviewing"},
		},
		Action: withApp(func(c *cli.Context, a *app) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			if c.Bool("pending") {
				pending, err := a.actions.ListPending(ctx, 100)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ACTION\tUSER\tTITLE\tDATE")
				for _, p := range pending {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.UserID, p.Title, p.ActionDate.Format("2006-01-02"))
				}
				return w.Flush()
			}

			admin, err := parseID(c, "admin")
			if err != nil {
				return err
			}
			status := model.StatusVerified
			if c.Bool("reject") {
				status = model.StatusRejected
			}
			var notes *string
			if c.IsSet("notes") {
				n := c.String("notes")
				notes = &n
			}

			var ids []uuid.UUID
			for _, raw := range c.StringSlice("action") {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("%w: --action %q: %v", model.ErrValidation, raw, err)
				}
				ids = append(ids, id)
			}

			outcomes, err := a.engine.BulkVerify(ctx, service.BulkVerifyRequest{
				ActionIDs: ids, AdminID: admin, Status: status, Notes: notes,
			})
			if err != nil {
				return err
			}

			var failed int
			for _, o := range outcomes {
				switch {
				case o.Err != nil:
					failed++
					fmt.Fprintf(c.App.Writer, "%s\terror: %v\n", o.ActionID, o.Err)
				case o.Result.ScoreErr != nil:
					// The review is committed; scoring is retried with backoff.
					score, err := retry.Do(ctx, a.cfg.Retry, func() (*service.ScoreResult, error) {
						return a.engine.ComputeAndApplyPoints(ctx, o.ActionID)
					})
					if err != nil {
						failed++
						fmt.Fprintf(c.App.Writer, "%s\tverified, scoring failed: %v\n", o.ActionID, err)
						continue
					}
					printScore(c, score)
				case o.Result.Score != nil:
					printScore(c, o.Result.Score)
				default:
					fmt.Fprintf(c.App.Writer, "%s\t%s\n", o.ActionID, o.Result.Action.VerificationStatus)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d actions failed", failed, len(outcomes))
			}
			return nil
		}),
	}
}

func printScore(c *cli.Context, s *service.ScoreResult) {
	state := "credited"
	if !s.Credited {
		state = "already credited"
	}
	fmt.Fprintf(c.App.Writer, "%s\t%s\t%d points\ttotal %d\tstreak %d\n",
		s.Action.ID, state, s.Points, s.Aggregate.TotalPoints, s.Aggregate.CurrentStreak)
	for _, ub := range s.AwardedBadges {
		fmt.Fprintf(c.App.Writer, "\tbadge earned: %s\n", ub.BadgeID)
	}
}

func commandScore() *cli.Command {
	return &cli.Command{
		Name:  "score",
		Usage: "score a verified action (idempotent)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "action", Usage: "action id", Required: true},
		},
		Action: withApp(func(c *cli.Context, a *app) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			id, err := parseID(c, "action")
			if err != nil {
				return err
			}
			res, err := retry.Do(ctx, a.cfg.Retry, func() (*service.ScoreResult, error) {
				return a.engine.ComputeAndApplyPoints(ctx, id)
			})
			if err != nil {
				return err
			}
			printScore(c, res)
			return nil
		}),
	}
}

func commandAward() *cli.Command {
	return &cli.Command{
		Name:  "award",
		Usage: "award a badge if the user is eligible",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{Name: "badge", Usage: "badge id", Required: true},
		},
		Action: withApp(func(c *cli.Context, a *app) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			userID, err := parseID(c, "user")
			if err != nil {
				return err
			}
			badgeID, err := parseID(c, "badge")
			if err != nil {
				return err
			}
			var res *service.AwardResult
			err = retry.OnConcurrency(ctx, a.cfg.Retry, func() error {
				res, err = a.engine.AwardBadge(ctx, userID, badgeID)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s\t%s\n", res.Badge.Name, res.Status)
			return nil
		}),
	}
}

func commandClaimable() *cli.Command {
	return &cli.Command{
		Name:  "claimable",
		Usage: "list badges the user qualifies for but does not hold",
		Flags: []cli.Flag{userFlag()},
		Action: withApp(func(c *cli.Context, a *app) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			userID, err := parseID(c, "user")
			if err != nil {
				return err
			}
			badges, err := a.engine.CheckBadgeEligibility(ctx, userID)
			if err != nil {
				return err
			}
			for _, b := range badges {
				fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", b.ID, b.Name, b.Rarity)
			}
			return nil
		}),
	}
}

func commandBadges() *cli.Command {
	return &cli.Command{
		Name:  "badges",
		Usage: "show the badge catalog with the user's progress",
		Flags: []cli.Flag{userFlag()},
		Action: withApp(func(c *cli.Context, a *app) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			userID, err := parseID(c, "user")
			if err != nil {
				return err
			}
			catalog, err := a.engine.BadgeCatalog(ctx, userID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BADGE\tRARITY\tPROGRESS\tEARNED")
			for _, st := range catalog {
				earned := "-"
				if st.EarnedAt != nil {
					earned = st.EarnedAt.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\n", st.Badge.Name, st.Badge.Rarity, st.Progress, earned)
			}
			return w.Flush()
		}),
	}
}

func commandLeaderboard() *cli.Command {
	return &cli.Command{
		Name:  "leaderboard",
		Usage: "rank active users by points in a timeframe",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "timeframe", Value: string(model.TimeframeWeekly), Usage: "weekly, monthly or all"},
			&cli.IntFlag{Name: "limit", Usage: "entries to show (default from config)"},
			&cli.StringFlag{Name: "user", Usage: "also show this user's position"},
		},
		Action: withApp(func(c *cli.Context, a *app) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			tf, err := model.ParseTimeframe(c.String("timeframe"))
			if err != nil {
				return err
			}
			var me uuid.UUID
			if c.IsSet("user") {
				if me, err = parseID(c, "user"); err != nil {
					return err
				}
			}

			st, err := a.engine.Standings(ctx, tf, me, c.Int("limit"))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tUSER\tNAME\tPOINTS")
			for _, e := range st.Entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", e.Rank, e.UserID, e.DisplayName, e.Points)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%d participants\n", st.TotalParticipants)
			if st.Me != nil {
				fmt.Fprintf(c.App.Writer, "you: rank %d with %d points\n", st.Me.Rank, st.Me.Points)
			}
			return nil
		}),
	}
}

func commandSummary() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "show a user's points, streaks, recent transactions and achievements",
		Flags: []cli.Flag{userFlag()},
		Action: withApp(func(c *cli.Context, a *app) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			userID, err := parseID(c, "user")
			if err != nil {
				return err
			}
			sum, err := a.engine.PointsSummary(ctx, userID)
			if err != nil {
				return err
			}
			ach, err := a.engine.Achievements(ctx, userID)
			if err != nil {
				return err
			}

			out := c.App.Writer
			fmt.Fprintf(out, "total %d, streak %d (longest %d)\n",
				sum.Points.TotalPoints, sum.Points.CurrentStreak, sum.Points.LongestStreak)
			for _, cb := range sum.Categories {
				fmt.Fprintf(out, "  %s: %d actions, %d points\n", cb.CategoryName, cb.ActionCount, cb.Points)
			}
			fmt.Fprintln(out, "recent:")
			for _, t := range sum.Recent {
				fmt.Fprintf(out, "  %s\t%+d\t%s\n", t.CreatedAt.Format(time.RFC3339), t.Points, t.Type)
			}
			for _, r := range ach.Recent {
				fmt.Fprintf(out, "earned %s on %s\n", r.Badge.Name, r.EarnedAt.Format("2006-01-02"))
			}
			for _, b := range ach.Claimable {
				fmt.Fprintf(out, "claimable: %s\n", b.Name)
			}
			return nil
		}),
	}
}

func commandAdjust() *cli.Command {
	return &cli.Command{
		Name:  "adjust",
		Usage: "apply an administrative points adjustment",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{Name: "admin", Usage: "admin id", Required: true},
			&cli.Int64Flag{Name: "points", Usage: "signed points delta", Required: true},
			&cli.StringFlag{Name: "reason", Usage: "why the adjustment is made", Required: true},
		},
		Action: withApp(func(c *cli.Context, a *app) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			userID, err := parseID(c, "user")
			if err != nil {
				return err
			}
			admin, err := parseID(c, "admin")
			if err != nil {
				return err
			}

			up, err := retry.Do(ctx, a.cfg.Retry, func() (*model.UserPoints, error) {
				return a.engine.AdjustPoints(ctx, service.AdjustmentRequest{
					UserID: userID, AdminID: admin, Points: c.Int64("points"), Reason: c.String("reason"),
				})
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "total %d\n", up.TotalPoints)
			return nil
		}),
	}
}

func commandReconcile() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "repair point aggregates that drifted from the ledger",
		Action: withApp(func(c *cli.Context, a *app) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			repaired, err := job.NewReconcileJob(a.engine, a.rs, a.cfg.Reconcile).Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "repaired %d aggregates\n", repaired)
			return nil
		}),
	}
}

func commandWorker() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "run scheduled jobs until interrupted",
		Action: withApp(func(c *cli.Context, a *app) error {
			if err := a.pool.HealthCheck(c.Context); err != nil {
				return fmt.Errorf("database not reachable: %w", err)
			}

			runner := cron.New()
			if err := job.NewReconcileJob(a.engine, a.rs, a.cfg.Reconcile).Start(runner); err != nil {
				return err
			}
			runner.Start()
			log.Info().Msg("Worker started")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigChan:
				log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			case <-c.Context.Done():
			}

			<-runner.Stop().Done()
			log.Info().Msg("Worker stopped gracefully")
			return nil
		}),
	}
}
