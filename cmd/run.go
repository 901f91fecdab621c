// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/basketman23/suno-automation/internal/bot"
	"github.com/basketman23/suno-automation/internal/browser"
	"github.com/basketman23/suno-automation/internal/config"
	"github.com/basketman23/suno-automation/internal/credstore"
	"github.com/basketman23/suno-automation/internal/humanoid"
	"github.com/basketman23/suno-automation/internal/locator"
	"github.com/basketman23/suno-automation/internal/observability"
	"github.com/basketman23/suno-automation/internal/status"
)

// jobsFile is the on-disk batch format.
type jobsFile struct {
	Jobs []bot.JobRequest `yaml:"jobs"`
}

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var (
		jobsPath   string
		title      string
		style      string
		lyrics     string
		lyricsAt   string
		statusAddr string
		selectors  string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs a batch of song-creation jobs",
		Long: `Runs one or more jobs against the live site. Jobs come either from
a YAML batch file (--jobs) or from the single-job flags. Each job is
submitted, polled to completion, and its variants downloaded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if statusAddr != "" {
				cfg.Status.Addr = statusAddr
			}
			if selectors != "" {
				cfg.Target.SelectorsFile = selectors
			}

			jobs, err := collectJobs(jobsPath, title, style, lyrics, lyricsAt)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				return fmt.Errorf("no jobs: provide --jobs or --style")
			}

			components, err := buildComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}

			g, runCtx := errgroup.WithContext(ctx)
			hubCtx, stopHub := context.WithCancel(runCtx)
			defer stopHub()

			if components.hub != nil {
				g.Go(func() error {
					return components.hub.Serve(hubCtx, cfg.Status.Addr)
				})
			}

			var result bot.BatchResult
			g.Go(func() error {
				defer stopHub()
				var batchErr error
				result, batchErr = components.bot.RunBatch(runCtx, jobs)
				return batchErr
			})

			runErr := g.Wait()
			printBatchSummary(result)

			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			if runErr != nil {
				return fmt.Errorf("batch aborted by user signal")
			}
			return nil
		},
	}

	runCmd.Flags().StringVarP(&jobsPath, "jobs", "j", "", "YAML batch file with a 'jobs' list")
	runCmd.Flags().StringVar(&title, "title", "", "Song title (single-job mode)")
	runCmd.Flags().StringVar(&style, "style", "", "Style description (single-job mode, required)")
	runCmd.Flags().StringVar(&lyrics, "lyrics", "", "Inline lyrics (single-job mode)")
	runCmd.Flags().StringVar(&lyricsAt, "lyrics-file", "", "Read lyrics from a file (single-job mode)")
	runCmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve live status over WebSocket on this address")
	runCmd.Flags().StringVar(&selectors, "selectors", "", "YAML file overriding the selector candidate sets")

	return runCmd
}

// collectJobs merges the batch file and single-job flags into one list.
func collectJobs(jobsPath, title, style, lyrics, lyricsAt string) ([]bot.JobRequest, error) {
	var jobs []bot.JobRequest

	if jobsPath != "" {
		raw, err := os.ReadFile(jobsPath)
		if err != nil {
			return nil, fmt.Errorf("reading jobs file: %w", err)
		}
		var jf jobsFile
		if err := yaml.Unmarshal(raw, &jf); err != nil {
			return nil, fmt.Errorf("parsing jobs file: %w", err)
		}
		jobs = jf.Jobs
	}

	if style != "" {
		if lyricsAt != "" {
			raw, err := os.ReadFile(lyricsAt)
			if err != nil {
				return nil, fmt.Errorf("reading lyrics file: %w", err)
			}
			lyrics = string(raw)
		}
		jobs = append(jobs, bot.JobRequest{Title: title, Style: style, Lyrics: lyrics})
	}

	for i, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}
	return jobs, nil
}

// components holds the wired production stack for one session.
type components struct {
	manager *browser.Manager
	session *bot.SessionManager
	bot     *bot.Bot
	hub     *status.Hub
	sink    status.Sink
}

// buildComponents performs dependency injection for a live session.
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	candidates, err := loadCandidates(cfg)
	if err != nil {
		return nil, err
	}

	c := &components{}

	sinks := []status.Sink{status.LoggerSink(logger)}
	if cfg.Status.Addr != "" {
		c.hub = status.NewHub(logger)
		sinks = append(sinks, c.hub)
	}
	c.sink = status.Fanout(sinks...)

	c.manager = browser.NewManager(cfg.Browser, cfg.Download.Dir, logger)
	if err := c.manager.Start(ctx); err != nil {
		return nil, err
	}

	resolver := locator.NewResolver(candidates, c.manager, logger)
	interact := humanoid.New(cfg.Humanoid, c.manager.Executor(), logger)
	creds := credstore.New(cfg.Auth.CredentialsFile)

	c.session = bot.NewSessionManager(cfg.Auth, cfg.Target.BaseURL, c.manager, interact, resolver, creds, c.sink, logger)
	session := c.session
	challenge := bot.NewChallengeHandler(cfg.Generation.ChallengeWait, c.manager, resolver, c.sink, logger)
	director := bot.NewDirector(cfg.Target.BaseURL, c.manager, interact, resolver, challenge, c.sink, logger)
	poller := bot.NewPoller(cfg.Generation, c.manager, resolver, challenge, c.sink, logger)
	retriever := bot.NewRetriever(cfg.Download, c.manager, interact, resolver, c.sink, logger)

	c.bot = bot.New(cfg, session, director, poller, retriever, c.sink, c.manager.Close, logger)
	return c, nil
}

func loadCandidates(cfg *config.Config) (*locator.CandidateSet, error) {
	if cfg.Target.SelectorsFile != "" {
		return locator.LoadCandidates(cfg.Target.SelectorsFile)
	}
	return locator.DefaultCandidates()
}

func printBatchSummary(result bot.BatchResult) {
	fmt.Printf("\nBatch finished: %d completed, %d failed\n", result.Completed, result.Failed)
	for _, r := range result.Results {
		if r.Err != nil {
			fmt.Printf("  [FAIL] %s (%s): %v\n", r.Job.Title, r.Job.ID, r.Err)
			continue
		}
		fmt.Printf("  [ OK ] %s (%s): %d artifact(s)\n", r.Job.Title, r.Job.ID, len(r.Artifacts))
		for _, a := range r.Artifacts {
			fmt.Printf("         %s (%d bytes)\n", a.Path, a.Size)
		}
	}
}
