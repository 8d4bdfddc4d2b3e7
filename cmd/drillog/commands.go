package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/drillog/internal/config"
	"github.com/verte-zerg/drillog/internal/dataset"
	"github.com/verte-zerg/drillog/internal/model"
	"github.com/verte-zerg/drillog/internal/stats"
	"github.com/verte-zerg/drillog/internal/statsui"
	"github.com/verte-zerg/drillog/internal/syncer"
	"github.com/verte-zerg/drillog/internal/watch"
)

var (
	statsDataset string
	statsType    string
	statsUI      bool
	statsWeak    int

	syncWatch bool

	cleanupForce bool
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show practice stats",
		Args:  cobra.NoArgs,
		RunE:  runStatsCmd,
	}
	cmd.Flags().StringVar(&statsDataset, "dataset", "", "dataset id (default: last used)")
	cmd.Flags().StringVar(&statsType, "type", "stroke", "practice type: stroke or pinyin")
	cmd.Flags().BoolVar(&statsUI, "ui", false, "open the interactive stats UI")
	cmd.Flags().IntVar(&statsWeak, "weak", 0, "only list the N words with the highest error rate")
	return cmd
}

func runStatsCmd(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	applyStringConfig(cmd, "dataset", &statsDataset, e.cfg.Practice.Dataset)
	applyStringConfig(cmd, "type", &statsType, e.cfg.Practice.Type)
	practiceType, err := model.ParsePracticeType(statsType)
	if err != nil {
		return err
	}

	ctx := context.Background()
	tr, err := e.openTracker(ctx)
	if err != nil {
		return err
	}
	defer closeTracker(tr)

	datasetID := statsDataset
	if datasetID == "" {
		datasetID = tr.LastDataset(ctx)
	}
	if datasetID == "" {
		return fmt.Errorf("no dataset practised yet; pass --dataset")
	}

	if statsUI {
		program := tea.NewProgram(statsui.NewModel(tr, datasetID, practiceType), tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("failed to run stats TUI: %w", err)
		}
		return nil
	}

	out := cmd.OutOrStdout()
	if statsWeak > 0 {
		words, err := tr.WordStats(ctx, datasetID, practiceType)
		if err != nil {
			return fmt.Errorf("failed to load word stats: %w", err)
		}
		return stats.RenderWordStats(out, stats.WeakestWords(words, statsWeak))
	}
	report, err := stats.BuildReport(ctx, tr, datasetID, practiceType)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	return report.Render(out, stats.TerminalWidth())
}

func newNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Suggest the group and practice type to drill next",
		Args:  cobra.NoArgs,
		RunE:  runNextCmd,
	}
	cmd.Flags().StringVar(&drillDataset, "dataset", "", "dataset id (default: last used)")
	return cmd
}

func runNextCmd(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	applyStringConfig(cmd, "dataset", &drillDataset, e.cfg.Practice.Dataset)

	ctx := context.Background()
	tr, err := e.openTracker(ctx)
	if err != nil {
		return err
	}
	defer closeTracker(tr)

	ds, err := resolveDataset(ctx, e, tr, drillDataset)
	if err != nil {
		return err
	}
	s, ok, err := suggest(ctx, tr, ds)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !ok {
		_, err := fmt.Fprintf(out, "No group of %s has a full session yet; start with group %s.\n", ds.ID, ds.Groups[0].ID)
		return err
	}
	_, err = fmt.Fprintf(out, "%s group %s, %s\n", ds.ID, s.GroupID, s.PracticeType.Name())
	return err
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending history to the remote store",
		Args:  cobra.NoArgs,
		RunE:  runSyncCmd,
	}
	cmd.Flags().BoolVar(&syncWatch, "watch", false, "keep running and sync whenever the local history changes")
	return cmd
}

func runSyncCmd(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	if e.client == nil {
		return fmt.Errorf("no remote configured; set [sync] url in %s", config.DefaultConfigPath())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	tr, err := e.openTracker(ctx)
	if err != nil {
		return err
	}
	defer closeTracker(tr)

	tr.WaitSync()
	report, err := tr.SyncNow(ctx)
	switch {
	case errors.Is(err, syncer.ErrNoRemote):
		return fmt.Errorf("anonymous history is never synced; pass --user")
	case errors.Is(err, syncer.ErrBusy):
		logErrf("a background sync is already running\n")
	case err != nil:
		return fmt.Errorf("sync failed: %w", err)
	default:
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Synced %d new sessions, %d session updates, %d attempts, %d char logs (%d failed)\n",
			report.SessionsCreated, report.SessionsUpdated, report.AttemptsCreated, report.CharLogsSynced, report.Failed); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if !syncWatch {
		return nil
	}

	path, err := tr.StatsPath()
	if err != nil {
		return err
	}
	w, err := watch.New(path, tr.Reconnect, watch.WithLogger(e.log.Logger))
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	logErrf("Watching %s (ctrl+c to stop)\n", path)
	<-ctx.Done()
	return w.Stop()
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Download history from the remote store into an empty local partition",
		Args:  cobra.NoArgs,
		RunE:  runRestoreCmd,
	}
}

func runRestoreCmd(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	tr, err := e.openTracker(ctx)
	if err != nil {
		return err
	}
	defer closeTracker(tr)

	res, err := tr.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	out := cmd.OutOrStdout()
	if res.Skipped {
		_, err := fmt.Fprintln(out, "Nothing restored: local history is not empty or no remote is available.")
		return err
	}
	_, err = fmt.Fprintf(out, "Restored %d sessions, %d attempts, %d char logs\n", res.Sessions, res.Attempts, res.CharLogs)
	return err
}

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete synced history older than the retention period",
		Args:  cobra.NoArgs,
		RunE:  runCleanupCmd,
	}
	cmd.Flags().BoolVar(&cleanupForce, "force", false, "run even if the last cleanup was recent")
	return cmd
}

func runCleanupCmd(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	tr, err := e.openTracker(ctx)
	if err != nil {
		return err
	}
	defer closeTracker(tr)

	res, err := tr.Cleanup(ctx, cleanupForce)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	out := cmd.OutOrStdout()
	if res.Skipped {
		_, err := fmt.Fprintln(out, "Cleanup skipped: last run is within the interval (use --force).")
		return err
	}
	_, err = fmt.Fprintf(out, "Removed %d sessions, %d attempts, %d char logs older than %s\n",
		res.Purged.Sessions, res.Purged.Attempts, res.Purged.CharLogs, res.Cutoff.Local().Format("2006-01-02 15:04"))
	return err
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active account and pending sync counts",
		Args:  cobra.NoArgs,
		RunE:  runStatusCmd,
	}
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	tr, err := e.openTracker(ctx)
	if err != nil {
		return err
	}
	defer closeTracker(tr)

	out := cmd.OutOrStdout()
	user := tr.UserID()
	if user == model.AnonymousUserID {
		user = "anonymous"
	}
	path, err := tr.StatsPath()
	if err != nil {
		return err
	}
	remoteURL := "none"
	if e.cfg.Sync.URL != nil && *e.cfg.Sync.URL != "" {
		remoteURL = *e.cfg.Sync.URL
	}
	if _, err := fmt.Fprintf(out, "User: %s\nHistory: %s\nRemote: %s\nLog: %s\n", user, path, remoteURL, e.log.Path()); err != nil {
		return err
	}
	counts, err := tr.PendingCounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending records: %w", err)
	}
	return stats.RenderPending(out, counts)
}

func newDatasetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List available datasets",
		Args:  cobra.NoArgs,
		RunE:  runDatasetsCmd,
	}
}

func runDatasetsCmd(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	dir := e.datasetDir()
	ids, err := dataset.List(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("dataset directory %s does not exist", dir)
		}
		return fmt.Errorf("failed to read dataset directory: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no datasets found in %s", dir)
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), id); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}
