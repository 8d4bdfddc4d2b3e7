// Package main provides the CLI entrypoint for drillog.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/drillog/internal/config"
	"github.com/verte-zerg/drillog/internal/dataset"
	"github.com/verte-zerg/drillog/internal/logger"
	"github.com/verte-zerg/drillog/internal/model"
	"github.com/verte-zerg/drillog/internal/picker"
	"github.com/verte-zerg/drillog/internal/practice"
	"github.com/verte-zerg/drillog/internal/remote"
	"github.com/verte-zerg/drillog/internal/tui"
)

const (
	defaultWeakFactor = 2.0
	defaultSyncRate   = 10.0
)

var (
	rootUser     string
	rootVerbose  bool
	rootDatasets string

	drillDataset    string
	drillGroup      string
	drillType       string
	drillCount      int
	drillFocusWeak  bool
	drillWeakFactor float64
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "drillog",
		Short:         "Chinese word drills with offline-first history",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runDrillCmd,
	}

	rootCmd.PersistentFlags().StringVar(&rootUser, "user", "", "signed-in user id (uuid); empty means anonymous")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "mirror log records to stderr")
	rootCmd.PersistentFlags().StringVar(&rootDatasets, "datasets", "", "directory holding dataset files")

	addDrillFlags(rootCmd)

	rootCmd.AddCommand(newDrillCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newNextCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newRestoreCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newDatasetsCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func newDrillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drill",
		Short: "Drill a group of words (the default command)",
		Args:  cobra.NoArgs,
		RunE:  runDrillCmd,
	}
	addDrillFlags(cmd)
	return cmd
}

func addDrillFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&drillDataset, "dataset", "", "dataset id (default: last used)")
	cmd.Flags().StringVar(&drillGroup, "group", "", "group id (default: suggested)")
	cmd.Flags().StringVar(&drillType, "type", "", "practice type: stroke or pinyin (default: suggested)")
	cmd.Flags().IntVar(&drillCount, "count", 0, "limit the number of words (0 keeps the whole group)")
	cmd.Flags().BoolVar(&drillFocusWeak, "focus-weak", false, "put words with more errors first")
	cmd.Flags().Float64Var(&drillWeakFactor, "weak-factor", defaultWeakFactor, "weight factor for recorded errors")
}

// env is what every command needs after reading config and flags.
type env struct {
	cfg    config.FileConfig
	log    *logger.Logger
	client *remote.Client
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "user", &rootUser, fileCfg.Account.User)
	applyStringConfig(cmd, "datasets", &rootDatasets, fileCfg.Practice.Datasets)

	logPath := config.DefaultLogPath()
	if fileCfg.Log.Path != nil {
		logPath = config.ExpandHome(*fileCfg.Log.Path)
	}
	level := ""
	if fileCfg.Log.Level != nil {
		level = *fileCfg.Log.Level
	}
	log, err := logger.New(logger.Options{Path: logPath, Level: level, Stderr: rootVerbose})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	e := &env{cfg: fileCfg, log: log}
	if fileCfg.Sync.URL != nil && *fileCfg.Sync.URL != "" {
		opts := remote.ClientOptions{
			BaseURL: *fileCfg.Sync.URL,
			Rate:    defaultSyncRate,
		}
		if fileCfg.Sync.APIKey != nil {
			opts.APIKey = *fileCfg.Sync.APIKey
		}
		if fileCfg.Sync.Rate != nil {
			opts.Rate = *fileCfg.Sync.Rate
		}
		client, err := remote.NewClient(opts)
		if err != nil {
			e.close()
			return nil, fmt.Errorf("failed to create remote client: %w", err)
		}
		e.client = client
	}
	return e, nil
}

func (e *env) close() {
	if err := e.log.Close(); err != nil {
		logErrf("failed to close log: %v\n", err)
	}
}

func (e *env) datasetDir() string {
	if rootDatasets != "" {
		return config.ExpandHome(rootDatasets)
	}
	return config.DefaultDatasetDir()
}

func (e *env) openTracker(ctx context.Context) (*practice.Tracker, error) {
	user := strings.TrimSpace(rootUser)
	if user != "" {
		if _, err := uuid.Parse(user); err != nil {
			return nil, fmt.Errorf("invalid --user %q: %w", user, err)
		}
	}
	opts := practice.Options{
		DataDir:         config.DefaultDataDir(),
		UserID:          user,
		Logger:          e.log.Logger,
		SyncTimeout:     config.DurationOr(e.cfg.Sync.Timeout, 0),
		CleanupInterval: config.DurationOr(e.cfg.Cleanup.Interval, 0),
		Retention:       config.DurationOr(e.cfg.Cleanup.Retention, 0),
	}
	if e.client != nil {
		opts.Remote = e.client
	}
	tr, err := practice.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open practice history: %w", err)
	}
	return tr, nil
}

func closeTracker(tr *practice.Tracker) {
	if err := tr.Close(); err != nil {
		logErrf("failed to close practice history: %v\n", err)
	}
}

func runDrillCmd(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	applyStringConfig(cmd, "dataset", &drillDataset, e.cfg.Practice.Dataset)
	applyStringConfig(cmd, "group", &drillGroup, e.cfg.Practice.Group)
	applyStringConfig(cmd, "type", &drillType, e.cfg.Practice.Type)
	if drillCount < 0 {
		return fmt.Errorf("--count must be >= 0")
	}
	if drillWeakFactor < 0 {
		return fmt.Errorf("--weak-factor must be >= 0")
	}

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
	group, practiceType, err := resolveDrill(ctx, tr, ds, drillGroup, drillType)
	if err != nil {
		return err
	}
	words := group.Filter(dataset.FilterForPractice(practiceType))
	if len(words) == 0 {
		return fmt.Errorf("group %q has no words usable for %s practice", group.ID, practiceType.Name())
	}

	pick := picker.New()
	if drillFocusWeak {
		groupStats, err := tr.GroupStats(ctx, ds.ID, practiceType, group.ID)
		if err != nil {
			return fmt.Errorf("failed to load group stats: %w", err)
		}
		words = pick.OrderWeighted(words, groupStats, drillWeakFactor)
		if drillCount > 0 && drillCount < len(words) {
			words = words[:drillCount]
		}
	} else {
		words = pick.Order(words, drillCount)
	}

	e.log.Info("drill starting", "dataset", ds.ID, "group", group.ID, "type", string(practiceType), "words", len(words))
	m := tui.NewModel(tr, ds.ID, practiceType, group.ID, words, e.log.Logger)
	program := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	res := m.Result()
	if res.Err != nil {
		return res.Err
	}
	if res.Completed {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Group %s (%s): %d/%d words clean\n",
			group.ID, practiceType.Name(), res.Clean, res.Words); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func resolveDataset(ctx context.Context, e *env, tr *practice.Tracker, id string) (dataset.Dataset, error) {
	dir := e.datasetDir()
	if id == "" {
		id = tr.LastDataset(ctx)
	}
	if id == "" {
		ids, err := dataset.List(dir)
		if err != nil {
			return dataset.Dataset{}, fmt.Errorf("failed to list datasets in %s: %w", dir, err)
		}
		if len(ids) == 0 {
			return dataset.Dataset{}, fmt.Errorf("no datasets found in %s", dir)
		}
		id = ids[0]
	}
	ds, err := dataset.Load(dataset.Path(dir, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return dataset.Dataset{}, fmt.Errorf("dataset %q not found in %s (run: drillog datasets)", id, dir)
		}
		return dataset.Dataset{}, fmt.Errorf("failed to load dataset %q: %w", id, err)
	}
	return ds, nil
}

// resolveDrill fills in the group and practice type the user left open from the
// suggestion for the dataset, falling back to the first group.
func resolveDrill(ctx context.Context, tr *practice.Tracker, ds dataset.Dataset, groupID, typeName string) (dataset.Group, model.PracticeType, error) {
	var practiceType model.PracticeType
	if typeName != "" {
		pt, err := model.ParsePracticeType(typeName)
		if err != nil {
			return dataset.Group{}, "", err
		}
		practiceType = pt
	}
	if groupID == "" {
		suggestion, ok, err := suggest(ctx, tr, ds)
		if err != nil {
			return dataset.Group{}, "", err
		}
		if ok {
			groupID = suggestion.GroupID
			if practiceType == "" {
				practiceType = suggestion.PracticeType
			}
		} else if len(ds.Groups) > 0 {
			groupID = ds.Groups[0].ID
		}
	}
	if practiceType == "" {
		practiceType = model.PracticeStroke
	}
	group, ok := ds.Group(groupID)
	if !ok {
		return dataset.Group{}, "", fmt.Errorf("group %q not found in dataset %q", groupID, ds.ID)
	}
	return group, practiceType, nil
}

func suggest(ctx context.Context, tr *practice.Tracker, ds dataset.Dataset) (picker.Suggestion, bool, error) {
	stroke, err := tr.GroupSessionSummaries(ctx, ds.ID, model.PracticeStroke)
	if err != nil {
		return picker.Suggestion{}, false, fmt.Errorf("failed to load stroke summaries: %w", err)
	}
	pinyin, err := tr.GroupSessionSummaries(ctx, ds.ID, model.PracticePinyin)
	if err != nil {
		return picker.Suggestion{}, false, fmt.Errorf("failed to load pinyin summaries: %w", err)
	}
	s, ok := picker.PickNext(ds.GroupIDs(), stroke, pinyin)
	return s, ok, nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a commented config template if none exists",
		Args:  cobra.NoArgs,
		RunE:  runConfigInitCmd,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.DefaultConfigPath())
			return err
		},
	})
	return cmd
}

func runConfigInitCmd(cmd *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat config: %w", err)
	}
	if err := os.WriteFile(path, []byte(config.Template), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return err
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
