package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/lprdesk/internal/batch"
	"github.com/verte-zerg/lprdesk/internal/capture"
	"github.com/verte-zerg/lprdesk/internal/configsync"
	"github.com/verte-zerg/lprdesk/internal/frame/video"
	"github.com/verte-zerg/lprdesk/internal/logging"
	"github.com/verte-zerg/lprdesk/internal/metrics"
	"github.com/verte-zerg/lprdesk/internal/model"
	"github.com/verte-zerg/lprdesk/internal/store"
)

var (
	recognizeAt time.Duration

	trainSamples []string

	remoteConfigShowFormat string
	remoteConfigPullFormat string
	remoteConfigOut        string

	metricsWidth  int
	metricsHeight int
	metricsColor  bool
)

func newRecognizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recognize <file>",
		Short: "Recognize a plate in an image or video frame and save the record",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecognizeCmd,
	}
	cmd.Flags().DurationVar(&recognizeAt, "at", 0, "video position of the frame to capture")
	return cmd
}

func runRecognizeCmd(cmd *cobra.Command, args []string) error {
	settings, err := setupCLI(cmd)
	if err != nil {
		return err
	}
	path := args[0]
	if cmd.Flags().Changed("at") && !isVideo(path) {
		return fmt.Errorf("--at only applies to video files")
	}

	src, err := openSource(path, settings.CaptureWidth, settings.CaptureHeight)
	if err != nil {
		return err
	}
	if closer, ok := src.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				logErrf("failed to close source: %v\n", cerr)
			}
		}()
	}
	if v, ok := src.(*video.Source); ok {
		v.Seek(recognizeAt)
	}

	slot, err := openSlot(settings)
	if err != nil {
		return err
	}
	defer closeSlot(slot)

	workflow := capture.New(newClient(settings), store.NewRecordStore(slot), capture.Options{
		TimeFormat: settings.TimeFormat,
		Logger:     logging.Get(),
	})
	defer workflow.Close()
	workflow.Load(src)

	snap, err := workflow.Recognize(cmd.Context())
	if err != nil {
		return err
	}
	return writeSnapshot(cmd.OutOrStdout(), snap)
}

func writeSnapshot(w io.Writer, snap capture.Snapshot) error {
	lines := []string{"Plate: " + snap.Result.Text}
	if snap.Timed {
		lines = append(lines,
			"Time: "+snap.Timestamp,
			"Latency: "+snap.LatencyText()+"s")
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if snap.State == capture.Failed {
		return snap.Err
	}
	return nil
}

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Submit labeled images as one training batch",
		Args:  cobra.NoArgs,
		RunE:  runTrainCmd,
	}
	cmd.Flags().StringArrayVar(&trainSamples, "sample", nil, "labeled image as LABEL=path (repeatable)")
	return cmd
}

type sampleArg struct {
	label string
	path  string
}

func parseSampleArgs(values []string) ([]sampleArg, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("at least one --sample LABEL=path is required")
	}
	out := make([]sampleArg, 0, len(values))
	for _, value := range values {
		label, path, ok := strings.Cut(value, "=")
		label = strings.TrimSpace(label)
		path = strings.TrimSpace(path)
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid --sample %q (want LABEL=path)", value)
		}
		if utf8.RuneCountInString(label) != 1 {
			return nil, fmt.Errorf("invalid --sample %q: label must be one character", value)
		}
		out = append(out, sampleArg{label: label, path: path})
	}
	return out, nil
}

func runTrainCmd(cmd *cobra.Command, _ []string) error {
	samples, err := parseSampleArgs(trainSamples)
	if err != nil {
		return err
	}
	settings, err := setupCLI(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := logging.Get()
	c := newClient(settings)
	view := metrics.NewView(c, logger)
	assembler := batch.New(c, view, logger)
	defer assembler.Close()

	paths := make([]string, len(samples))
	for i, s := range samples {
		paths[i] = s.path
	}
	if _, err := assembler.AddImages(ctx, paths); err != nil {
		return err
	}
	for i, s := range samples {
		if err := assembler.SetLabel(i, s.label); err != nil {
			return err
		}
	}

	msg, err := assembler.Submit(ctx)
	if msg != "" {
		if _, werr := fmt.Fprintln(cmd.OutOrStdout(), msg); werr != nil {
			return fmt.Errorf("failed to write output: %w", werr)
		}
	}
	if err != nil {
		return err
	}
	info, ok := view.Info()
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), metrics.InfoLine(info, ok)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newTrainingInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "training-info",
		Short: "Show how much training data the service holds",
		Args:  cobra.NoArgs,
		RunE:  runTrainingInfoCmd,
	}
}

func runTrainingInfoCmd(cmd *cobra.Command, _ []string) error {
	settings, err := setupCLI(cmd)
	if err != nil {
		return err
	}
	info, err := newClient(settings).TrainingInfo(cmd.Context())
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), metrics.InfoLine(info, true)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newRemoteConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote-config",
		Short: "Read or change the service configuration",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the service configuration",
		Args:  cobra.NoArgs,
		RunE:  runRemoteConfigShowCmd,
	}
	show.Flags().StringVar(&remoteConfigShowFormat, "format", "toml", "output format (toml, yaml, json)")

	set := &cobra.Command{
		Use:   "set <path=value>...",
		Short: "Change fields and save the configuration",
		Long: "Change fields and save the configuration.\n" +
			"Paths are section.param; address one slot of a pair with section.param[i].",
		Args: cobra.MinimumNArgs(1),
		RunE: runRemoteConfigSetCmd,
	}

	pull := &cobra.Command{
		Use:   "pull",
		Short: "Save the service configuration to a local file",
		Args:  cobra.NoArgs,
		RunE:  runRemoteConfigPullCmd,
	}
	pull.Flags().StringVarP(&remoteConfigOut, "out", "o", "service-config.toml", "output file")
	pull.Flags().StringVar(&remoteConfigPullFormat, "format", "", "output format (default: from file extension)")

	cmd.AddCommand(show, set, pull)
	return cmd
}

// fetchRemoteConfig loads the service config into a fresh config sync.
func fetchRemoteConfig(cmd *cobra.Command) (*configsync.Sync, error) {
	settings, err := setupCLI(cmd)
	if err != nil {
		return nil, err
	}
	cfgSync := configsync.New(newClient(settings), configsync.Options{
		KPath:      settings.KPath,
		MessageTTL: settings.MessageTTL,
		Logger:     logging.Get(),
	})
	if err := cfgSync.Fetch(cmd.Context()); err != nil {
		cfgSync.Close()
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfgSync, nil
}

func runRemoteConfigShowCmd(cmd *cobra.Command, _ []string) error {
	cfgSync, err := fetchRemoteConfig(cmd)
	if err != nil {
		return err
	}
	defer cfgSync.Close()
	return cfgSync.Export(cmd.OutOrStdout(), remoteConfigShowFormat)
}

func runRemoteConfigPullCmd(cmd *cobra.Command, _ []string) error {
	format := remoteConfigPullFormat
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(remoteConfigOut), ".")
	}
	cfgSync, err := fetchRemoteConfig(cmd)
	if err != nil {
		return err
	}
	defer cfgSync.Close()

	if err := os.MkdirAll(filepath.Dir(remoteConfigOut), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(remoteConfigOut), "config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()
	if err := cfgSync.Export(tmp, format); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, remoteConfigOut); err != nil {
		return fmt.Errorf("failed to write %s: %w", remoteConfigOut, err)
	}
	logErrf("Wrote %s\n", remoteConfigOut)
	return nil
}

type assignment struct {
	path  string
	index *int
	value string
}

// parseAssignment splits "section.param=value" or "section.param[i]=value".
func parseAssignment(arg string) (assignment, error) {
	lhs, value, ok := strings.Cut(arg, "=")
	lhs = strings.TrimSpace(lhs)
	if !ok || lhs == "" {
		return assignment{}, fmt.Errorf("invalid assignment %q (want path=value)", arg)
	}
	a := assignment{path: lhs, value: value}
	if strings.HasSuffix(lhs, "]") {
		open := strings.LastIndex(lhs, "[")
		if open <= 0 {
			return assignment{}, fmt.Errorf("invalid assignment %q: bad index", arg)
		}
		idx, err := strconv.Atoi(lhs[open+1 : len(lhs)-1])
		if err != nil || idx < 0 {
			return assignment{}, fmt.Errorf("invalid assignment %q: bad index", arg)
		}
		a.path = lhs[:open]
		a.index = &idx
	}
	return a, nil
}

func runRemoteConfigSetCmd(cmd *cobra.Command, args []string) error {
	assignments := make([]assignment, 0, len(args))
	for _, arg := range args {
		a, err := parseAssignment(arg)
		if err != nil {
			return err
		}
		assignments = append(assignments, a)
	}

	cfgSync, err := fetchRemoteConfig(cmd)
	if err != nil {
		return err
	}
	defer cfgSync.Close()

	for _, a := range assignments {
		if err := cfgSync.UpdateField(a.path, a.value, a.index); err != nil {
			var verr *model.ValidationError
			if errors.As(err, &verr) {
				return fmt.Errorf("%s: %w", a.path, err)
			}
			return err
		}
	}

	notice, err := cfgSync.Save(cmd.Context())
	if notice.Text != "" {
		logErrln(notice.Text)
	}
	return err
}

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show classifier metrics across k",
		Args:  cobra.NoArgs,
		RunE:  runMetricsCmd,
	}
	cmd.Flags().IntVar(&metricsWidth, "plot-width", 0, "plot width in cells (default: terminal width)")
	cmd.Flags().IntVar(&metricsHeight, "plot-height", 0, "plot height in rows")
	cmd.Flags().BoolVar(&metricsColor, "color", false, "force colored output")
	return cmd
}

func runMetricsCmd(cmd *cobra.Command, _ []string) error {
	settings, err := setupCLI(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := logging.Get()
	c := newClient(settings)

	view := metrics.NewView(c, logger)
	if err := view.Refresh(ctx); err != nil {
		if _, hasInfo := view.Info(); !hasInfo && !view.Loaded() {
			return fmt.Errorf("failed to load metrics: %w", err)
		}
		logger.Warn("metrics partially loaded", logging.Err(err))
	}

	cfgSync := configsync.New(c, configsync.Options{KPath: settings.KPath, Logger: logger})
	defer cfgSync.Close()
	if err := cfgSync.Fetch(ctx); err != nil {
		logger.Warn("active k unavailable", logging.Err(err))
	}
	activeK, hasActive := cfgSync.ActiveK()

	curve := view.Curve()
	info, hasInfo := view.Info()
	out := cmd.OutOrStdout()
	lines := []string{metrics.InfoLine(info, hasInfo), metrics.Summary(curve, activeK, hasActive)}
	if best, ok := metrics.Best(curve); ok {
		lines = append(lines, fmt.Sprintf("Best f1: k=%d (%s)", best.K, metrics.Percent(best.F1)))
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if len(curve) == 0 {
		logErrln("No evaluation points available.")
		return nil
	}
	if err := metrics.PlotCurve(out, curve, metricsWidth, metricsHeight, metricsColor); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if _, err := fmt.Fprintln(out); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	for _, line := range metrics.FormatTable(curve, activeK, hasActive) {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}
