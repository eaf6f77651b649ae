// Package main provides the CLI entrypoint for lprdesk.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/lprdesk/internal/capture"
	"github.com/verte-zerg/lprdesk/internal/client"
	"github.com/verte-zerg/lprdesk/internal/config"
	"github.com/verte-zerg/lprdesk/internal/configsync"
	"github.com/verte-zerg/lprdesk/internal/frame"
	"github.com/verte-zerg/lprdesk/internal/frame/video"
	"github.com/verte-zerg/lprdesk/internal/logging"
	"github.com/verte-zerg/lprdesk/internal/model"
	"github.com/verte-zerg/lprdesk/internal/session"
	"github.com/verte-zerg/lprdesk/internal/store"
	"github.com/verte-zerg/lprdesk/internal/tui"
)

const (
	defaultEngine   = store.EngineSQLite
	defaultLogLevel = "info"
)

var videoExts = map[string]struct{}{
	".mp4":  {},
	".avi":  {},
	".mov":  {},
	".mkv":  {},
	".webm": {},
}

var (
	serviceURL     string
	serviceTimeout time.Duration
	kPath          string
	storeEngine    string
	storePath      string
	captureWidth   int
	captureHeight  int
	timeFormat     string
	messageTTL     time.Duration
	logLevel       string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "lprdesk",
		Short:         "Terminal desk for a plate recognition service",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runSessionCmd,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serviceURL, "service-url", client.DefaultBaseURL, "recognition service base URL")
	flags.DurationVar(&serviceTimeout, "timeout", 0, "per-request timeout (0 disables)")
	flags.StringVar(&kPath, "k-path", configsync.DefaultKPath, "config path of the active k")
	flags.StringVar(&storeEngine, "store-engine", defaultEngine, "record store engine (sqlite or json)")
	flags.StringVar(&storePath, "store-path", "", "record store location (default: XDG data dir)")
	flags.IntVar(&captureWidth, "width", frame.DefaultWidth, "captured frame width")
	flags.IntVar(&captureHeight, "height", frame.DefaultHeight, "captured frame height")
	flags.StringVar(&timeFormat, "time-format", capture.DefaultTimeFormat, "record timestamp layout")
	flags.DurationVar(&messageTTL, "message-ttl", configsync.DefaultMessageTTL, "how long status messages stay visible")
	flags.StringVar(&logLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newRecordsCmd())
	rootCmd.AddCommand(newRecognizeCmd())
	rootCmd.AddCommand(newTrainCmd())
	rootCmd.AddCommand(newTrainingInfoCmd())
	rootCmd.AddCommand(newRemoteConfigCmd())
	rootCmd.AddCommand(newMetricsCmd())

	return rootCmd
}

func runSessionCmd(cmd *cobra.Command, _ []string) error {
	settings, err := resolveSettings(cmd)
	if err != nil {
		return err
	}

	logFile, err := logging.OpenFile(config.DefaultLogPath())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := logFile.Close(); cerr != nil {
			logErrf("failed to close log file: %v\n", cerr)
		}
	}()
	if _, err := logging.Setup(logFile, settings.LogLevel); err != nil {
		return err
	}

	slot, err := openSlot(settings)
	if err != nil {
		return err
	}
	defer closeSlot(slot)

	sess := session.New(slot, newClient(settings), settings)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := tui.NewModel(ctx, sess, tui.Options{
		OpenSource: func(path string) (frame.Source, error) {
			return openSource(path, settings.CaptureWidth, settings.CaptureHeight)
		},
		MessageTTL: settings.MessageTTL,
	})
	defer m.Close()
	program := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

// resolveSettings merges flags, environment, config file and defaults, in
// that order of precedence.
func resolveSettings(cmd *cobra.Command) (model.Settings, error) {
	cfgPath := config.DefaultConfigPath()
	if err := config.LoadDotEnv(".env", filepath.Join(filepath.Dir(cfgPath), ".env")); err != nil {
		return model.Settings{}, err
	}
	fileCfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return model.Settings{}, fmt.Errorf("failed to load config: %w", err)
	}

	applyStringConfig(cmd, "service-url", &serviceURL, fileCfg.Service.URL)
	applyDurationConfig(cmd, "timeout", &serviceTimeout, fileCfg.Service.Timeout)
	applyStringConfig(cmd, "k-path", &kPath, fileCfg.Service.KPath)
	applyStringConfig(cmd, "store-engine", &storeEngine, fileCfg.Store.Engine)
	applyStringConfig(cmd, "store-path", &storePath, fileCfg.Store.Path)
	applyIntConfig(cmd, "width", &captureWidth, fileCfg.Capture.Width)
	applyIntConfig(cmd, "height", &captureHeight, fileCfg.Capture.Height)
	applyStringConfig(cmd, "time-format", &timeFormat, fileCfg.Capture.TimeFormat)
	applyDurationConfig(cmd, "message-ttl", &messageTTL, fileCfg.UI.MessageTTL)
	applyStringConfig(cmd, "log-level", &logLevel, fileCfg.UI.LogLevel)

	applyStringEnv(cmd, "service-url", &serviceURL, config.EnvServiceURL)
	applyStringEnv(cmd, "store-engine", &storeEngine, config.EnvStoreEngine)
	applyStringEnv(cmd, "store-path", &storePath, config.EnvStorePath)
	applyStringEnv(cmd, "log-level", &logLevel, config.EnvLogLevel)
	if err := applyDurationEnv(cmd, "timeout", &serviceTimeout, config.EnvTimeout); err != nil {
		return model.Settings{}, err
	}

	settings := model.Settings{
		ServiceURL:     strings.TrimSpace(serviceURL),
		ServiceTimeout: serviceTimeout,
		StoreEngine:    strings.ToLower(strings.TrimSpace(storeEngine)),
		StorePath:      strings.TrimSpace(storePath),
		CaptureWidth:   captureWidth,
		CaptureHeight:  captureHeight,
		TimeFormat:     timeFormat,
		MessageTTL:     messageTTL,
		LogLevel:       logLevel,
		KPath:          strings.TrimSpace(kPath),
	}
	if settings.StorePath == "" {
		settings.StorePath = config.DefaultStorePath(settings.StoreEngine)
	}
	if err := validateSettings(settings); err != nil {
		return model.Settings{}, err
	}
	return settings, nil
}

func validateSettings(s model.Settings) error {
	if s.ServiceURL == "" {
		return fmt.Errorf("--service-url must not be empty")
	}
	if s.ServiceTimeout < 0 {
		return fmt.Errorf("--timeout must be >= 0")
	}
	if s.StoreEngine != store.EngineSQLite && s.StoreEngine != store.EngineJSON {
		return fmt.Errorf("--store-engine must be %q or %q", store.EngineSQLite, store.EngineJSON)
	}
	if s.CaptureWidth <= 0 || s.CaptureHeight <= 0 {
		return fmt.Errorf("--width and --height must be > 0")
	}
	if strings.TrimSpace(s.TimeFormat) == "" {
		return fmt.Errorf("--time-format must not be empty")
	}
	if s.MessageTTL <= 0 {
		return fmt.Errorf("--message-ttl must be > 0")
	}
	if s.KPath == "" {
		return fmt.Errorf("--k-path must not be empty")
	}
	if _, err := logging.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	return nil
}

// setupCLI resolves settings and routes logs to stderr for one-shot commands.
func setupCLI(cmd *cobra.Command) (model.Settings, error) {
	settings, err := resolveSettings(cmd)
	if err != nil {
		return model.Settings{}, err
	}
	if _, err := logging.Setup(os.Stderr, settings.LogLevel); err != nil {
		return model.Settings{}, err
	}
	return settings, nil
}

func newClient(s model.Settings) *client.Client {
	return client.New(client.Config{BaseURL: s.ServiceURL, Timeout: s.ServiceTimeout})
}

func openSlot(s model.Settings) (store.Slot, error) {
	slot, err := store.NewByEngine(s.StoreEngine, s.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	return slot, nil
}

func closeSlot(slot store.Slot) {
	if err := slot.Close(); err != nil {
		logErrf("failed to close record store: %v\n", err)
	}
}

func isVideo(path string) bool {
	_, ok := videoExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// openSource opens a video through OpenCV or a still image from disk.
func openSource(path string, width, height int) (frame.Source, error) {
	if isVideo(path) {
		src, err := video.Open(path, width, height)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	return frame.NewFileSource(path, width, height), nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
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

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyDurationConfig(cmd *cobra.Command, name string, target *time.Duration, value *config.Duration) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = value.Duration
}

func applyStringEnv(cmd *cobra.Command, name string, target *string, key string) {
	if cmd.Flags().Changed(name) {
		return
	}
	if v, ok := config.EnvString(key); ok {
		*target = v
	}
}

func applyDurationEnv(cmd *cobra.Command, name string, target *time.Duration, key string) error {
	if cmd.Flags().Changed(name) {
		return nil
	}
	d, ok, err := config.EnvDuration(key)
	if err != nil {
		return err
	}
	if ok {
		*target = d
	}
	return nil
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# lprdesk configuration
# Uncomment a value to enable it. Environment variables (%s, %s,
# %s, %s, %s) override the file, CLI flags override both.

[service]
# url = %q   # Recognition service base URL
# timeout = "30s"                    # Per-request timeout, unset means none
# k-path = %q                    # Config path holding the active k

[store]
# engine = %q                      # sqlite or json
# path = %q

[capture]
# width = %d                          # Captured frame width
# height = %d                         # Captured frame height
# time-format = %q   # Go time layout for record timestamps

[ui]
# message-ttl = %q                   # Status message lifetime
# log-level = %q                     # debug, info, warn, error
`,
		config.EnvServiceURL,
		config.EnvTimeout,
		config.EnvStoreEngine,
		config.EnvStorePath,
		config.EnvLogLevel,
		client.DefaultBaseURL,
		configsync.DefaultKPath,
		defaultEngine,
		config.DefaultStorePath(defaultEngine),
		frame.DefaultWidth,
		frame.DefaultHeight,
		capture.DefaultTimeFormat,
		configsync.DefaultMessageTTL.String(),
		defaultLogLevel,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
