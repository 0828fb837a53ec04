// Package cli implements the batchedit command-line tool. Commands run
// in-process against the configured storage, or against a running API server
// when --server is given.
package cli

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/turtacn/plankton-batchedit/internal/config"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/client"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	Timeout      time.Duration
	ServerAddr   string
	APIKey       string
	Set          []string
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	Client       *client.Client
	OutputFormat string
	Verbose      bool
	Timeout      time.Duration

	local *localBackend
}

// Backend returns the remote backend when --server is set and the
// in-process runtime otherwise.
func (c *CLIContext) Backend() Backend {
	if c.Client != nil {
		return &remoteBackend{client: c.Client}
	}
	return c.localBackend()
}

func (c *CLIContext) localBackend() *localBackend {
	if c.local == nil {
		c.local = &localBackend{cfg: c.Config, logger: c.Logger}
	}
	return c.local
}

// close releases the in-process runtime, if one was opened.
func (c *CLIContext) close() error {
	if c.local == nil {
		return nil
	}
	return c.local.Close()
}

// NewRootCommand creates the root cobra command with all global flags and subcommands.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "batchedit",
		Short: "Batch editing for plankton survey datasets",
		Long: "batchedit applies free-text and JSON batch edits to plankton survey datasets.\n" +
			"Edits are previewed first and committed only when every action is resolved.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := persistentPreRun(cmd, opts)
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./config.yaml, ~/.batchedit/config.yaml)")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "text", "output format (text, json, yaml, table)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose output")
	pf.DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "global operation timeout")
	pf.StringVar(&opts.ServerAddr, "server", "", "API server address; commands run in-process when empty")
	pf.StringVar(&opts.APIKey, "api-key", "", "API key sent to --server")
	pf.StringArrayVar(&opts.Set, "set", nil, "override a config key, e.g. --set storage.driver=sqlite")

	cmd.AddCommand(
		newVersionCmd(),
		newDatasetCmd(),
		newEditCmd(),
		newSettingsCmd(),
		newAliasCmd(),
		newSnapshotCmd(),
		newAuditCmd(),
		newCacheCmd(),
		newMigrateCmd(),
	)
	return cmd
}

// persistentPreRun loads config, builds the logger and the optional API
// client, then stores the CLIContext on the command.
func persistentPreRun(cmd *cobra.Command, opts *RootOptions) (*CLIContext, error) {
	switch strings.ToLower(opts.OutputFormat) {
	case "text", "json", "yaml", "table":
	default:
		return nil, errors.InvalidParam("unsupported output format").WithDetail(opts.OutputFormat)
	}

	cfg, err := initConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("config initialization failed: %w", err)
	}

	logger, err := initLogger(opts)
	if err != nil {
		return nil, fmt.Errorf("logger initialization failed: %w", err)
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		OutputFormat: strings.ToLower(opts.OutputFormat),
		Verbose:      opts.Verbose,
		Timeout:      opts.Timeout,
	}
	if opts.ServerAddr != "" {
		c, err := client.NewClient(opts.ServerAddr,
			client.WithAPIKey(opts.APIKey),
			client.WithTimeout(opts.Timeout),
			client.WithUserAgent("batchedit-cli/"+Version),
		)
		if err != nil {
			return nil, err
		}
		cliCtx.Client = c
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
	return cliCtx, nil
}

// initConfig loads configuration with priority: --set > env > file > defaults.
func initConfig(opts *RootOptions) (*config.Config, error) {
	overrides, err := parseOverrides(opts.Set)
	if err != nil {
		return nil, err
	}
	loadOpts := []config.LoadOption{config.WithOverrides(overrides)}

	if opts.ConfigPath != "" {
		return config.Load(append(loadOpts, config.WithConfigPath(opts.ConfigPath))...)
	}

	searchPaths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".batchedit"))
	}
	searchPaths = append(searchPaths, "/etc/batchedit")

	cfg, err := config.Load(append(loadOpts, config.WithSearchPaths(searchPaths...))...)
	if stderrors.Is(err, config.ErrConfigFileNotFound) {
		return config.Load(loadOpts...)
	}
	return cfg, err
}

func parseOverrides(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errors.InvalidParam("--set expects key=value").WithDetail(p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// initLogger creates a logger configured for CLI usage (output to stderr).
func initLogger(opts *RootOptions) (logging.Logger, error) {
	level := strings.ToLower(opts.LogLevel)
	if opts.Verbose {
		level = "debug"
	}
	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// GetCLIContext extracts CLIContext from a cobra command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.InvalidParam("command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.InvalidParam("CLIContext not found in command context")
	}
	return cliCtx, nil
}

// commandContext returns the command context bounded by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if cliCtx, err := GetCLIContext(cmd); err == nil && cliCtx.Timeout > 0 {
		return context.WithTimeout(ctx, cliCtx.Timeout)
	}
	return context.WithCancel(ctx)
}

// Execute is the main entry point for the CLI application.
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// tableProvider is implemented by results with a tabular rendering.
type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult outputs data in the format specified by CLIContext.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return printJSON(cmd, data)
	}
	switch cliCtx.OutputFormat {
	case "json":
		return printJSON(cmd, data)
	case "yaml":
		return printYAML(cmd, data)
	case "table":
		return printTable(cmd, data)
	default:
		return printText(cmd, data)
	}
}

func printJSON(cmd *cobra.Command, data interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(data)
}

// printYAML renders data with its JSON field names. The JSON text is parsed
// as a YAML node tree so key order survives, then re-emitted in block style.
func printYAML(cmd *cobra.Command, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode result")
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to convert result")
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to write yaml")
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func printText(cmd *cobra.Command, data interface{}) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	case fmt.Stringer:
		fmt.Fprint(cmd.OutOrStdout(), v.String())
	case tableProvider:
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(v.TableHeaders(), v.TableRows()))
	default:
		return printJSON(cmd, data)
	}
	return nil
}

func printTable(cmd *cobra.Command, data interface{}) error {
	if tp, ok := data.(tableProvider); ok {
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(tp.TableHeaders(), tp.TableRows()))
		return nil
	}
	return printText(cmd, data)
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// PrintSuccess writes a formatted success message to stdout.
func PrintSuccess(cmd *cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %s\n", msg)
}

// FormatTable renders headers and rows as an aligned table. Widths count
// display columns, so CJK names line up.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	colWidths := make([]int, len(headers))
	for i, h := range headers {
		colWidths[i] = displayWidth(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(colWidths); i++ {
			if w := displayWidth(row[i]); w > colWidths[i] {
				colWidths[i] = w
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i := range headers {
			if i > 0 {
				sb.WriteString("  ")
			}
			val := ""
			if i < len(cells) {
				val = cells[i]
			}
			if i == len(headers)-1 {
				sb.WriteString(val)
				continue
			}
			sb.WriteString(padRight(val, colWidths[i]))
		}
		sb.WriteString("\n")
	}

	writeRow(headers)
	sep := make([]string, len(headers))
	for i, w := range colWidths {
		sep[i] = strings.Repeat("-", w)
	}
	writeRow(sep)
	for _, row := range rows {
		writeRow(row)
	}
	return sb.String()
}

// padRight pads s with spaces to the given display width.
func padRight(s string, width int) string {
	w := displayWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, versionInfo{Version: Version, Commit: GitCommit, BuildDate: BuildDate})
		},
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
}

func (v versionInfo) String() string {
	return fmt.Sprintf("batchedit %s (commit: %s, built: %s)\n", v.Version, v.Commit, v.BuildDate)
}
