package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"glassy-go/internal/app"
	"glassy-go/internal/config"
	"glassy-go/internal/glassy"
	"glassy-go/internal/model"
	"glassy-go/internal/remote"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a GlassyApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Scan", "Pull").
func newApp(cmd *cobra.Command, operation string) (*app.GlassyApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewGlassyApp(cfg, operation, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

func parsePID(arg string) (int64, error) {
	pid, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid project id: %q", arg)
	}
	return pid, nil
}

// resolveToken returns the bearer token from --token, $GLASSY_TOKEN or an
// interactive prompt, in that order. No terminal and no token means none.
func resolveToken(cmd *cobra.Command) (string, error) {
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		return token, nil
	}
	if token := os.Getenv("GLASSY_TOKEN"); token != "" {
		return token, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "Token: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// progressBar renders progress events on stderr when it is a terminal.
// The returned func finishes the bar.
func progressBar(description string) (glassy.ProgressFunc, func()) {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil, func() {}
	}

	var bar *progressbar.ProgressBar
	update := func(p glassy.Progress) {
		if bar == nil {
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetDescription(description),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Set(p.Done)
	}
	finish := func() {
		if bar != nil {
			bar.Finish()
		}
	}
	return update, finish
}

// interruptible returns a context cancelled on Ctrl-C.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func changeIndicator(c model.ChangeType) string {
	switch c {
	case model.Create:
		return "A"
	case model.Update:
		return "M"
	case model.Delete:
		return "D"
	}
	return " "
}

var rootCmd = &cobra.Command{
	Use:          "glassy",
	Short:        "Sync CAD project directories with a remote project store",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and local state",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		clientID := uuid.New().String()
		cfg := config.NewConfig(clientID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.InitState(cfg); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Client ID: %s\n", clientID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Client ID:     %s\n", cfg.ClientID)
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("Snapshot Dir:  %s\n", cfg.SnapshotDir)
		fmt.Printf("Database:      %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Cache Dir:     %s (encryption: %s)\n", cfg.Cache.Dir, cfg.Cache.Encryption.Type)
		fmt.Printf("Concurrency:   %d manifests, %d chunks\n", cfg.Transfer.ManifestConcurrency, cfg.Transfer.ChunkConcurrency)
		if len(cfg.Filesystem.Ignore) > 0 {
			fmt.Printf("Ignore:        %s\n", strings.Join(cfg.Filesystem.Ignore, ", "))
		}
		return nil
	},
}

// server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage servers",
}

var serverAddCmd = &cobra.Command{
	Use:   "add URL NAME LOCAL_DIR",
	Short: "Register a server and make it active",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "AddServer")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.AddServer(args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("Active server: %s\n", args[0])
		return nil
	},
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListServers")
		if err != nil {
			return err
		}
		defer a.Close()

		servers, err := a.Servers()
		if err != nil {
			return err
		}
		if len(servers) == 0 {
			fmt.Println("No servers registered.")
			return nil
		}
		for _, s := range servers {
			marker := " "
			if s.Active {
				marker = "*"
			}
			extra := ""
			if s.CacheSetting {
				extra += "  [cache]"
			}
			if s.DebugActive {
				extra += "  [debug " + s.DebugURL + "]"
			}
			fmt.Printf("%s %-20s  %s  %s%s\n", marker, s.Name, s.URL, s.LocalDir, extra)
		}
		return nil
	},
}

var serverUseCmd = &cobra.Command{
	Use:   "use URL",
	Short: "Make a registered server active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "UseServer")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.UseServer(args[0]); err != nil {
			return err
		}
		fmt.Printf("Active server: %s\n", args[0])
		return nil
	},
}

var serverCacheCmd = &cobra.Command{
	Use:       "cache on|off",
	Short:     "Keep or discard downloaded chunks for the active server",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch args[0] {
		case "on":
			enabled = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}

		a, err := newApp(cmd, "SetCacheSetting")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetCacheSetting(enabled); err != nil {
			return err
		}
		fmt.Printf("Cache %s\n", args[0])
		return nil
	},
}

var serverDebugCmd = &cobra.Command{
	Use:   "debug [URL]",
	Short: "Send requests of the active server to a debug endpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, _ := cmd.Flags().GetBool("off")

		a, err := newApp(cmd, "SetDebugOverride")
		if err != nil {
			return err
		}
		defer a.Close()

		debugURL := ""
		if len(args) > 0 {
			debugURL = args[0]
		}
		if err := a.SetDebugOverride(debugURL, !off); err != nil {
			return err
		}

		current, err := a.CurrentServerURL()
		if err != nil {
			return err
		}
		fmt.Printf("Requests go to %s\n", current)
		return nil
	},
}

// project command
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects of the active server",
}

var projectAddCmd = &cobra.Command{
	Use:   "add PID TITLE TEAM",
	Short: "Join a project",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}
		commit, _ := cmd.Flags().GetInt64("commit")

		a, err := newApp(cmd, "AddProject")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.AddProject(pid, args[1], args[2], commit); err != nil {
			return err
		}
		dir, err := a.ProjectDir(pid)
		if err != nil {
			return err
		}
		fmt.Printf("Project %d at %s\n", pid, dir)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListProjects")
		if err != nil {
			return err
		}
		defer a.Close()

		projects, err := a.Projects()
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("No projects joined.")
			return nil
		}
		for _, p := range projects {
			renamed := ""
			if p.RemoteTitle != "" && p.RemoteTitle != p.Title {
				renamed = fmt.Sprintf("  (renamed remotely to %q)", p.RemoteTitle)
			}
			fmt.Printf("%6d  %-20s  %-30s  commit %d%s\n", p.PID, p.TeamName, p.Title, p.BaseCommitID, renamed)
		}
		return nil
	},
}

var projectForgetCmd = &cobra.Command{
	Use:   "forget PID",
	Short: "Drop a project's sync state (files stay on disk)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "ForgetProject")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ForgetProject(pid); err != nil {
			return err
		}
		fmt.Printf("Forgot project %d\n", pid)
		return nil
	},
}

var projectAcceptRenameCmd = &cobra.Command{
	Use:   "accept-rename PID",
	Short: "Move a project directory to its remote title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "AcceptProjectRename")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.AcceptProjectRename(pid); err != nil {
			return err
		}
		dir, err := a.ProjectDir(pid)
		if err != nil {
			return err
		}
		fmt.Printf("Project %d at %s\n", pid, dir)
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan PID",
	Short: "Detect local changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}
		ignore, _ := cmd.Flags().GetStringSlice("ignore")

		a, err := newApp(cmd, "Scan")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Scan(pid, ignore)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		var total int64
		for _, f := range report.Fingerprint.Files {
			total += f.Size
		}
		fmt.Printf("%d file(s), %s\n", len(report.Fingerprint.Files), humanize.Bytes(uint64(total)))
		for _, r := range report.Pending {
			fmt.Printf("%s %s\n", changeIndicator(r.ChangeType), r.Path)
		}
		fmt.Printf("%d pending change(s)\n", len(report.Pending))
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status PID",
	Short: "View the sync state of every tracked file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "Status")
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.Status(pid)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No files tracked.")
			return nil
		}
		for _, r := range records {
			location := " "
			if !r.InFS {
				location = "R"
			}
			fmt.Printf("%s%s %8s  %s\n", changeIndicator(r.ChangeType), location, humanize.Bytes(uint64(r.Size)), r.Path)
		}
		return nil
	},
}

// pull command
var pullCmd = &cobra.Command{
	Use:   "pull PID",
	Short: "Download remote changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}
		requestsPath, _ := cmd.Flags().GetString("requests")

		f, err := os.Open(requestsPath)
		if err != nil {
			return fmt.Errorf("opening requests: %w", err)
		}
		requests, err := app.ReadDownloadRequests(f)
		f.Close()
		if err != nil {
			return err
		}

		token, err := resolveToken(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "Pull")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := interruptible()
		defer cancel()

		progress, finish := progressBar("downloading")
		result, err := a.Pull(ctx, pid, token, requests, progress)
		finish()
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}

		fmt.Printf("Downloaded %d file(s) (%d from cache), deleted %d\n", len(result.Downloaded), result.FromCache, len(result.Deleted))
		for _, p := range result.Conflicts {
			fmt.Printf("conflict  %s (local changes kept)\n", p)
		}
		for _, fail := range result.Failed {
			hint := ""
			if remote.IsRetryable(fail.Err) {
				hint = " (retryable)"
			}
			fmt.Printf("failed    %s: %v%s\n", fail.Path, fail.Err, hint)
		}
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d file(s) failed", len(result.Failed))
		}
		return nil
	},
}

// push command
var pushCmd = &cobra.Command{
	Use:   "push PID",
	Short: "Upload local changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}
		commit, _ := cmd.Flags().GetInt64("commit")
		if commit <= 0 {
			return fmt.Errorf("--commit is required")
		}

		token, err := resolveToken(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "Push")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := interruptible()
		defer cancel()

		progress, finish := progressBar("uploading")
		n, err := a.Push(ctx, pid, token, commit, progress)
		finish()
		if err != nil {
			return fmt.Errorf("push failed after %d file(s): %w", n, err)
		}

		fmt.Printf("Uploaded %d file(s) as commit %d\n", n, commit)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No sync operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// server subcommands
	serverCmd.AddCommand(serverAddCmd)
	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverUseCmd)
	serverCmd.AddCommand(serverCacheCmd)
	serverCmd.AddCommand(serverDebugCmd)
	serverDebugCmd.Flags().Bool("off", false, "Disable the debug endpoint")

	// project subcommands
	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectForgetCmd)
	projectCmd.AddCommand(projectAcceptRenameCmd)
	projectAddCmd.Flags().Int64("commit", 0, "Commit the local copy starts from")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringSlice("ignore", nil, "Relative path to carry over without rehashing (repeatable)")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pullCmd)
	pullCmd.Flags().String("requests", "", "JSON file listing the remote states to download")
	pullCmd.MarkFlagRequired("requests")
	pullCmd.Flags().String("token", "", "Bearer token (default $GLASSY_TOKEN)")
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().Int64("commit", 0, "Commit id the changes are uploaded under")
	pushCmd.MarkFlagRequired("commit")
	pushCmd.Flags().String("token", "", "Bearer token (default $GLASSY_TOKEN)")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
