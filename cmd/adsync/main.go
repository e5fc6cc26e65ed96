package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"adsync/internal/app"
	"adsync/internal/askdelphi"
	"adsync/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and completes it: defaults for any
// omitted sections, the base directory when the file leaves it unset, and
// the verbose flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = defaults["base_dir"]
		cfg.ApplyDefaults()
	}
	cfg.Verbose, _ = cmd.Flags().GetBool("verbose")
	return cfg, nil
}

// newApp reads the config and creates a SyncApp. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Download", "Upload").
func newApp(cmd *cobra.Command, operation, parameters string) (*app.SyncApp, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newAppWithConfig(cmd, cfg, operation, parameters)
}

func newAppWithConfig(cmd *cobra.Command, cfg *config.Config, operation, parameters string) (*app.SyncApp, error) {
	a, err := app.NewSyncApp(cmd.Context(), cfg, operation, parameters)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "adsync",
	Short: "Download and upload AskDelphi CMS content",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Set the [credentials] section (or ASKDELPHI_* environment variables) before first use.")
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
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("API Server:    %s\n", cfg.API.APIServer)
		fmt.Printf("Portal Server: %s\n", cfg.API.PortalServer)
		fmt.Printf("Tenant ID:     %s\n", cfg.Credentials.TenantID)
		fmt.Printf("Project ID:    %s\n", cfg.Credentials.ProjectID)
		fmt.Printf("ACL Entry ID:  %s\n", cfg.Credentials.ACLEntryID)
		return nil
	},
}

// auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange a portal code for API tokens",
	Long: "Runs the full authentication flow and stores the resulting tokens.\n" +
		"When no stored tokens work, a fresh portal code is read from the\n" +
		"ASKDELPHI_PORTAL_CODE environment variable, or prompted for when\n" +
		"running interactively.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if os.Getenv("ASKDELPHI_PORTAL_CODE") == "" {
			code, err := promptPortalCode()
			if err != nil {
				return err
			}
			cfg.Credentials.PortalCode = code
		}

		a, err := newAppWithConfig(cmd, cfg, "Login", "")
		if err != nil {
			return err
		}
		defer a.Close()

		expiry, err := a.Login(cmd.Context())
		if err != nil {
			a.Fail()
			return fmt.Errorf("login failed: %w", err)
		}

		fmt.Printf("Authenticated. API token valid until %s\n", expiry.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored token state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "AuthStatus", "")
		if err != nil {
			return err
		}
		defer a.Close()

		ts, err := a.AuthStatus()
		if err != nil {
			return err
		}
		if ts == nil {
			fmt.Println("No stored tokens. Run 'adsync auth login' with a portal code.")
			return nil
		}

		fmt.Printf("Publication URL: %s\n", ts.PublicationURL)
		if ts.APIToken == "" {
			fmt.Println("API token:       none (will be fetched on next use)")
		} else {
			fmt.Printf("API token:       expires %s\n", ts.APITokenExpiry.Format("2006-01-02 15:04:05 MST"))
		}
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Logout", "")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Logout(); err != nil {
			return fmt.Errorf("clearing tokens: %w", err)
		}
		fmt.Println("Stored tokens removed.")
		return nil
	},
}

// download command
var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download all project content into a snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		workers, _ := cmd.Flags().GetInt("workers")
		noParts, _ := cmd.Flags().GetBool("no-parts")
		topicTypes, _ := cmd.Flags().GetStringSlice("type")

		a, err := newApp(cmd, "Download", strings.Join(topicTypes, ","))
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Download(cmd.Context(), app.DownloadOptions{
			Output:       output,
			Workers:      workers,
			IncludeParts: !noParts,
			TopicTypeIDs: topicTypes,
		})
		if err != nil {
			a.Fail()
			return fmt.Errorf("download failed: %w", err)
		}

		fmt.Printf("Downloaded %d topic(s) to %s\n", result.TopicCount, result.Location)
		if result.ErrorCount > 0 {
			fmt.Printf("Warning: %d topic(s) could not be fully fetched (see _fetch_error fields)\n", result.ErrorCount)
		}
		return nil
	},
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload SNAPSHOT",
	Short: "Apply edited snapshot changes to the project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		original, _ := cmd.Flags().GetString("original")
		noBackup, _ := cmd.Flags().GetBool("no-backup")
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd, "Upload", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		opts := app.UploadOptions{
			SnapshotPath: args[0],
			OriginalPath: original,
			DryRun:       dryRun,
			NoBackup:     noBackup,
		}

		edited, changes, err := a.PlanUpload(cmd.Context(), opts)
		if err != nil {
			a.Fail()
			return err
		}

		printChanges(changes, edited)

		if !changes.HasChanges() {
			return nil
		}
		if dryRun {
			fmt.Println("\nDry run: no changes applied.")
			return nil
		}

		if !force && !confirm(fmt.Sprintf("Apply %d change(s)?", changes.TotalChanges())) {
			fmt.Println("Aborted.")
			return nil
		}

		result, err := a.ApplyUpload(cmd.Context(), edited, changes, opts)
		if err != nil {
			a.Fail()
			return fmt.Errorf("upload failed: %w", err)
		}

		printReport(result)
		if len(result.Report.Errors) > 0 {
			a.Fail()
			return fmt.Errorf("%d topic(s) failed to upload", len(result.Report.Errors))
		}
		return nil
	},
}

// snapshots command
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListSnapshots", "")
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.ListSnapshots(cmd.Context())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No snapshots stored.")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory", "")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.GetHistory(limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No sync runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt.Valid {
				duration = r.Duration().String()
			}
			fmt.Printf("#%d  %-12s  %s  %-8s  topics:%d errors:%d  %s\n",
				r.ID,
				r.Operation,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Status,
				r.TopicCount,
				r.ErrorCount,
				duration,
			)
		}
		return nil
	},
}

// printChanges renders a change report, using the edited snapshot for titles.
func printChanges(changes *askdelphi.ChangeReport, edited *askdelphi.Snapshot) {
	if !changes.HasChanges() {
		fmt.Println("No changes detected.")
		return
	}

	for _, id := range changes.NewTopics {
		fmt.Printf("new       %s  %q\n", id, edited.Topics[id].Title)
	}
	for _, tc := range changes.ModifiedTopics {
		fmt.Printf("modified  %s  %q\n", tc.TopicID, tc.Title)
		if tc.TitleChanged {
			fmt.Printf("          title: %q -> %q\n", tc.OldTitle, tc.Title)
		}
		for _, pc := range tc.Parts {
			fmt.Printf("          part %s: %s (%s)\n", pc.Name, pc.Kind, pc.PartID)
		}
	}
	for _, id := range changes.DeletedTopics {
		fmt.Printf("deleted   %s  (deletion is not supported; topic kept remotely)\n", id)
	}
	fmt.Printf("\n%d new, %d modified, %d deleted, %d unchanged\n",
		len(changes.NewTopics), len(changes.ModifiedTopics),
		len(changes.DeletedTopics), len(changes.UnchangedTopics))
}

// printReport renders the outcome of a live upload.
func printReport(result *app.UploadResult) {
	r := result.Report
	if result.BackupName != "" {
		fmt.Printf("Pre-upload backup: %s\n", result.BackupName)
	}
	for _, t := range r.Created {
		fmt.Printf("created  %s  %q\n", t.TopicID, t.Title)
	}
	for _, t := range r.Updated {
		fmt.Printf("updated  %s  %q (%d part(s))\n", t.TopicID, t.Title, t.PartsUpdated)
	}
	for _, w := range r.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	for _, e := range r.Errors {
		fmt.Printf("FAILED   %s  %q: %v\n", e.TopicID, e.Title, e.Err)
	}
	fmt.Printf("\n%d created, %d updated, %d failed\n", len(r.Created), len(r.Updated), len(r.Errors))
}

// promptPortalCode reads a portal code from the terminal without echo.
// Non-interactive runs get an empty code and rely on cached tokens.
func promptPortalCode() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "Portal code (leave empty to use cached tokens): ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// confirm asks a yes/no question on stdin and defaults to no.
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// auth subcommands
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(authCmd)

	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringP("output", "o", "", "Write the snapshot to this file instead of the snapshot store")
	downloadCmd.Flags().IntP("workers", "w", 0, "Concurrent part fetches (default from config)")
	downloadCmd.Flags().Bool("no-parts", false, "Download topic metadata only, skip content parts")
	downloadCmd.Flags().StringSlice("type", nil, "Restrict to the given topic type ID (repeatable)")

	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().Bool("dry-run", false, "Show detected changes without applying them")
	uploadCmd.Flags().String("original", "", "Baseline snapshot file (default: latest stored export)")
	uploadCmd.Flags().Bool("no-backup", false, "Skip the pre-upload backup download")
	uploadCmd.Flags().Bool("force", false, "Apply changes without confirmation")

	rootCmd.AddCommand(snapshotsCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
}
