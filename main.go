// Command lokitd syncs and batch-translates gettext catalogs.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/minios-linux/lokitd/bulk"
	"github.com/minios-linux/lokitd/config"
	"github.com/minios-linux/lokitd/diff"
	"github.com/minios-linux/lokitd/engine"
	"github.com/minios-linux/lokitd/i18n"
	"github.com/minios-linux/lokitd/logger"
	"github.com/minios-linux/lokitd/merge"
	po "github.com/minios-linux/lokitd/pofile"
	"github.com/minios-linux/lokitd/remote"
	"github.com/minios-linux/lokitd/server"
	"github.com/minios-linux/lokitd/settings"
	"github.com/minios-linux/lokitd/store"
	"github.com/minios-linux/lokitd/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global state
// ---------------------------------------------------------------------------

var (
	configPath string
	cfg        *config.Config
)

// app holds the components built from cfg for one command run.
type app struct {
	store    *store.Store
	jobs     *bulk.Orchestrator
	registry *translate.Registry
	engine   *engine.Engine
}

func (a *app) Close() { a.jobs.Close() }

// defaultKeyEnv names the conventional key variable of each built-in provider.
var defaultKeyEnv = map[string]string{
	translate.ProviderOpenAI:    "OPENAI_API_KEY",
	translate.ProviderGoogle:    "GOOGLE_API_KEY",
	translate.ProviderGroq:      "GROQ_API_KEY",
	translate.ProviderAnthropic: "ANTHROPIC_API_KEY",
}

func keyEnv(c *config.Config, providerID string) string {
	if p, ok := c.Providers[providerID]; ok && p.APIKeyEnv != "" {
		return p.APIKeyEnv
	}
	return defaultKeyEnv[providerID]
}

// providersFromConfig converts configured providers, filling the base URL
// of custom endpoints from the settings store.
func providersFromConfig(c *config.Config) map[string]translate.Provider {
	out := make(map[string]translate.Provider, len(c.Providers)+1)
	for id, p := range c.Providers {
		out[id] = translate.Provider{
			ID:      id,
			Name:    p.Name,
			API:     p.API,
			BaseURL: p.BaseURL,
			Model:   p.Model,
			Proxy:   p.Proxy,
			Timeout: p.Timeout,
		}
	}
	if p := out[translate.ProviderCustomOpenAI]; p.BaseURL == "" {
		if u := settings.GetBaseURL(translate.ProviderCustomOpenAI); u != "" {
			p.ID = translate.ProviderCustomOpenAI
			p.BaseURL = u
			out[translate.ProviderCustomOpenAI] = p
		}
	}
	return out
}

// targetsFromConfig expands configured apps into bulk targets.
func targetsFromConfig(c *config.Config) []bulk.Target {
	var out []bulk.Target
	for _, al := range c.AppLocales() {
		out = append(out, bulk.Target{App: al.App, Locale: al.Locale, FileID: al.FileID()})
	}
	return out
}

func newApp(c *config.Config) (*app, error) {
	st, err := store.New(c.Store.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", c.Store.Dir, err)
	}
	reg := translate.NewRegistry(providersFromConfig(c), translate.RegistryOptions{
		Key:          func(id string) string { return settings.ResolveAPIKey(id, keyEnv(c, id)) },
		MaxRetries:   c.Translate.MaxRetries,
		SystemPrompt: c.Translate.Prompt,
	})
	orch := translate.NewOrchestrator(reg, st, translate.Options{
		BatchSize: c.Translate.BatchSize,
		Timeout:   c.Translate.Timeout,
		Language:  c.Translate.Language,
	})
	jobs := bulk.New(bulk.Options{
		TargetTimeout: c.Jobs.TargetTimeout,
		Retention:     c.Jobs.Retention,
		SweepInterval: c.Jobs.SweepInterval,
	})
	eng := engine.New(st, remote.NewDir(c.Remote.Dir), orch, jobs, engine.Options{
		DefaultRef:  c.Remote.DefaultRef,
		GenerateDir: c.Generate.OutputDir,
		Targets:     targetsFromConfig(c),
		Provider:    c.Translate.Provider,
		Model:       c.Translate.Model,
		BatchSize:   c.Translate.BatchSize,
		Language:    c.Translate.Language,
	})
	return &app{store: st, jobs: jobs, registry: reg, engine: eng}, nil
}

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lokitd",
		Short: i18n.T("Translation sync and batch processing for gettext catalogs"),
		Long: `lokitd: translation sync and batch processing for gettext catalogs.

Keeps a local working copy of PO files in sync with a remote repository,
translates entries in batches through AI providers, and runs bulk
translate/generate jobs that clients poll over HTTP.

Commands:
  serve       Serve the JSON API
  diff        Preview a sync against the remote
  sync        Merge remote changes (or a POT template) into a local file
  translate   Translate untranslated entries of a file
  status      Show files and translation statistics
  jobs        Run a bulk job in the foreground
  providers   List translation providers
  auth        Manage provider API keys`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = c
			logger.Init(logger.Options{
				Level:   cfg.Log.Level,
				Format:  cfg.Log.Format,
				Service: "lokitd",
				Writer:  os.Stderr,
			})
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./lokitd.yaml if present)")

	root.AddCommand(
		newServeCmd(),
		newDiffCmd(),
		newSyncCmd(),
		newTranslateCmd(),
		newStatusCmd(),
		newJobsCmd(),
		newProvidersCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: i18n.T("Show version information"),
		// Runs without a config file.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lokitd version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: i18n.T("Serve the JSON API"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				cfg.Listen = listen
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()
			logInfo(i18n.T("Listening on %s (store: %s)"), cfg.Listen, cfg.Store.Dir)
			return server.New(a.engine, cfg.Listen, server.WithCORS(cfg.CORSOrigins...)).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	return cmd
}

// ---------------------------------------------------------------------------
// diff
// ---------------------------------------------------------------------------

func newDiffCmd() *cobra.Command {
	var (
		ref    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "diff <file-id>",
		Short: i18n.T("Preview a sync against the remote"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.engine.PreviewSync(cmd.Context(), ref, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(d)
			}
			printDiff(args[0], d)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "Remote ref (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the diff as JSON")
	return cmd
}

func printDiff(fileID string, d *diff.Result) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorBlue, fileID, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintf(os.Stderr, "  %-10s %d\n", i18n.T("added"), len(d.Added))
	fmt.Fprintf(os.Stderr, "  %-10s %d\n", i18n.T("updated"), len(d.Updated))
	fmt.Fprintf(os.Stderr, "  %-10s %d\n", i18n.T("unchanged"), len(d.Unchanged))
	fmt.Fprintf(os.Stderr, "  remote %d/%d translated, local %d/%d translated\n",
		d.Remote.Translated, d.Remote.Entries, d.Local.Translated, d.Local.Entries)

	for _, m := range d.Added {
		fmt.Fprintf(os.Stderr, "  %s+%s %s\n", colorGreen, colorReset, truncate(m.Source, 60))
	}
	for _, m := range d.Updated {
		fmt.Fprintf(os.Stderr, "  %s~%s %s: %q → %q\n", colorYellow, colorReset,
			truncate(m.Source, 40), truncate(m.LocalTarget, 30), truncate(m.RemoteTarget, 30))
	}
	if !d.Changed() {
		logSuccess("%s", i18n.T("Local copy is up to date"))
	}
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", `\n`))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

// ---------------------------------------------------------------------------
// sync
// ---------------------------------------------------------------------------

func newSyncCmd() *cobra.Command {
	var (
		ref       string
		overwrite bool
		push      bool
		template  string
	)
	cmd := &cobra.Command{
		Use:   "sync <file-id>",
		Short: i18n.T("Merge remote changes into a local file"),
		Long: `Merge the remote copy of a file into the local working copy.

Without --overwrite, differing remote translations are only reported.
With --push, the merged file is written back to the remote ref.
With --template, the local file is refreshed from a POT template instead
(new strings added, removed strings marked obsolete).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if template != "" {
				return syncTemplate(a.store, args[0], template)
			}
			res, err := a.engine.ApplySync(cmd.Context(), ref, args[0], merge.Policy{
				OverwriteLocalWithRemote: overwrite,
				PushResultUpstream:       push,
			})
			if err != nil {
				return err
			}
			logSuccess(i18n.N("%d remote translation applied", "%d remote translations applied", len(res.Applied)), len(res.Applied))
			if n := len(res.Available); n > 0 {
				logInfo(i18n.N("%d remote change not applied (use --overwrite)", "%d remote changes not applied (use --overwrite)", n), n)
			}
			if res.Pushed {
				logSuccess("%s", i18n.T("Pushed merged file to the remote"))
			}
			if res.Error != "" {
				logWarning("%s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "Remote ref (default from config)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Apply remote translations over local ones")
	cmd.Flags().BoolVar(&push, "push", false, "Write the merged file back to the remote")
	cmd.Flags().StringVar(&template, "template", "", "Refresh from a POT template instead of the remote")
	return cmd
}

// syncTemplate refreshes a local file from a POT template the way msgmerge does.
func syncTemplate(st *store.Store, fileID, potPath string) error {
	pot, err := po.ParseFile(potPath)
	if err != nil {
		return fmt.Errorf("reading template: %w", err)
	}
	path, err := st.Path(fileID)
	if err != nil {
		return err
	}
	cur, err := po.ParseFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", fileID, err)
	}
	before := len(cur.Live())
	merged := merge.Template(cur, pot)
	if err := merged.WriteFile(path); err != nil {
		return fmt.Errorf("writing %s: %w", fileID, err)
	}
	logSuccess(i18n.T("Updated %s from template: %d → %d entries"), fileID, before, len(merged.Live()))
	return nil
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		provider  string
		model     string
		lang      string
		batchSize int
		timeout   time.Duration
		dryRun    bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "translate <file-id>",
		Short: i18n.T("Translate untranslated entries of a file"),
		Long: `Translate every untranslated entry of a local file in batches and save
the results.

Examples:
  lokitd translate shop/th --provider openai --model gpt-4o-mini
  lokitd translate shop/de --provider ollama --model qwen2.5 --batch-size 10
  lokitd translate shop/ja --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signalContext()
			defer stop()

			fileID := args[0]
			set, err := a.store.Load(ctx, fileID)
			if err != nil {
				return err
			}
			var ids []string
			for _, e := range set.Entries {
				if !e.IsTranslated() && e.SourceText != "" {
					ids = append(ids, e.ID())
				}
			}
			if len(ids) == 0 {
				logSuccess(i18n.T("Nothing to translate in %s"), fileID)
				return nil
			}
			if dryRun {
				logInfo(i18n.N("%d entry would be translated", "%d entries would be translated", len(ids)), len(ids))
				return nil
			}

			res, err := a.engine.TranslateBatch(ctx, translate.Request{
				FileID:      fileID,
				EntryIDs:    ids,
				Provider:    provider,
				Model:       model,
				BatchSize:   batchSize,
				Language:    lang,
				AutoPersist: true,
				Timeout:     timeout,
				OnBatch: func(done, total int) {
					logInfo(i18n.T("Batch %d/%d done"), done, total)
				},
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(res)
			}
			printTranslateResult(res)
			if res.PersistError != "" {
				return fmt.Errorf("%s", res.PersistError)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "AI provider: openai, google, groq, anthropic, ollama, custom-openai")
	cmd.Flags().StringVar(&model, "model", "", "Model name (default from config or provider)")
	cmd.Flags().StringVar(&lang, "lang", "", "Target language (default: file's Language header)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Entries per API request (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-batch timeout (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be translated without calling AI")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		ids := make([]string, 0, len(translate.DefaultProviders()))
		for id, p := range translate.DefaultProviders() {
			ids = append(ids, id+"\t"+p.Name)
		}
		sort.Strings(ids)
		return ids, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func printTranslateResult(res *translate.Result) {
	logSuccess(i18n.T("Translated %d of %d entries (%d skipped, %d failed)"),
		res.TranslatedCount, res.TotalRows, res.SkippedCount, res.FailedCount)
	for _, b := range res.Batches {
		if b.Error != "" {
			logWarning(i18n.T("Batch %d failed: %s"), b.Index+1, b.Error)
		}
	}
	if res.Persisted {
		logSuccess("%s", i18n.T("Saved"))
	}
}

// ---------------------------------------------------------------------------
// status
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: i18n.T("Show files and translation statistics"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			files, err := a.engine.ListFiles(cmd.Context())
			if err != nil {
				return err
			}
			showStatsTable(files)

			have := make(map[string]bool, len(files))
			for _, f := range files {
				have[f.ID] = true
			}
			for _, al := range cfg.AppLocales() {
				if !have[al.FileID()] {
					logWarning(i18n.T("Configured catalog %s is missing"), al.FileID())
				}
			}
			return nil
		},
	}
}

func showStatsTable(files []store.FileInfo) {
	if len(files) == 0 {
		logInfo(i18n.T("No PO files in %s"), cfg.Store.Dir)
		return
	}
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorBlue, i18n.T("Translation Statistics"), colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintf(os.Stderr, "%-20s %-12s %-10s %s\n", "File", "Translated", "Untrans.", "Progress")
	for _, f := range files {
		fmt.Fprintf(os.Stderr, "%-20s %-12d %-10d %s\n",
			truncate(f.ID, 20), f.Stats.Translated, f.Stats.Untranslated, progressBar(int(f.Stats.Percentage), 20))
	}
	fmt.Fprintln(os.Stderr)
}

// progressBar renders percent as a colored bar of width cells.
func progressBar(percent, width int) string {
	percent = max(0, min(percent, 100))
	filled := percent * width / 100
	color := colorRed
	switch {
	case percent >= 100:
		color = colorGreen
	case percent >= 50:
		color = colorYellow
	}
	return color + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + colorReset + fmt.Sprintf(" %3d%%", percent)
}

// ---------------------------------------------------------------------------
// jobs
// ---------------------------------------------------------------------------

func newJobsCmd() *cobra.Command {
	var (
		kind     string
		targets  []string
		provider string
		model    string
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: i18n.T("Run a bulk job in the foreground"),
		Long: `Run a bulk translate or generate job and follow its progress.

Targets are app/locale pairs; without --target every configured app and
language is processed.

Examples:
  lokitd jobs --kind generate
  lokitd jobs --kind translate --target shop/th --target shop/de --provider groq`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signalContext()
			defer stop()

			ts, err := parseTargets(targets)
			if err != nil {
				return err
			}
			id, err := a.engine.StartBulkJob(ctx, ts, engine.BulkOptions{Kind: kind, Provider: provider, Model: model})
			if err != nil {
				return err
			}
			job, err := followJob(ctx, a.engine, id)
			if err != nil {
				return err
			}
			return reportJob(job)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", engine.KindGenerate, "Job kind: translate or generate")
	cmd.Flags().StringArrayVar(&targets, "target", nil, "Target as app/locale (repeatable)")
	cmd.Flags().StringVar(&provider, "provider", "", "AI provider for translate jobs")
	cmd.Flags().StringVar(&model, "model", "", "Model for translate jobs")
	return cmd
}

func parseTargets(args []string) ([]bulk.Target, error) {
	out := make([]bulk.Target, 0, len(args))
	for _, a := range args {
		i := strings.LastIndex(a, "/")
		if i <= 0 || i == len(a)-1 {
			return nil, fmt.Errorf("invalid target %q (want app/locale)", a)
		}
		out = append(out, bulk.Target{App: a[:i], Locale: a[i+1:], FileID: a})
	}
	return out, nil
}

// jobFollower is the engine surface followJob needs.
type jobFollower interface {
	GetBulkJobStatus(id string, ack bool) (bulk.Job, error)
	CancelBulkJob(id string) error
}

var pollInterval = 500 * time.Millisecond

// followJob polls a job until it is terminal, cancelling it on interrupt.
func followJob(ctx context.Context, eng jobFollower, id string) (bulk.Job, error) {
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	done := ctx.Done()
	last := -1
	for {
		job, err := eng.GetBulkJobStatus(id, false)
		if err != nil {
			return bulk.Job{}, err
		}
		if job.ProcessedCount != last && job.TotalCount > 0 {
			last = job.ProcessedCount
			fmt.Fprintf(os.Stderr, "\r%s %d/%d %s", progressBar(int(job.Progress), 30), job.ProcessedCount, job.TotalCount, job.CurrentTarget)
		}
		if job.Status.Terminal() {
			fmt.Fprintln(os.Stderr)
			_, _ = eng.GetBulkJobStatus(id, true)
			return job, nil
		}
		select {
		case <-done:
			// Closed for good; the ticker paces polls until the in-flight target ends.
			done = nil
			fmt.Fprintln(os.Stderr)
			logWarning("%s", i18n.T("Cancelling after the current target..."))
			_ = eng.CancelBulkJob(id)
		case <-tick.C:
		}
	}
}

func reportJob(job bulk.Job) error {
	for _, r := range job.Results {
		switch {
		case r.Success:
			logSuccess("%s: %d", r.TargetID, r.EntriesCount)
		case r.Skipped:
			logWarning("%s: %s", r.TargetID, r.Error)
		default:
			logError("%s: %s", r.TargetID, r.Error)
		}
	}
	for _, l := range job.ErrorLog {
		logError("%s", l)
	}
	switch job.Status {
	case bulk.StatusFailed:
		return fmt.Errorf("job %s failed", job.ID)
	case bulk.StatusCancelled:
		return fmt.Errorf("job %s cancelled", job.ID)
	}
	if n := job.Failed(); n > 0 {
		return fmt.Errorf("%d of %d targets failed", n, job.TotalCount)
	}
	return nil
}

// ---------------------------------------------------------------------------
// providers
// ---------------------------------------------------------------------------

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: i18n.T("List translation providers"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range a.registry.IDs() {
				p, _ := a.registry.Provider(id)
				key := settings.ResolveAPIKey(id, keyEnv(cfg, id))
				state := colorRed + i18n.T("no key") + colorReset
				switch {
				case key != "":
					state = colorGreen + settings.MaskKey(key) + colorReset
				case id == translate.ProviderOllama:
					state = i18n.T("local")
				}
				mark := " "
				if id == cfg.Translate.Provider {
					mark = "*"
				}
				fmt.Fprintf(os.Stderr, "%s %-14s %-10s %-24s %s\n", mark, id, p.API, p.Model, state)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: i18n.T("Manage provider API keys"),
		Long: fmt.Sprintf(`Store, list and remove provider API keys.

Keys are stored in %s.
LOKITD_API_KEY and the provider's api_key_env override stored keys.`, settings.FilePath()),
		// Keys are managed without a config file.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	}
	cmd.AddCommand(newAuthSetCmd(), newAuthListCmd(), newAuthRemoveCmd())
	return cmd
}

func newAuthSetCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "set <provider>",
		Short: i18n.T("Store an API key (read from stdin)"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if existing := settings.GetAPIKey(id); existing != "" {
				fmt.Fprintf(os.Stderr, "  Current key: %s%s%s\n", colorYellow, settings.MaskKey(existing), colorReset)
			}
			fmt.Fprintf(os.Stderr, "  Enter API key: ")
			key, err := readLine(os.Stdin)
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("no API key provided")
			}
			if err := settings.SetAPIKey(id, key, baseURL); err != nil {
				return fmt.Errorf("saving API key: %w", err)
			}
			logSuccess(i18n.T("API key for %s saved"), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Endpoint URL (custom-openai)")
	return cmd
}

func readLine(f *os.File) (string, error) {
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no input received")
	}
	return strings.TrimSpace(sc.Text()), nil
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: i18n.T("List stored API keys"),
		Run: func(cmd *cobra.Command, args []string) {
			keys := settings.Load()
			if len(keys) == 0 {
				logInfo("%s", i18n.T("No stored keys"))
				return
			}
			ids := make([]string, 0, len(keys))
			for id := range keys {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				k := keys[id]
				line := fmt.Sprintf("  %-14s %s", id, settings.MaskKey(k.Key))
				if k.BaseURL != "" {
					line += "  " + k.BaseURL
				}
				fmt.Fprintln(os.Stderr, line)
			}
		},
	}
}

func newAuthRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <provider>",
		Short: i18n.T("Remove a stored API key"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := settings.Remove(args[0]); err != nil {
				return err
			}
			logSuccess(i18n.T("API key for %s removed"), args[0])
			return nil
		},
	}
}
