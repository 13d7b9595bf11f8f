package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dalog/dalog/internal/config"
	"github.com/dalog/dalog/internal/engine"
	"github.com/dalog/dalog/internal/pattern"
	"github.com/dalog/dalog/internal/render"
	"github.com/dalog/dalog/internal/security"
	"github.com/dalog/dalog/internal/source"
	"github.com/dalog/dalog/internal/sshpool"
	"github.com/dalog/dalog/internal/ui"
	"github.com/dalog/dalog/internal/watch"
	"github.com/dalog/dalog/pkg/logformat"
)

var (
	flagConfig      string
	flagTail        int
	flagExclude     []string
	flagExcludeRe   []string
	flagAllowedRoot string
	flagNoLevels    bool
	flagSyntax      bool
	flagAcceptNew   bool
	flagLogFile     string
)

func main() {
	root := &cobra.Command{
		Use:   "dalog <file | user@host:/path | ssh://user@host:port/path>",
		Short: "Terminal log viewer with live reload, exclusions and remote sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0])
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.Flags().StringVar(&flagConfig, "config", "", "config file (default "+config.GetConfigPath()+")")
	root.Flags().IntVarP(&flagTail, "tail", "n", 0, "initial lines to load")
	root.Flags().StringArrayVarP(&flagExclude, "exclude", "x", nil, "exclude lines containing text (repeatable)")
	root.Flags().StringArrayVar(&flagExcludeRe, "exclude-regex", nil, "exclude lines matching regex (repeatable)")
	root.Flags().StringVar(&flagAllowedRoot, "allowed-root", "", "confine local files to this directory")
	root.Flags().BoolVar(&flagNoLevels, "no-level-styles", false, "disable built-in level highlighting")
	root.Flags().BoolVar(&flagSyntax, "syntax", false, "syntax-highlight lines with no rule match")
	root.Flags().BoolVar(&flagAcceptNew, "accept-new-host-keys", false, "record unknown SSH host keys in known_hosts")
	root.Flags().StringVar(&flagLogFile, "log-file", "", "write debug logs to this file")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, spec string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	eng := engine.New(engineConfig(cfg), log)
	defer eng.CloseAll()

	if err := registerRules(eng, cfg); err != nil {
		return err
	}

	handle, err := eng.Open(ctx, spec, engine.Options{MaxTailLines: cfg.Display.TailLines})
	if err != nil {
		return err
	}

	model := ui.NewModel(eng, handle, newRenderer(cfg, spec), cfg.Display.ShowLineNumbers)
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFrom(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if flagTail > 0 {
		cfg.Display.TailLines = flagTail
	}
	if flagAllowedRoot != "" {
		cfg.Security.AllowedRoot = flagAllowedRoot
	}
	if flagAcceptNew {
		cfg.SSH.AcceptNewHostKeys = true
	}
	if flagNoLevels {
		cfg.Display.LevelStyles = false
	}
	if flagSyntax {
		cfg.Display.SyntaxFallback = true
	}
	for _, pat := range flagExclude {
		cfg.Exclusions = append(cfg.Exclusions, config.ExclusionConfig{Pattern: pat})
	}
	for _, pat := range flagExcludeRe {
		cfg.Exclusions = append(cfg.Exclusions, config.ExclusionConfig{Pattern: pat, Regex: true})
	}
	return cfg, nil
}

// newLogger writes to a file when asked and stays silent otherwise; the
// terminal belongs to the viewer.
func newLogger() (zerolog.Logger, func(), error) {
	if flagLogFile == "" {
		return zerolog.Nop(), func() {}, nil
	}
	f, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("open log file: %w", err)
	}
	log := zerolog.New(f).With().Timestamp().Logger()
	return log, func() { f.Close() }, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	policy := sshpool.RejectUnknown
	if cfg.SSH.AcceptNewHostKeys {
		policy = sshpool.AcceptNew
	}
	return engine.Config{
		Security: security.PathConfig{
			AllowedRoot: cfg.Security.AllowedRoot,
			MaxFileSize: cfg.Security.MaxFileSizeMB * 1024 * 1024,
		},
		Remote: source.RemoteOptions{
			CommandTimeout: secs(cfg.SSH.CommandTimeoutSeconds),
		},
		Poll: watch.PollConfig{
			BaseInterval:   cfg.Polling.BaseInterval(),
			MaxInterval:    cfg.Polling.MaxInterval(),
			ErrorThreshold: cfg.Polling.ErrorThreshold,
		},
		SSH: sshpool.Options{
			KnownHostsPath: cfg.SSH.KnownHostsPath,
			Policy:         policy,
			ConnectTimeout: secs(cfg.SSH.ConnectTimeoutSeconds),
			IdleTimeout:    secs(cfg.SSH.IdleTimeoutSeconds),
			MaxIdle:        cfg.SSH.MaxIdleConnections,
		},
		MaxTailLines: cfg.Display.TailLines,
		Debounce:     cfg.Polling.Debounce(),
	}
}

func registerRules(eng *engine.Engine, cfg *config.Config) error {
	if cfg.Display.LevelStyles {
		for _, rule := range logformat.DefaultRules(logformat.DefaultColors()) {
			if err := eng.AddStyle(rule.Name, rule.Pattern, rule.Attrs); err != nil {
				return err
			}
		}
		ts := logformat.TimestampRule()
		if err := eng.AddStyle(ts.Name, ts.Pattern, ts.Attrs); err != nil {
			return err
		}
	}

	for _, sc := range cfg.Styles {
		attrs := pattern.Attrs{
			Foreground: sc.Foreground,
			Background: sc.Background,
			Bold:       sc.Bold,
			Underline:  sc.Underline,
			Italic:     sc.Italic,
		}
		if err := eng.AddStyle(sc.Name, sc.Pattern, attrs); err != nil {
			return fmt.Errorf("style %q: %w", sc.Name, err)
		}
	}

	for _, ec := range cfg.Exclusions {
		if err := eng.AddExclusion(ec.Pattern, ec.Regex, ec.CaseSensitive); err != nil {
			return fmt.Errorf("exclusion %q: %w", ec.Pattern, err)
		}
	}
	return nil
}

func newRenderer(cfg *config.Config, spec string) render.Renderer {
	if cfg.Display.SyntaxFallback {
		return render.NewSyntaxRenderer(spec)
	}
	return render.NewSpanRenderer()
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
