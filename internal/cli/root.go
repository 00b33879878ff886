// Package cli implements the diagchat terminal client.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groexpert13/sheet/internal/chatclient"
	"github.com/groexpert13/sheet/internal/config"
	"github.com/groexpert13/sheet/internal/diagnostic"
	historysqlite "github.com/groexpert13/sheet/internal/history/sqlite"
	"github.com/groexpert13/sheet/internal/logging"
)

// Options are the persistent flags shared by every command. Empty values
// keep what the config files say.
type Options struct {
	Root       string
	RelayURL   string
	User       string
	Lang       string
	Diagnostic string
	History    string
	Verbose    bool

	// HTTPClient is used for relay calls when set; tests inject one.
	HTTPClient *http.Client
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&Options{})
}

func newRootCmd(opts *Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "diagchat",
		Short:         "diagchat - chat with the marketing diagnostic assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.Root, "root", ".", "directory holding config/ and .env")
	flags.StringVar(&opts.RelayURL, "relay", "", "relay endpoint (default from relay_url)")
	flags.StringVar(&opts.User, "user", "", "user identifier sent with each turn")
	flags.StringVar(&opts.Lang, "lang", "", "answer language: ru, en or uk")
	flags.StringVar(&opts.Diagnostic, "diagnostic", "", "diagnostic answers JSON file")
	flags.StringVar(&opts.History, "history", "", `chat history database, "-" disables it`)
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newChatCmd(opts),
		newAskCmd(opts),
		newHistoryCmd(opts),
		newResetCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command and reports errors on stderr.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// settings merges the config files with the command-line overrides.
func (o *Options) settings() (config.Config, error) {
	cfg, err := config.Load(o.Root)
	if err != nil {
		return config.Config{}, err
	}
	override := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	override(&cfg.RelayURL, o.RelayURL)
	override(&cfg.User, o.User)
	override(&cfg.DefaultLang, o.Lang)
	override(&cfg.DiagnosticPath, o.Diagnostic)
	override(&cfg.HistoryPath, o.History)
	return cfg, nil
}

func (o *Options) logger(stderr io.Writer) *logging.Logger {
	if !o.Verbose {
		return logging.Discard()
	}
	return logging.NewWriter(stderr, "[diagchat] ", logging.LevelDebug)
}

// session is an opened client plus whatever needs closing afterwards.
type session struct {
	cfg    config.Config
	client *chatclient.Client
	close  func()
}

func (o *Options) open(cmd *cobra.Command) (*session, error) {
	cfg, err := o.settings()
	if err != nil {
		return nil, err
	}
	logger := o.logger(cmd.ErrOrStderr())

	closeFn := func() {}
	ccfg := chatclient.Config{
		RelayURL:     cfg.RelayURL,
		HTTPClient:   o.HTTPClient,
		User:         cfg.User,
		Lang:         firstNonEmpty(cfg.DefaultLang, "ru"),
		Snapshot:     snapshotFrom(cfg.DiagnosticPath),
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
	}
	if path := strings.TrimSpace(cfg.HistoryPath); path != "" && path != "-" {
		store, err := historysqlite.New(path, cfg.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		ccfg.History = store
		closeFn = func() { _ = store.Close() }
	}

	client, err := chatclient.New(ccfg)
	if err != nil {
		closeFn()
		return nil, err
	}
	if err := client.Restore(cmd.Context()); err != nil {
		logger.Warnf("%v", err)
	}
	return &session{cfg: cfg, client: client, close: closeFn}, nil
}

// snapshotFrom re-reads the diagnostic file on every turn so edits made
// while chatting are picked up. Only the compacted projection is sent.
func snapshotFrom(path string) chatclient.SnapshotFunc {
	return func() (any, error) {
		raw, err := diagnostic.Load(path)
		if err != nil {
			return nil, err
		}
		return diagnostic.ProjectJSON(raw), nil
	}
}

// turn sends text and prints the answer as it streams.
func turn(ctx context.Context, c *chatclient.Client, out io.Writer, text string) error {
	var streamed bool
	msg, err := c.Send(ctx, text, func(chunk string) {
		streamed = true
		_, _ = io.WriteString(out, chunk)
	})
	if err != nil {
		return err
	}
	if !streamed {
		// Nothing arrived; show the fallback that replaced the empty answer.
		_, _ = io.WriteString(out, msg.Content)
	}
	_, err = fmt.Fprintln(out)
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
