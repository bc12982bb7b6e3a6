package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/config"
	"github.com/omochice/roomchat/internal/logger"
	"github.com/omochice/roomchat/internal/metrics"
	"github.com/omochice/roomchat/internal/session"
	wstransport "github.com/omochice/roomchat/internal/transport/ws"
	"github.com/omochice/roomchat/internal/ui"
	"github.com/omochice/roomchat/internal/ui/console"
	"github.com/omochice/roomchat/internal/ui/tui"
)

const (
	defaultTUILogFile = "roomchat.log"
	closeTimeout      = 3 * time.Second
)

type runOptions struct {
	configPath    string
	url           string
	name          string
	room          int64
	useTUI        bool
	showLog       bool
	logLevel      string
	logFile       string
	metricsListen string
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect and start chatting",
		Long: `Connect to the chat server and read commands from the terminal.

With --name the client connects right away, and with --room it
also joins that room once the connection is open. Type /help
inside the client for the list of commands.

Examples:
  roomchat run --name Alice
  roomchat run --name Alice --room 7 --tui
  roomchat run --config roomchat.yaml --metrics-listen 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cfg, opts.showLog)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVarP(&opts.url, "url", "u", config.DefaultURL, "WebSocket endpoint of the chat server")
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "Display name; connects on start when set")
	cmd.Flags().Int64VarP(&opts.room, "room", "r", 0, "Room to join after connecting")
	cmd.Flags().BoolVar(&opts.useTUI, "tui", false, "Full-screen terminal interface")
	cmd.Flags().BoolVar(&opts.showLog, "show-log", false, "Print the session log stream in console mode")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "Write logs to this file instead of stderr")
	cmd.Flags().StringVar(&opts.metricsListen, "metrics-listen", "", "Serve /metrics, /healthz and /status on this address")

	return cmd
}

// loadConfig reads the config file, if any, and applies the flags that
// were set explicitly.
func loadConfig(cmd *cobra.Command, opts runOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = opts.url
	}
	if flags.Changed("name") {
		cfg.Name = opts.name
	}
	if flags.Changed("room") {
		cfg.Room = opts.room
	}
	if flags.Changed("tui") && opts.useTUI {
		cfg.UI = config.UITUI
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}
	if flags.Changed("metrics-listen") {
		cfg.Metrics.Listen = opts.metricsListen
	}

	// Log lines on the terminal would tear up the screen.
	if cfg.UI == config.UITUI && cfg.Log.File == "" {
		cfg.Log.File = defaultTUILogFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// frontEnd is what runChat needs from the console and terminal UIs.
type frontEnd interface {
	session.Sink
	Println(line string)
}

func runChat(parent context.Context, cfg *config.Config, showLog bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, syncLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer syncLog()

	var (
		front frontEnd
		term  *tui.UI
		con   *console.Sink
	)
	if cfg.UI == config.UITUI {
		if term, err = tui.New(ctx); err != nil {
			return err
		}
		defer term.Close()
		front = term
	} else {
		con = console.New(os.Stdout, console.WithLogEntries(showLog))
		front = con
	}

	m := metrics.New()
	tr := wstransport.New(cfg.TransportSettings(), log)
	c := client.New(tr,
		client.WithLogger(log),
		client.WithIntentObserver(m),
		client.WithAutoJoin(cfg.Room),
		client.WithSessionOptions(
			session.WithSink(front),
			session.WithRecorder(m),
			session.WithGuard(cfg.Guard()),
			session.WithCodec(cfg.Codec()),
		),
	)
	c.Start()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := c.Close(closeCtx); cerr != nil {
			log.Warn("close did not complete", zap.Error(cerr))
		}
	}()

	if cfg.Metrics.Listen != "" {
		srv := metrics.NewServer(cfg.Metrics.Listen, metrics.Handler(m.Registry(), c.Snapshot), log)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()
	}

	d := ui.NewDispatcher(c, cfg.URL, cfg.Name, front.Println)
	if cfg.Name != "" {
		if err := d.Execute(ctx, "/connect"); err != nil {
			front.Println(ui.ErrorLine(err))
		}
	}

	log.Info("client started",
		zap.String("url", cfg.URL),
		zap.String("ui", cfg.UI),
		zap.String("client_id", c.Snapshot().ClientID),
	)

	if term != nil {
		go func() {
			<-ctx.Done()
			term.Quit()
		}()
		return term.Run(d)
	}
	return console.Run(ctx, os.Stdin, d, con)
}

func newLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	log, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to set up logging")
	}
	return log, func() {
		log.Sync()
		closeLog()
	}, nil
}
