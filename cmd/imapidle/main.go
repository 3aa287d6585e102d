// Command imapidle watches an IMAP mailbox and prints new messages.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/imapclient"
	"github.com/emersion/go-imap-idle/imapidle"
)

var (
	configPath string
	addr       string
	useTLS     bool
	username   string
	mailbox    string
	timeout    time.Duration
	wsListen   string
	readOnly   bool
	useUID     bool
	debug      bool
	verbose    bool
	list       bool
)

func main() {
	flag.StringVar(&configPath, "config", "", "YAML configuration file")
	flag.StringVar(&addr, "addr", "", "IMAP server address (host:port)")
	flag.BoolVar(&useTLS, "tls", false, "Use implicit TLS")
	flag.StringVar(&username, "username", "", "Username, the password is read from IMAP_PASSWORD")
	flag.StringVar(&mailbox, "mailbox", "", "Mailbox to watch")
	flag.DurationVar(&timeout, "timeout", 0, "Restart IDLE when nothing happens for this long")
	flag.StringVar(&wsListen, "ws", "", "Serve WebSocket notifications on this address")
	flag.BoolVar(&readOnly, "read-only", false, "Open the mailbox with EXAMINE")
	flag.BoolVar(&useUID, "uid", false, "Report UIDs instead of sequence numbers")
	flag.BoolVar(&debug, "debug", false, "Print all commands and responses")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
	flag.BoolVar(&list, "list", false, "List mailboxes and exit")
	flag.Parse()

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	cfg, err := Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	applyFlags(cfg)
	if password := os.Getenv("IMAP_PASSWORD"); password != "" {
		cfg.Server.Password = password
	}

	var debugWriter io.Writer
	if cfg.Server.Debug {
		debugWriter = os.Stderr
	}
	dialer := &imapclient.Dialer{
		Addr:     cfg.Server.Addr,
		TLS:      cfg.Server.TLS,
		Username: cfg.Server.Username,
		Password: cfg.Server.Password,
		ID:       map[string]string{"name": "imapidle"},
		Options: &imapclient.Options{
			DebugWriter: debugWriter,
			Logger:      &logger,
		},
	}

	if list {
		if err := listMailboxes(os.Stdout, dialer); err != nil {
			logger.Fatal().Err(err).Msg("failed to list mailboxes")
		}
		return
	}

	numKind := imap.NumKindSeq
	if cfg.Monitor.UID {
		numKind = imap.NumKindUID
	}
	// The primary connection holds the capabilities checked by each
	// monitoring session.
	primary, err := connectPrimary(dialer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}
	defer primary.Logout()

	w := imapidle.New(imapidle.NewDialerOwner(dialer, primary), &imapidle.Options{
		Logger:   &logger,
		NumKind:  numKind,
		ReadOnly: cfg.Monitor.ReadOnly,
		OnDispatchError: func(seqNum uint32, err error) {
			logger.Warn().Err(err).Uint32("seq", seqNum).Msg("message skipped")
		},
	})

	if cfg.WebSocket.Listen != "" {
		b := NewBroadcaster(logger)
		defer b.Close()
		b.Attach(w.Bus())

		mux := http.NewServeMux()
		mux.Handle("/ws", b)
		go func() {
			logger.Info().Str("addr", cfg.WebSocket.Listen).Msg("serving WebSocket notifications")
			if err := http.ListenAndServe(cfg.WebSocket.Listen, mux); err != nil {
				logger.Fatal().Err(err).Msg("WebSocket server failed")
			}
		}()
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Stringer("signal", sig).Msg("shutting down")
		close(stop)
		w.Close()
	}()

	logger.Info().Str("addr", cfg.Server.Addr).Str("mailbox", cfg.Monitor.Mailbox).Msg("watching mailbox")
	err = monitorLoop(w, cfg.Monitor, logger, stop, func(msg *imap.Message) {
		printMessage(os.Stdout, msg)
	})
	if errors.Is(err, imapidle.ErrCapabilityMissing) {
		logger.Fatal().Msg("server doesn't support IDLE")
	} else if err != nil {
		logger.Fatal().Err(err).Msg("monitoring failed")
	}
}

// applyFlags overrides configuration values with flags set on the command
// line.
func applyFlags(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = addr
		case "tls":
			cfg.Server.TLS = useTLS
		case "username":
			cfg.Server.Username = username
		case "debug":
			cfg.Server.Debug = debug
		case "mailbox":
			cfg.Monitor.Mailbox = mailbox
		case "timeout":
			cfg.Monitor.Timeout = timeout
		case "read-only":
			cfg.Monitor.ReadOnly = readOnly
		case "uid":
			cfg.Monitor.UID = useUID
		case "ws":
			cfg.WebSocket.Listen = wsListen
		}
	})
}

// connectPrimary opens a connection and fetches its capabilities once
// authenticated, so that later checks are answered without a round-trip.
func connectPrimary(dialer *imapclient.Dialer) (*imapclient.Client, error) {
	client, err := dialer.Dial()
	if err != nil {
		return nil, err
	}
	if _, err := client.Caps(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func listMailboxes(w io.Writer, dialer *imapclient.Dialer) error {
	client, err := dialer.Dial()
	if err != nil {
		return err
	}
	defer client.Logout()

	mailboxes, err := client.List("", "*")
	if err != nil {
		return err
	}
	for _, data := range mailboxes {
		if data.HasAttr(imap.MailboxAttrNoSelect) || data.HasAttr(imap.MailboxAttrNonExistent) {
			continue
		}
		fmt.Fprintln(w, data.Mailbox)
	}
	return nil
}

func printMessage(w io.Writer, msg *imap.Message) {
	var from []string
	for _, a := range msg.From {
		if a.Name != "" {
			from = append(from, fmt.Sprintf("%v <%v>", a.Name, a.Address))
		} else {
			from = append(from, a.Address)
		}
	}
	fmt.Fprintf(w, "%v %v\tfrom: %v\tsubject: %v\n", msg.Kind, msg.Num(), strings.Join(from, ", "), msg.Subject)
}
