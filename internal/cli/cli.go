// Package cli implements tonectl, the operator tool for the shared store.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	goflags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/jwgray1010/Unsaid-sub003/internal/config"
	"github.com/jwgray1010/Unsaid-sub003/internal/gateway"
	"github.com/jwgray1010/Unsaid-sub003/internal/server"
	"github.com/jwgray1010/Unsaid-sub003/internal/store"
)

// env is the state shared by every subcommand.
type env struct {
	globals *GlobalFlags
	version string
	out     io.Writer

	// openService overrides how the gateway is reached; nil uses --remote
	// or the configured local store.
	openService func(ctx context.Context) (gateway.Service, func() error, error)
	// openStore overrides how the local store is opened.
	openStore func(ctx context.Context) (store.SharedStore, error)
}

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Classify *ClassifyCommand
	Record   *RecordCommand
	Status   *StatusCommand
	Pull     *PullCommand
	Clear    *ClearCommand
	Ack      *AckCommand
	Keygen   *KeygenCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(e *env) (*goflags.Parser, *commands) {
	parser := goflags.NewParser(e.globals, goflags.Default)
	parser.Name = "tonectl"
	parser.LongDescription = "Classify text and inspect or drain the tone shared store."

	cmds := &commands{
		Classify: &ClassifyCommand{env: e},
		Record:   &RecordCommand{env: e},
		Status:   &StatusCommand{env: e},
		Pull:     &PullCommand{env: e},
		Clear:    &ClearCommand{env: e},
		Ack:      &AckCommand{env: e},
		Keygen:   &KeygenCommand{env: e},
	}

	parser.AddCommand("classify", "Classify text", "Classify text with the configured table and print the result.", cmds.Classify)
	parser.AddCommand("record", "Classify and record text", "Classify text, record tone and interaction events and flush them to the local store.", cmds.Record)
	parser.AddCommand("status", "Show shared store metadata", "Show last sync time and pending counts per category.", cmds.Status)
	parser.AddCommand("pull", "Print pending events", "Print every pending event and the acknowledge cursor.", cmds.Pull)
	parser.AddCommand("clear", "Delete all pending events", "Delete all pending events. Destructive; requires --force.", cmds.Clear)
	parser.AddCommand("ack", "Acknowledge pending events", "Remove pending events up to the given cursor.", cmds.Ack)
	parser.AddCommand("keygen", "Generate an internal key", "Generate an internal key and the bcrypt hash to configure on the server.", cmds.Keygen)

	return parser, cmds
}

// Run is the main entry point for tonectl using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	return run(&env{globals: &GlobalFlags{}, version: version, out: os.Stdout}, args)
}

func run(e *env, args []string) error {
	// go-flags requires a subcommand; --version is valid without one.
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Fprintf(e.out, "tonectl %s\n", e.version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _ := buildParser(e)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok && flagsErr.Type == goflags.ErrHelp {
			return nil
		}
		return err
	}
	return nil
}

// loadConfig reads --config, .env and the environment.
func (e *env) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(e.globals.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (e *env) logger(cfg *config.Config) *zap.Logger {
	if !e.globals.Verbose {
		return zap.NewNop()
	}
	lc := cfg.Logging
	lc.Format = "console"
	logger, err := config.NewLogger(lc)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// localStore opens the store named by the configuration.
func (e *env) localStore(ctx context.Context) (store.SharedStore, error) {
	if e.openStore != nil {
		return e.openStore(ctx)
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		PostgresDSN: cfg.Store.PostgresDSN,
	}, e.logger(cfg))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// service returns the gateway to operate on and a func releasing it.
func (e *env) service(ctx context.Context) (gateway.Service, func() error, error) {
	if e.openService != nil {
		return e.openService(ctx)
	}
	if e.globals.Remote != "" {
		client, err := server.Dial(e.globals.Remote, e.globals.Key)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", e.globals.Remote, err)
		}
		return client, client.Close, nil
	}

	st, err := e.localStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return gateway.New(st, zap.NewNop()), st.Close, nil
}
