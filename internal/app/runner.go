package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dmarzzo/defi-agent/internal/chains"
	"github.com/dmarzzo/defi-agent/internal/config"
	"github.com/dmarzzo/defi-agent/internal/custody"
	agerr "github.com/dmarzzo/defi-agent/internal/errors"
	"github.com/dmarzzo/defi-agent/internal/httpx"
	"github.com/dmarzzo/defi-agent/internal/logger"
	"github.com/dmarzzo/defi-agent/internal/operator"
	"github.com/dmarzzo/defi-agent/internal/portfolio"
	"github.com/dmarzzo/defi-agent/internal/relay"
	"github.com/dmarzzo/defi-agent/internal/schema"
	"github.com/dmarzzo/defi-agent/internal/server"
	"github.com/dmarzzo/defi-agent/internal/strategy"
	"github.com/dmarzzo/defi-agent/internal/sui"
	"github.com/dmarzzo/defi-agent/internal/tool"
	"github.com/dmarzzo/defi-agent/internal/version"
	"github.com/dmarzzo/defi-agent/internal/wallet"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
}

func NewRunner() *Runner {
	return NewRunnerWithStreams(os.Stdout, os.Stderr, os.Stdin)
}

func NewRunnerWithStreams(stdout, stderr io.Writer, stdin io.Reader) *Runner {
	return &Runner{stdout: stdout, stderr: stderr, stdin: stdin}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	logLevel string
	settings config.Settings
	log      *zap.Logger
	root     *cobra.Command

	registry chains.Registry
	operator *operator.Operator
	relay    *relay.Relay
	custody  *custody.Client
	journal  *operator.Journal
	tools    *tool.Registry
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if state.journal != nil {
		_ = state.journal.Close()
	}
	if state.log != nil {
		_ = state.log.Sync()
	}
	if err == nil {
		return 0
	}
	state.renderError(err)
	return agerr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.Name,
		Short: "Non-custodial DeFi execution agent",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return agerr.Wrap(agerr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			if s.log == nil {
				log, err := logger.New(s.logLevel)
				if err != nil {
					return agerr.Wrap(agerr.CodeUsage, "configure logging", err)
				}
				s.log = log
			}
			return s.buildRuntime()
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return agerr.Wrap(agerr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.ListenAddr, "listen-addr", "", "HTTP listen address for serve")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Outbound request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per outbound request")
	cmd.PersistentFlags().StringVar(&s.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newToolCommand())
	cmd.AddCommand(s.newToolsCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// buildRuntime wires the shared service graph once per process. A missing
// operator key or custody credential is tolerated here so read-only tools
// keep working; the affected components report not-configured when invoked.
func (s *runtimeState) buildRuntime() error {
	if s.tools != nil {
		return nil
	}

	httpClient := httpx.New(s.settings.Timeout, s.settings.Retries)
	s.registry = s.settings.Registry()

	var signer operator.Signer
	signerCfg := operator.SignerConfig{
		PrivateKeyHex:    s.settings.OperatorKeyHex,
		PrivateKeyFile:   s.settings.OperatorKeyFile,
		KeystorePath:     s.settings.OperatorKeystorePath,
		KeystorePassword: s.settings.OperatorKeystorePassword,
	}
	if !signerCfg.Empty() {
		local, err := operator.NewLocalSigner(signerCfg)
		if err != nil {
			return agerr.Wrap(agerr.CodeSigner, "load operator key", err)
		}
		signer = local
		s.log.Info("operator signer loaded", zap.String("address", local.Address().Hex()))
	} else {
		s.log.Warn("no operator key configured, write operations disabled")
	}

	journal, err := operator.OpenJournal(s.settings.JournalPath)
	if err != nil {
		s.log.Warn("transaction journal unavailable", zap.Error(err))
	} else {
		s.journal = journal
	}

	s.operator = operator.New(signer, s.registry, s.journal, s.log)
	s.relay = relay.New(s.operator, s.log)
	s.custody = custody.New(httpClient, s.settings.PrivyAppID, s.settings.PrivyAppSecret)

	var suiClient *sui.Client
	if cfg, ok := s.registry.Get(chains.SuiChainID); ok {
		suiClient = sui.New(httpClient, cfg.RPCURL, cfg.ExplorerURL)
	} else {
		suiClient = sui.New(httpClient, "", "")
	}

	wallets := wallet.NewResolver(httpClient, s.settings.BackendURL, s.log)
	strategies := strategy.NewStore(s.settings.StrategiesDir)

	s.tools = tool.NewRegistry(tool.Deps{
		Registry:   s.registry,
		Wallets:    wallets,
		Custody:    s.custody,
		Sui:        suiClient,
		Operator:   s.operator,
		Strategies: strategies,
		Portfolio:  portfolio.New(s.registry, suiClient, s.log),
		Log:        s.log,
	})
	return nil
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP onboarding and activation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			var chainIDs []int64
			for _, cfg := range s.registry.EVM() {
				chainIDs = append(chainIDs, cfg.ID)
			}
			srv := server.New(s.operator, s.relay, s.custody, chainIDs, s.settings.DelegateContract, s.log)
			if err := srv.Run(s.settings.ListenAddr); err != nil {
				return agerr.Wrap(agerr.CodeUnavailable, "http server", err)
			}
			return nil
		},
	}
}

func (s *runtimeState) newToolCommand() *cobra.Command {
	var sessionKey string
	var params string
	cmd := &cobra.Command{
		Use:   "tool <name>",
		Short: "Invoke a single tool and print its JSON result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := s.toolParams(params)
			if err != nil {
				return err
			}
			result := s.tools.Invoke(cmd.Context(), args[0], sessionKey, raw)
			_, err = fmt.Fprintln(s.runner.stdout, string(result))
			return err
		},
	}
	cmd.Flags().StringVar(&sessionKey, "session", "", "Session key identifying the calling user")
	cmd.Flags().StringVar(&params, "params", "", "Tool parameters as JSON, or - to read stdin")
	return cmd
}

func (s *runtimeState) toolParams(params string) (json.RawMessage, error) {
	if params == "-" {
		data, err := io.ReadAll(s.runner.stdin)
		if err != nil {
			return nil, agerr.Wrap(agerr.CodeUsage, "read parameters from stdin", err)
		}
		params = string(data)
	}
	params = strings.TrimSpace(params)
	if params == "" {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid([]byte(params)) {
		return nil, agerr.New(agerr.CodeUsage, "parameters must be a JSON object")
	}
	return json.RawMessage(params), nil
}

func (s *runtimeState) newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(s.tools.List(), "", "  ")
			if err != nil {
				return agerr.Wrap(agerr.CodeInternal, "serialize tool list", err)
			}
			_, err = fmt.Fprintln(s.runner.stdout, string(data))
			return err
		},
	}
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.Join(args, " ")
			}
			data, err := schema.Build(s.root, path)
			if err != nil {
				return agerr.Wrap(agerr.CodeUsage, "build schema", err)
			}
			encoded, err := json.MarshalIndent(data, "", "  ")
			if err != nil {
				return agerr.Wrap(agerr.CodeInternal, "serialize schema", err)
			}
			_, err = fmt.Fprintln(s.runner.stdout, string(encoded))
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) renderError(err error) {
	payload := map[string]any{
		"error": map[string]any{
			"type":    errorType(err),
			"message": agerr.Message(err),
			"code":    agerr.ExitCode(err),
		},
	}
	data, mErr := json.Marshal(payload)
	if mErr != nil {
		fmt.Fprintln(s.runner.stderr, err.Error())
		return
	}
	fmt.Fprintln(s.runner.stderr, string(data))
}

func errorType(err error) string {
	typed, ok := agerr.As(err)
	if !ok {
		return "internal_error"
	}
	switch typed.Code {
	case agerr.CodeUsage:
		return "usage_error"
	case agerr.CodeAuth:
		return "auth_error"
	case agerr.CodeRateLimited:
		return "rate_limited"
	case agerr.CodeUnavailable:
		return "unavailable"
	case agerr.CodeUnsupported:
		return "unsupported"
	case agerr.CodeNotConfigured:
		return "not_configured"
	case agerr.CodeSigner:
		return "signer_error"
	default:
		return "internal_error"
	}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := agerr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return agerr.Wrap(agerr.CodeUsage, "invalid command input", err)
	}
	return agerr.Wrap(agerr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"invalid argument",
		"requires at least",
		"accepts at most",
		"accepts 1 arg",
		"required flag",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
