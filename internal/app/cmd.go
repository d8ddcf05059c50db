package app

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は同期ジョブワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandClient はクライアントSDKを使ってAPIを呼び出すことを示す。
	CommandClient Command = "client"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	case "client":
		return CommandClient
	default:
		return CommandServe
	}
}

// normalizeArgs はサブコマンドが無い、または未知の場合にserveを補う。
// フラグ（--help等）で始まる引数はそのままcobraに渡す。
func normalizeArgs(args []string) []string {
	if len(args) > 0 && strings.HasPrefix(args[0], "-") {
		return args
	}
	cmd := ParseCommand(args)
	if len(args) == 0 || string(cmd) != args[0] {
		return []string{string(CommandServe)}
	}
	return args
}

// NewRootCommand はlibmemberのコマンドツリーを構築する。
// ログとクライアントコマンドの出力先はwになる。
func NewRootCommand(w io.Writer) *cobra.Command {
	if w == nil {
		w = os.Stdout
	}

	root := &cobra.Command{
		Use:           "libmember",
		Short:         "Library member auth service",
		Long:          "libmember keeps identity provider accounts and library member directory records in sync.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		newServeCommand(w),
		newWorkerCommand(w),
		newMigrateCommand(w),
		newHealthcheckCommand(),
		newClientCommand(),
	)
	return root
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newWorkerCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Start the directory sync worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg)
		},
	}
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply all pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return runMigrate(cfg)
		},
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending database migrations",
		Args:  cobra.NoArgs,
		RunE:  cmd.RunE,
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return runMigrateDown(cfg, steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return runMigrateVersion(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

// newHealthcheckCommand は軽量サブコマンドのため、フル初期化をスキップする。
func newHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe the local /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(port)
		},
	}
}
