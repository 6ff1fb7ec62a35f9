package app

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は削除待ちオブジェクトを消化するワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はaudioboxのコマンドツリーを構築する。
// サブコマンドを省略した場合はserveとして動作する。ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "audiobox",
		Short:         "OAuthログイン付きの音声ファイル保管API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(w, CommandServe)
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "APIサーバーを起動する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWithConfig(w, CommandServe)
			},
		},
		&cobra.Command{
			Use:   string(CommandWorker),
			Short: "削除待ちオブジェクトを定期的に削除するワーカーを起動する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWithConfig(w, CommandWorker)
			},
		},
		newMigrateCommand(w),
		newHealthcheckCommand(),
	)

	return root
}

// newMigrateCommand はマイグレーションコマンドを生成する。
// --downを指定した場合は適用とは逆に指定件数だけ巻き戻す。
func newMigrateCommand(w io.Writer) *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "未適用のマイグレーションをすべて適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("down") {
				if down < 1 {
					return fmt.Errorf("--down must be at least 1, got %d", down)
				}
				return runWithConfig(w, CommandMigrate, withRollback(down))
			}
			return runWithConfig(w, CommandMigrate)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "巻き戻すマイグレーションの件数")
	return cmd
}

// newHealthcheckCommand は軽量なヘルスチェックコマンドを生成する。
// 設定の読み込みを行わないため、必須環境変数がなくても動作する。
func newHealthcheckCommand() *cobra.Command {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8000"
	}

	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "ローカルの/healthにリクエストして稼働状態を確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(port)
		},
	}
	cmd.Flags().StringVar(&port, "port", port, "APIサーバーのポート (env SERVER_PORT)")
	return cmd
}
