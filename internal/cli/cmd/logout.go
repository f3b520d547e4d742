// Package cmd 实现 CLI 命令
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"galaxy-chat/internal/cli/config"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "注销 Token 并清除本地凭证",
	Long: `通知服务端把当前 Token 加入黑名单，然后清除本地保存的 Token。

服务端不可用时仍会清除本地凭证。`,
	Args: cobra.NoArgs,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	// 检查是否已登录
	if !config.IsLoggedIn() {
		fmt.Println("当前未登录")
		return nil
	}

	if err := newAPIClient().Logout(cmd.Context()); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  服务端注销失败: %v\n", err)
	}

	// 清除本地凭证
	if err := config.ClearToken(); err != nil {
		return fmt.Errorf("清除凭证失败: %w", err)
	}

	fmt.Println("✓ 已登出并清除本地凭证")
	return nil
}
