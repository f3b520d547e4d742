// Package cmd 实现 CLI 命令
package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"galaxy-chat/internal/cli/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示当前状态",
	Long: `显示当前登录状态和服务端健康状况。

包括：
- 服务器地址
- 登录状态
- 各依赖的检查结果`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("╔════════════════════════════════════════════════╗")
	fmt.Println("║           Galaxy Chat 状态信息                  ║")
	fmt.Println("╠════════════════════════════════════════════════╣")

	// 服务器地址
	fmt.Printf("║  服务器: %s\n", config.GetServerURL())

	// 登录状态
	if config.IsLoggedIn() {
		fmt.Println("║  登录状态: ✓ 已保存 Token")
	} else {
		fmt.Println("║  登录状态: ✗ 未登录")
		fmt.Println("║  请运行 'galaxy token' 生成 Token")
	}

	health, err := newAPIClient().Health(cmd.Context())
	if err != nil {
		fmt.Printf("║  服务状态: ✗ %v\n", err)
	} else {
		fmt.Printf("║  服务状态: %s\n", health.Status)
		names := make([]string, 0, len(health.Dependencies))
		for name := range health.Dependencies {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("║    %s: %s\n", name, health.Dependencies[name])
		}
	}

	fmt.Println("╚════════════════════════════════════════════════╝")
	return nil
}
