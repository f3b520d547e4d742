// Package cmd 实现 CLI 命令
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"galaxy-chat/internal/cli/api"
	"galaxy-chat/internal/cli/config"
)

var rootCmd = &cobra.Command{
	Use:   "galaxy",
	Short: "Galaxy Chat 命令行客户端",
	Long: `Galaxy Chat 命令行客户端

直接运行即进入交互式对话，支持编辑提问、重新生成和分支切换。
首次使用请先运行 'galaxy token' 生成并保存访问 Token。`,
	SilenceUsage: true,
	RunE:         runChat,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// 全局参数
	rootCmd.PersistentFlags().StringP("server", "s", "", "服务器地址 (默认: http://localhost:8080)")
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "初始化配置失败: %v\n", err)
		os.Exit(1)
	}

	// 如果指定了服务器地址，更新配置
	if server, _ := rootCmd.PersistentFlags().GetString("server"); server != "" {
		config.SetServerURL(server)
	}
}

// requireToken 读取已保存的 Token
func requireToken() (string, error) {
	token := config.GetAccessToken()
	if token == "" {
		return "", fmt.Errorf("尚未保存访问 Token，请先运行 'galaxy token'")
	}
	return token, nil
}

func newAPIClient() *api.Client {
	return api.NewClient(config.GetServerURL(), config.GetAccessToken())
}
