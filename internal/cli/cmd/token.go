// Package cmd 实现 CLI 命令
package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"galaxy-chat/internal/cli/config"
	"galaxy-chat/pkg/jwt"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "用服务端密钥签发访问 Token",
	Long: `用服务端的 jwt.secret 为指定用户签发访问 Token，并保存到本地配置。

密钥依次从 --secret、环境变量 JWT_SECRET 读取，都为空时在终端中输入。`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().Int64("user-id", 0, "用户 ID（必填）")
	tokenCmd.Flags().String("username", "", "用户名")
	tokenCmd.Flags().String("secret", "", "服务端 JWT 密钥")
	tokenCmd.Flags().Duration("expire", 24*time.Hour, "有效期")
	tokenCmd.Flags().Bool("print", false, "只打印 Token，不保存")
	tokenCmd.MarkFlagRequired("user-id")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetInt64("user-id")
	username, _ := cmd.Flags().GetString("username")
	secret, _ := cmd.Flags().GetString("secret")
	expire, _ := cmd.Flags().GetDuration("expire")
	printOnly, _ := cmd.Flags().GetBool("print")

	if userID <= 0 {
		return fmt.Errorf("user-id 必须大于 0")
	}
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("缺少 JWT 密钥")
		}
		fmt.Print("请输入 JWT 密钥: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("读取密钥失败: %w", err)
		}
		secret = strings.TrimSpace(string(b))
	}
	if secret == "" {
		return fmt.Errorf("JWT 密钥不能为空")
	}

	token, err := jwt.NewJWTService(secret, expire).GenerateAccessToken(userID, username)
	if err != nil {
		return fmt.Errorf("签发 Token 失败: %w", err)
	}

	if printOnly {
		fmt.Println(token)
		return nil
	}
	if err := config.SaveToken(token); err != nil {
		return fmt.Errorf("保存 Token 失败: %w", err)
	}
	fmt.Printf("✓ Token 已保存到 %s（有效期 %s）\n", config.Path(), expire)
	return nil
}
