// Package cmd 实现 CLI 命令
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"galaxy-chat/internal/cli/config"
	"galaxy-chat/internal/cli/session"
	"galaxy-chat/internal/cli/websocket"
	chatws "galaxy-chat/internal/websocket"
)

var chatCmd = &cobra.Command{
	Use:   "chat [会话ID]",
	Short: "进入交互式对话",
	Long: `进入交互式对话。

不带参数时开始新会话，指定会话 ID 时继续已有会话。
输入 /help 查看可用命令，生成过程中按 Ctrl+C 停止。`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringP("model", "m", "", "使用的模型（默认读取配置 chat.model）")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	token, err := requireToken()
	if err != nil {
		return err
	}
	model := config.GetModel()
	if f := cmd.Flags().Lookup("model"); f != nil && f.Value.String() != "" {
		model = f.Value.String()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// 只转发请求相关的消息，其他用户连接触发的通知直接丢弃
	events := make(chan *chatws.Message, 64)
	wsClient := websocket.NewClient(config.GetServerURL(), token)
	wsClient.OnMessage(func(msg *chatws.Message) {
		if msg.MessageID == "" {
			return
		}
		select {
		case events <- msg:
		case <-ctx.Done():
		}
	})
	wsClient.OnClose(cancel)

	if err := wsClient.Connect(); err != nil {
		return fmt.Errorf("连接服务器失败: %w", err)
	}
	defer wsClient.Disconnect()

	sess := session.New(wsClient, events, os.Stdout, model)
	if len(args) == 1 {
		if err := sess.Open(ctx, args[0]); err != nil {
			return err
		}
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Printf("已连接到 %s，输入 /help 查看命令\n\n", config.GetServerURL())
	}

	// Ctrl+C：生成中停止生成，空闲时退出
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	interrupts := make(chan struct{}, 1)
	go func() {
		for range sigCh {
			select {
			case interrupts <- struct{}{}:
			default:
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		if interactive {
			fmt.Print("you> ")
		}
		select {
		case <-ctx.Done():
			fmt.Println()
			return errors.New("连接已断开")
		case <-interrupts:
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := sess.Handle(ctx, line, interrupts)
			if errors.Is(err, session.ErrQuit) {
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					return errors.New("连接已断开")
				}
				fmt.Fprintf(os.Stderr, "✗ %v\n", err)
			}
		}
	}
}
