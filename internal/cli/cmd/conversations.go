// Package cmd 实现 CLI 命令
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"galaxy-chat/internal/thread"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "列出会话",
	Args:    cobra.NoArgs,
	RunE:    runListConversations,
}

var showCmd = &cobra.Command{
	Use:   "show <会话ID>",
	Short: "显示会话内容（每个分支点取第一个分支）",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowConversation,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <会话ID>",
	Short: "删除会话及其全部消息",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteConversation,
}

func init() {
	conversationsCmd.AddCommand(showCmd, deleteCmd)
	rootCmd.AddCommand(conversationsCmd)
}

func runListConversations(cmd *cobra.Command, args []string) error {
	if _, err := requireToken(); err != nil {
		return err
	}
	convs, err := newAPIClient().ListConversations(cmd.Context())
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("还没有会话")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\t标题\t模型\t最后消息")
	for _, c := range convs {
		title := c.Title
		if c.Archived {
			title += " (已归档)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, title, c.Model, c.LastMessageAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runShowConversation(cmd *cobra.Command, args []string) error {
	if _, err := requireToken(); err != nil {
		return err
	}
	tr, err := newAPIClient().Transcript(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if tr.Conversation != nil {
		fmt.Printf("── %s ──\n", tr.Conversation.Title)
	}
	for _, r := range tr.Records {
		if r.Role == thread.RoleUser {
			marker := ""
			if r.BranchCount > 1 {
				marker = fmt.Sprintf(" [%d/%d]", r.BranchIndex+1, r.BranchCount)
			}
			fmt.Printf("\nyou%s> %s\n", marker, r.Content)
			continue
		}
		fmt.Printf("assistant> %s\n", r.Content)
	}
	return nil
}

func runDeleteConversation(cmd *cobra.Command, args []string) error {
	if _, err := requireToken(); err != nil {
		return err
	}
	if err := newAPIClient().DeleteConversation(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("✓ 已删除")
	return nil
}
