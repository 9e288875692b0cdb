package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"miniroute/pkg/bus"
	"miniroute/pkg/runtime"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	messageText string
	routesFile  string
)

// outcomeStyles colors the status line printed after each routed message.
var outcomeStyles = map[string]lipgloss.Style{
	"matched":  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114")),
	"halted":   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
	"no_match": lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	"failed":   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
}

var replyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("44"))

// routeCmd represents the route command
var routeCmd = &cobra.Command{
	Use:   "route [message]",
	Short: "Route one message or start an interactive session",
	Long:  "Compiles the route table, routes one message through it, or reads messages from stdin until exit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		message := resolveMessage(args)

		cfg, err := loadConfig(routesFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log, err := setupLogger(cfg, "cmd.route")
		if err != nil {
			return err
		}

		rt, client, err := buildRouter(cfg, routesFile, true, log)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if client != nil {
			if err := client.Health(ctx); err != nil {
				return fmt.Errorf("provider health check failed: %w", err)
			}
		}

		session, err := runtime.StartLocalSession(ctx, rt, log, false)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		defer session.Close()

		if message != "" {
			out, err := session.Send(ctx, message)
			printOutcome(out, err)
			return err
		}

		runInteractive(ctx, session)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(routeCmd)
	routeCmd.Flags().StringVarP(&messageText, "message", "m", "", "message text to route")
	routeCmd.Flags().StringVarP(&routesFile, "routes", "r", "", "route table file (overrides router.routes_file)")
}

func resolveMessage(args []string) string {
	if value := strings.TrimSpace(messageText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func runInteractive(ctx context.Context, session *runtime.LocalSession) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Printf("input error: %v\n", err)
			}
			return
		}

		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if isExitCommand(message) {
			return
		}

		out, err := session.Send(ctx, message)
		printOutcome(out, err)
	}
}

func printOutcome(out bus.OutboundMessage, err error) {
	status := out.Status
	if status == "" && err != nil {
		status = "failed"
	}

	style, ok := outcomeStyles[status]
	if !ok {
		style = lipgloss.NewStyle()
	}
	fmt.Println(style.Render(strings.ReplaceAll(status, "_", " ")))

	if err != nil {
		fmt.Printf("  %v\n", err)
		fmt.Println()
		return
	}

	lines := replyLines(out.Content)
	for _, line := range lines {
		fmt.Printf("  %s\n", replyStyle.Render(line))
	}
	fmt.Println()
}

func replyLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", ":q":
		return true
	default:
		return false
	}
}
