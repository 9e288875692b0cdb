package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"miniroute/pkg/router"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	checkHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230"))
	checkIndexStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	checkActionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("44"))
)

var checkCmd = &cobra.Command{
	Use:   "check [routes-file]",
	Short: "Validate a route table and list its rules",
	Long:  "Compiles the route table, reporting every definition error, and lists the top-level rules in evaluation order.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}

		cfg, err := loadConfig(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		rt, _, err := buildRouter(cfg, path, false, nil)
		if err != nil {
			return err
		}

		fmt.Print(renderRules(rt))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func renderRules(rt *router.Router) string {
	rules := rt.Rules()

	name := rt.Name()
	if name == "" {
		name = "(unnamed)"
	}

	var b strings.Builder
	b.WriteString(checkHeaderStyle.Render(fmt.Sprintf("router %s", name)))
	fmt.Fprintf(&b, " default attribute %q, %d rules\n", rt.DefaultAttribute(), len(rules))

	width := 0
	for _, rule := range rules {
		width = max(width, len(rule.Condition))
	}

	for _, rule := range rules {
		index := checkIndexStyle.Render(fmt.Sprintf("%3s", strconv.Itoa(rule.Index)))
		condition := rule.Condition + strings.Repeat(" ", width-len(rule.Condition))
		fmt.Fprintf(&b, "%s  %s  -> %s\n", index, condition, checkActionStyle.Render(rule.Action))
	}

	return b.String()
}
