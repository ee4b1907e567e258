package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/HCPTangHY/Lim-Code/internal/config"
	"github.com/HCPTangHY/Lim-Code/internal/provider"
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List available models",
	Long: `List all models from configured providers.

Examples:
  limcode models              # List all models
  limcode models anthropic    # List only Anthropic models`,
	RunE: runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	providers := provider.Initialize(context.Background(), appConfig)

	var filter string
	if len(args) > 0 {
		filter = args[0]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODEL\tNAME\tTOOLS")
	for _, p := range providers.List() {
		if filter != "" && p.ID() != filter {
			continue
		}
		for _, m := range p.Models() {
			tools := "no"
			if m.SupportsTools {
				tools = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID(), m.ID, m.Name, tools)
		}
	}
	return w.Flush()
}
