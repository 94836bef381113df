package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
)

var (
	applyFile   string
	applyDryRun bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Load alert definitions from a YAML file",
	Long: `Create or update connections, sources, saved searches, dashboards,
webhooks and alerts from a definitions file. Existing alerts keep their
state and silence. Files ending in .enc are decrypted with BLAZEALERT_MASTER_KEY.

Examples:
  blazealert apply -f alerts.yaml
  blazealert apply -f alerts.yaml.enc --dry-run`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "definitions file (required)")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "validate the file without writing")
	applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	defs, err := alerting.LoadDefinitionsFromFile(applyFile, a.masterKey)
	if err != nil {
		return err
	}
	PrintVerbose("loaded %d connection(s), %d source(s), %d webhook(s), %d alert(s)",
		len(defs.Connections), len(defs.Sources), len(defs.Webhooks), len(defs.Alerts))
	if applyDryRun {
		fmt.Printf("%s: %d alert(s) valid\n", applyFile, len(defs.Alerts))
		return nil
	}

	result, err := alerting.Apply(cmd.Context(), a.store, defs)
	if err != nil {
		return fmt.Errorf("apply definitions: %w", err)
	}

	if GetOutput() == "json" {
		data, _ := json.MarshalIndent(map[string]int{
			"created": result.Created,
			"updated": result.Updated,
		}, "", "  ")
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("applied %s: %d created, %d updated\n", applyFile, result.Created, result.Updated)
	return nil
}
