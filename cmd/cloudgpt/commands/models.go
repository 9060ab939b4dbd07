package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			modality, _ := cmd.Flags().GetString("modality")
			asJSON, _ := cmd.Flags().GetBool("json")

			var filter []cloudgpt.Modality
			if modality != "" {
				filter = append(filter, cloudgpt.Modality(modality))
			}
			models := cloudgpt.DefaultRegistry().List(filter...)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(models)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMODALITY\tPROVIDER\tPREMIUM\tWEIGHT\tALIASES")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%g\t%s\n",
					m.ID, m.Modality, m.Provider, m.Premium, m.Weight(), strings.Join(m.Aliases, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("modality", "", "only list one modality (chat, image, video, embedding)")
	cmd.Flags().Bool("json", false, "print JSON")
	return cmd
}
