package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/m3ugate/m3ugate/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document for the admin API",
		Long: `Generate the OpenAPI 3.1 document describing /playlist.m3u and the admin API.
The server URL comes from server.public_url, or the listen address.`,
		Example: `  m3ugate openapi
  m3ugate openapi -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			doc := openapi.GenerateAdminSpec(publicBase(cfg), versionString())
			jsonBytes, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal OpenAPI document: %w", err)
			}

			if outputFile == "" {
				fmt.Println(string(jsonBytes))
				return nil
			}
			if err := os.WriteFile(outputFile, append(jsonBytes, '\n'), 0644); err != nil {
				return fmt.Errorf("write %s: %w", outputFile, err)
			}
			fmt.Fprintf(os.Stderr, "Wrote %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")
	return cmd
}
