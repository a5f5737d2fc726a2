package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// templatesCmd represents the templates command
var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List available site templates",
	Long:  `List the site templates the server can assemble, with the design styles each one supports.`,
	RunE:  runTemplates,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
}

type templateResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category"`
	Styles      []string `json:"styles"`
}

type templatesListResponse struct {
	Count     int                `json:"count"`
	Templates []templateResponse `json:"templates"`
}

func runTemplates(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/templates", GetServerURL())
	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	var list templatesListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Category", "Styles")
	for _, t := range list.Templates {
		table.Append(t.ID, t.Name, t.Category, strings.Join(t.Styles, ", "))
	}
	table.Render()
	fmt.Printf("\nTotal: %d templates\n", list.Count)
	return nil
}
