package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	downloadOutput string
	downloadFormat string
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <generation-id>",
	Short: "Download a finished site bundle",
	Long:  `Download the zip bundle of a completed generation job and write it to disk.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&downloadOutput, "out", "o", "", "output file (default site-<id>.zip)")
	downloadCmd.Flags().StringVar(&downloadFormat, "format", "zip", "artifact format: zip or html")
}

func runDownload(cmd *cobra.Command, args []string) error {
	id := args[0]
	url := fmt.Sprintf("%s/api/download/%s?format=%s", GetServerURL(), id, downloadFormat)

	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	out := downloadOutput
	if out == "" {
		if downloadFormat == "html" {
			out = fmt.Sprintf("site-%s.html", id)
		} else {
			out = fmt.Sprintf("site-%s.zip", id)
		}
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	fmt.Printf("Downloaded %d bytes to %s\n", n, out)
	return nil
}
