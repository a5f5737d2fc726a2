package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	siteName      string
	description   string
	style         string
	theme         string
	targetDevices string
	seoEnabled    bool
	multiLanguage bool
	locales       string
	imagePaths    []string
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Submit a website generation brief",
	Long:  `Submit a new website generation brief to the server. Image files given with --image are uploaded and rendered as responsive variants in the finished site.`,
	RunE:  runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVar(&siteName, "name", "", "site name (required)")
	generateCmd.Flags().StringVar(&description, "description", "", "what the site is about (required)")
	generateCmd.Flags().StringVar(&style, "style", "modern", "design style (modern, classic, minimal, creative)")
	generateCmd.Flags().StringVar(&theme, "theme", "light", "color theme (light, dark, auto)")
	generateCmd.Flags().StringVar(&targetDevices, "devices", "mobile,tablet,desktop", "comma-separated target devices")
	generateCmd.Flags().BoolVar(&seoEnabled, "seo", false, "generate SEO metadata")
	generateCmd.Flags().BoolVar(&multiLanguage, "multi-language", false, "generate content in multiple languages")
	generateCmd.Flags().StringVar(&locales, "locales", "", "comma-separated locales for --multi-language (default en,es)")
	generateCmd.Flags().StringSliceVar(&imagePaths, "image", nil, "image file to include (repeatable)")
	generateCmd.MarkFlagRequired("name")
	generateCmd.MarkFlagRequired("description")
}

type generateResponse struct {
	GenerationID string `json:"generation_id"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
}

func runGenerate(cmd *cobra.Command, args []string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"site_name":      siteName,
		"description":    description,
		"style":          style,
		"theme":          theme,
		"target_devices": targetDevices,
		"seo_enabled":    strconv.FormatBool(seoEnabled),
		"multi_language": strconv.FormatBool(multiLanguage),
	}
	if locales != "" {
		fields["locales"] = locales
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
	}

	for _, path := range imagePaths {
		if err := attachImage(mw, path); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	url := fmt.Sprintf("%s/api/generate", GetServerURL())
	httpReq, err := http.NewRequest("POST", url, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Generation ID", result.GenerationID)
	table.Append("Status", result.Status)
	table.Append("Progress", fmt.Sprintf("%d%%", result.Progress))
	table.Render()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("\nIdentical brief already generated; reusing the finished site.")
	} else {
		fmt.Printf("\nBrief accepted. Track it with: swctl jobs status %s --follow\n", result.GenerationID)
	}
	return nil
}

func attachImage(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	name := filepath.Base(path)
	if !hasImageExtension(name) {
		return fmt.Errorf("unsupported image type: %s", name)
	}
	part, err := mw.CreateFormFile("images", name)
	if err != nil {
		return fmt.Errorf("failed to attach image %s: %w", name, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read image %s: %w", name, err)
	}
	return nil
}

func hasImageExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}
