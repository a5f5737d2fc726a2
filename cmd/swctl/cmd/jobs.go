package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var followStatus bool

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage generation jobs",
	Long:  `Commands for listing, tracking and canceling website generation jobs.`,
}

// jobsStatusCmd represents the jobs status command
var jobsStatusCmd = &cobra.Command{
	Use:   "status [generation-id]",
	Short: "Get job status",
	Long:  `Retrieve the status of a generation job. If no ID is provided, lists all jobs.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobsStatus,
}

// jobsCancelCmd represents the jobs cancel command
var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <generation-id>",
	Short: "Cancel a job",
	Long:  `Cancel a queued or running generation job.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)

	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status every 2 seconds until completion")
}

type jobResponse struct {
	GenerationID string     `json:"generation_id"`
	Status       string     `json:"status"`
	Stage        string     `json:"stage,omitempty"`
	Progress     int        `json:"progress"`
	Message      string     `json:"message,omitempty"`
	ErrorDetail  string     `json:"error_detail,omitempty"`
	RetryCount   int        `json:"retry_count,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type jobsListResponse struct {
	Count int           `json:"count"`
	Jobs  []jobResponse `json:"jobs"`
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listAllJobs()
	}
	id := args[0]

	if followStatus {
		fmt.Printf("Following generation %s (press Ctrl+C to stop)...\n\n", id)
		for {
			job, err := fetchJobStatus(id)
			if err != nil {
				return err
			}
			fmt.Printf("[%s] %s %3d%%  %s\n", time.Now().Format("15:04:05"), job.Status, job.Progress, job.Message)
			if terminal(job.Status) {
				printJob(job)
				return nil
			}
			time.Sleep(2 * time.Second)
		}
	}

	job, err := fetchJobStatus(id)
	if err != nil {
		return err
	}
	return printJob(job)
}

func fetchJobStatus(id string) (*jobResponse, error) {
	url := fmt.Sprintf("%s/api/generation/%s", GetServerURL(), id)
	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &job, nil
}

func printJob(job *jobResponse) error {
	if IsJSONOutput() {
		output, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Generation ID", job.GenerationID)
	table.Append("Status", job.Status)
	if job.Stage != "" {
		table.Append("Stage", job.Stage)
	}
	table.Append("Progress", fmt.Sprintf("%d%%", job.Progress))
	if job.Message != "" {
		table.Append("Message", job.Message)
	}
	if job.RetryCount > 0 {
		table.Append("Retries", fmt.Sprintf("%d", job.RetryCount))
	}
	if job.ErrorDetail != "" {
		table.Append("Error", job.ErrorDetail)
	}
	table.Append("Created At", job.CreatedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		table.Append("Completed At", job.CompletedAt.Format(time.RFC3339))
	}
	table.Render()

	if job.Status == "completed" {
		fmt.Printf("\nDownload with: swctl download %s\n", job.GenerationID)
	}
	return nil
}

func listAllJobs() error {
	url := fmt.Sprintf("%s/api/generations", GetServerURL())
	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	var list jobsListResponse
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

	if list.Count == 0 {
		fmt.Println("No jobs found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Generation ID", "Status", "Stage", "Progress", "Created At")
	for _, job := range list.Jobs {
		table.Append(job.GenerationID, job.Status, job.Stage,
			fmt.Sprintf("%d%%", job.Progress), job.CreatedAt.Format(time.RFC3339))
	}
	table.Render()
	fmt.Printf("\nTotal: %d jobs\n", list.Count)
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	id := args[0]
	url := fmt.Sprintf("%s/api/generation/%s", GetServerURL(), id)

	httpReq, err := http.NewRequest("DELETE", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	var result struct {
		GenerationID string `json:"generation_id"`
		Status       string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Status == "canceled" {
		fmt.Printf("Generation %s canceled.\n", id)
	} else {
		fmt.Printf("Cancellation requested; generation %s is %s and will stop at the next stage boundary.\n", id, result.Status)
	}
	return nil
}

func terminal(status string) bool {
	switch status {
	case "completed", "error", "canceled":
		return true
	}
	return false
}
