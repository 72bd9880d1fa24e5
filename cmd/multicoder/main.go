// Command multicoder is the end-user client: it submits a prompt to the
// coordinator, polls until the request is terminal, and prints the
// aggregated artifact.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bngesp/MultiCoder/internal/domain"
	"github.com/bngesp/MultiCoder/internal/version"
)

var (
	serverURL    string
	pollInterval time.Duration
	waitTimeout  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "multicoder",
		Short:        "MultiCoder — ask the agent team for code",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "coordinator base URL")

	submitCmd := &cobra.Command{
		Use:   "submit <prompt>",
		Short: "Submit a prompt and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	submitCmd.Flags().DurationVar(&pollInterval, "poll-interval", 500*time.Millisecond, "status poll interval")
	submitCmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 5*time.Minute, "how long to wait for completion")

	statusCmd := &cobra.Command{
		Use:   "status <request-id>",
		Short: "Print the status of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			status, err := getStatus(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printStatus(status)
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <request-id>",
		Short: "Cancel an in-flight request",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete,
				serverURL+"/api/v1/requests/"+args[0], nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("cancel: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return apiError(resp)
			}
			fmt.Println("cancelled")
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.Human("multicoder"))
		},
	}

	rootCmd.AddCommand(submitCmd, statusCmd, cancelCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type statusResponse struct {
	RequestID     string         `json:"request_id"`
	Status        string         `json:"status"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Result        *domain.Result `json:"result,omitempty"`
}

func runSubmit(_ *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"prompt": args[0]})
	if err != nil {
		return err
	}
	resp, err := http.Post(serverURL+"/api/v1/requests", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}

	var submitted struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return fmt.Errorf("decode submit response: %w", err)
	}
	fmt.Fprintf(os.Stderr, "request %s submitted, waiting...\n", submitted.RequestID)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for request %s", submitted.RequestID)
		case <-ticker.C:
		}

		status, err := getStatus(ctx, submitted.RequestID)
		if err != nil {
			return err
		}
		if domain.RequestStatus(status.Status).IsTerminal() {
			return printStatus(status)
		}
	}
}

func getStatus(ctx context.Context, requestID string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/api/v1/requests/"+requestID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &status, nil
}

func printStatus(status *statusResponse) error {
	fmt.Printf("request: %s\nstatus:  %s\n", status.RequestID, status.Status)
	if status.FailureReason != "" {
		fmt.Printf("reason:  %s\n", status.FailureReason)
	}
	if status.Result != nil {
		fmt.Printf("\n--- code (%s) ---\n%s\n", status.Result.Language, status.Result.Code)
		fmt.Printf("--- documentation ---\n%s\n", status.Result.Documentation)
		if status.Result.Verification.Pass {
			fmt.Println("--- verification: PASS ---")
		} else {
			fmt.Println("--- verification: FAIL ---")
			for _, finding := range status.Result.Verification.Findings {
				fmt.Printf("  - %s\n", finding)
			}
		}
	}
	if status.Status != string(domain.RequestCompleted) {
		return fmt.Errorf("request %s ended %s", status.RequestID, status.Status)
	}
	return nil
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error == "" {
		body.Error = resp.Status
	}
	return fmt.Errorf("coordinator: %s", body.Error)
}
