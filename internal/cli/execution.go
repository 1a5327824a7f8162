package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// NewExecutionCmd создаёт группу команд для управления executions.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execution",
		Short: "Manage executions",
	}

	cmd.AddCommand(
		newExecutionStartCmd(clientFn, outputFn),
		newExecutionListCmd(clientFn, outputFn),
		newExecutionAdvanceCmd(clientFn, outputFn),
		newExecutionCancelCmd(clientFn, outputFn),
		newExecutionStatusCmd(clientFn, outputFn),
		newExecutionStepsCmd(clientFn, outputFn),
		newExecutionWatchCmd(clientFn, outputFn),
	)

	return cmd
}

func newExecutionStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var contextJSON string
	var mode string
	var async bool

	cmd := &cobra.Command{
		Use:   "start WORKFLOW_ID",
		Short: "Start an execution of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := ExecuteRequest{Mode: mode}
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &req.Context); err != nil {
					return fmt.Errorf("invalid --context JSON: %w", err)
				}
			}

			var snap *SnapshotResponse
			var err error
			if async {
				snap, err = client.ExecuteAsync(args[0], req)
			} else {
				snap, err = client.Execute(args[0], req)
			}
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Execution %s: %s", snap.Execution.ID, snap.Execution.Status))
			printSnapshot(out, snap)
			return nil
		},
	}

	cmd.Flags().StringVar(&contextJSON, "context", "", "Initial execution context as inline JSON")
	cmd.Flags().StringVar(&mode, "mode", "", "Override workflow mode (MANUAL or AUTOMATIC)")
	cmd.Flags().BoolVar(&async, "async", false, "Return immediately with tracking links")

	return cmd
}

func newExecutionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int
	var offset int

	cmd := &cobra.Command{
		Use:   "list WORKFLOW_ID",
		Short: "List executions of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			execs, err := client.ListExecutions(args[0], ListExecutionsOpts{Limit: limit, Offset: offset})
			if err != nil {
				return err
			}

			headers := []string{"ID", "STATUS", "MODE", "ERROR", "CREATED"}
			rows := make([][]string, len(execs))
			for i, e := range execs {
				rows[i] = []string{e.ID, e.Status, e.Mode, e.ErrorKind, e.CreatedAt}
			}

			out.Print(headers, rows, execs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")

	return cmd
}

func newExecutionAdvanceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var contextJSON string

	cmd := &cobra.Command{
		Use:   "advance EXECUTION_ID",
		Short: "Run the next step of a paused manual execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := AdvanceRequest{}
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &req.Context); err != nil {
					return fmt.Errorf("invalid --context JSON: %w", err)
				}
			}

			snap, err := client.Advance(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Execution %s: %s", snap.Execution.ID, snap.Execution.Status))
			printSnapshot(out, snap)
			return nil
		},
	}

	cmd.Flags().StringVar(&contextJSON, "context", "", "Context delta to merge before the step runs")

	return cmd
}

func newExecutionCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel EXECUTION_ID",
		Short: "Cancel an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			snap, err := client.CancelExecution(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Execution %s: %s", snap.Execution.ID, snap.Execution.Status))
			printSnapshot(out, snap)
			return nil
		},
	}
}

func newExecutionStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status EXECUTION_ID",
		Short: "Show execution snapshot with progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			snap, err := client.ExecutionStatus(args[0])
			if err != nil {
				return err
			}

			printSnapshot(out, snap)
			return nil
		},
	}
}

func newExecutionStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "steps EXECUTION_ID",
		Short: "Show step attempt history of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			steps, err := client.ExecutionSteps(args[0])
			if err != nil {
				return err
			}

			headers := []string{"STEP", "ATTEMPT", "STATUS", "ERROR", "STARTED", "FINISHED"}
			rows := make([][]string, len(steps))
			for i, s := range steps {
				rows[i] = []string{s.StepName, strconv.Itoa(s.Attempt), s.Status, s.ErrorKind, s.StartedAt, s.FinishedAt}
			}

			out.Print(headers, rows, steps)
			return nil
		},
	}
}

func newExecutionWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "watch EXECUTION_ID",
		Short: "Stream execution events over websocket until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			wsURL := websocketURL(client.BaseURL(), args[0])
			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
			}
			defer conn.Close()

			// Ctrl+C закрывает соединение и завершает watch.
			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(interrupt)
			go func() {
				<-interrupt
				conn.Close()
			}()

			out.Success(fmt.Sprintf("Watching execution %s (Ctrl+C to stop)", args[0]))

			for {
				var event map[string]any
				if err := conn.ReadJSON(&event); err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						out.Success("Execution finished")
						return nil
					}
					return nil
				}
				out.JSON(event)
			}
		},
	}
}

// websocketURL строит ws:// адрес из базового http:// адреса API.
func websocketURL(baseURL, executionID string) string {
	ws := strings.Replace(baseURL, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)
	return ws + "/ws/" + executionID
}

// printSnapshot выводит снимок execution в табличном или JSON виде.
func printSnapshot(out *Output, snap *SnapshotResponse) {
	progress := fmt.Sprintf("%d/%d (%.0f%%)",
		snap.Progress.CompletedSteps, snap.Progress.TotalSteps, snap.Progress.Percentage)

	out.Print(
		[]string{"ID", "STATUS", "MODE", "CURRENT_STEP", "PROGRESS", "ERROR"},
		[][]string{{
			snap.Execution.ID,
			snap.Execution.Status,
			snap.Execution.Mode,
			snap.CurrentStepName,
			progress,
			snap.Execution.ErrorKind,
		}},
		snap,
	)
}
