package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewWorkflowCmd создаёт группу команд для управления workflows.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}

	cmd.AddCommand(
		newWorkflowListCmd(clientFn, outputFn),
		newWorkflowCreateCmd(clientFn, outputFn),
		newWorkflowShowCmd(clientFn, outputFn),
		newWorkflowUpdateCmd(clientFn, outputFn),
		newWorkflowDeleteCmd(clientFn, outputFn),
		newWorkflowStepsCmd(clientFn, outputFn),
		newWorkflowAddStepCmd(clientFn, outputFn),
	)

	return cmd
}

func newWorkflowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			workflows, err := client.ListWorkflows()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "MODE", "CREATED"}
			rows := make([][]string, len(workflows))
			for i, wf := range workflows {
				rows[i] = []string{wf.ID, wf.Name, wf.Mode, wf.CreatedAt}
			}

			out.Print(headers, rows, workflows)
			return nil
		},
	}
}

func newWorkflowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var defFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow from a JSON definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(defFile)
			if err != nil {
				return fmt.Errorf("failed to read definition file: %w", err)
			}

			var req CreateWorkflowRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("invalid workflow definition: %w", err)
			}

			wf, err := client.CreateWorkflow(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow created: %s", wf.ID))
			out.Print(
				[]string{"ID", "NAME", "MODE", "STEPS", "CREATED"},
				[][]string{{wf.ID, wf.Name, wf.Mode, strconv.Itoa(len(wf.Steps)), wf.CreatedAt}},
				wf,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&defFile, "file", "", "Path to workflow definition JSON (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show workflow details with steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			wf, err := client.GetWorkflow(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ORDER", "NAME", "MAX_VISITS", "STEP_ID"}
			rows := make([][]string, len(wf.Steps))
			for i, s := range wf.Steps {
				rows[i] = []string{strconv.Itoa(s.Order), s.Name, strconv.Itoa(s.MaxVisits), s.ID}
			}

			out.Success(fmt.Sprintf("Workflow %s (%s, %s)", wf.Name, wf.ID, wf.Mode))
			out.Print(headers, rows, wf)
			return nil
		},
	}
}

func newWorkflowUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var mode string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update workflow name or mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := UpdateWorkflowRequest{}
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("mode") {
				req.Mode = &mode
			}

			wf, err := client.UpdateWorkflow(args[0], req)
			if err != nil {
				return err
			}

			out.Success("Workflow updated")
			out.Print(
				[]string{"ID", "NAME", "MODE", "UPDATED"},
				[][]string{{wf.ID, wf.Name, wf.Mode, wf.UpdatedAt}},
				wf,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New workflow name")
	cmd.Flags().StringVar(&mode, "mode", "", "New default mode (MANUAL or AUTOMATIC)")

	return cmd
}

func newWorkflowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a workflow and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteWorkflow(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow deleted: %s", args[0]))
			return nil
		},
	}
}

func newWorkflowStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "steps WORKFLOW_ID",
		Short: "List workflow steps in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			steps, err := client.ListSteps(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ORDER", "NAME", "MAX_VISITS", "STEP_ID"}
			rows := make([][]string, len(steps))
			for i, s := range steps {
				rows[i] = []string{strconv.Itoa(s.Order), s.Name, strconv.Itoa(s.MaxVisits), s.ID}
			}

			out.Print(headers, rows, steps)
			return nil
		},
	}
}

func newWorkflowAddStepCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var order int
	var maxVisits int
	var configJSON string

	cmd := &cobra.Command{
		Use:   "add-step WORKFLOW_ID",
		Short: "Add a step to an existing workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			def := StepDef{Name: name, Order: order, MaxVisits: maxVisits}
			if configJSON != "" {
				if err := json.Unmarshal([]byte(configJSON), &def.Config); err != nil {
					return fmt.Errorf("invalid --config JSON: %w", err)
				}
			}

			step, err := client.AddStep(args[0], def)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Step added: %s", step.ID))
			out.Print(
				[]string{"ORDER", "NAME", "MAX_VISITS", "STEP_ID"},
				[][]string{{strconv.Itoa(step.Order), step.Name, strconv.Itoa(step.MaxVisits), step.ID}},
				step,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Step name (required)")
	cmd.Flags().IntVar(&order, "order", 0, "Step order (required)")
	cmd.Flags().IntVar(&maxVisits, "max-visits", 1, "Maximum visits before the loop guard trips")
	cmd.Flags().StringVar(&configJSON, "config", "", "Step config as inline JSON")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("order")

	return cmd
}
