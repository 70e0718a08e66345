package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/flipbookflow/internal/models"
)

// WorkflowEnqueuer starts a Workflows execution per conversion request. The
// workflow calls the page renderer and owns its own retry policy.
type WorkflowEnqueuer struct {
	client *executions.Client
	parent string
}

func NewWorkflowEnqueuer(client *executions.Client, projectID, location, workflowID string) *WorkflowEnqueuer {
	return &WorkflowEnqueuer{
		client: client,
		parent: WorkflowParent(projectID, location, workflowID),
	}
}

// WorkflowParent is the resource name executions are created under.
func WorkflowParent(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

// Enqueue creates an execution whose argument is the convert request and
// returns the execution name.
func (e *WorkflowEnqueuer) Enqueue(ctx context.Context, req models.ConvertRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := e.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: e.parent,
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return exec.GetName(), nil
}
