package terminal

import (
	"bytes"
	"context"
	"testing"

	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/runtime/terminal/commands"
	"github.com/de-tools/aaflow/pkg/services/fi"
	"github.com/de-tools/aaflow/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLI_WorkflowCreate(t *testing.T) {
	store := memory.NewStore()
	var out bytes.Buffer
	cli := NewCLI(Options{
		Output: &out,
		Loader: func(context.Context) (*commands.Env, error) {
			return &commands.Env{Store: store}, nil
		},
	})

	err := cli.ExecuteContext(context.Background(), "workflow", "create", "W1", "--user", "U1", "--consent-handle", "H1")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "W1")

	rec, err := store.GetWorkflow(context.Background(), "W1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusPending, rec.Status)
}

func TestCLI_DefaultLoaderFailsOnMissingCredentials(t *testing.T) {
	cli := NewCLI(Options{Output: &bytes.Buffer{}})
	err := cli.ExecuteContext(context.Background(),
		"workflow", "show", "W1", "--credentials", t.TempDir()+"/missing.ini")
	assert.Error(t, err)
}

func TestReporter_Handle(t *testing.T) {
	tests := []struct {
		name     string
		result   *fi.BatchResult
		contains []string
	}{
		{
			name:     "skipped",
			result:   &fi.BatchResult{WorkflowID: "W1", Skipped: true, Reason: "already processed"},
			contains: []string{"Workflow W1: skipped (already processed)"},
		},
		{
			name: "processed with failure",
			result: &fi.BatchResult{
				WorkflowID:   "W1",
				TxnID:        "T1",
				Blocks:       2,
				Holdings:     []domain.LinkedHolding{{ISIN: "INE1"}},
				FailedBlocks: 1,
				Failures: []fi.ItemFailure{
					{FipID: "FIP-1", BlockIndex: 1, Stage: fi.StageDecrypt, Err: assert.AnError},
				},
			},
			contains: []string{"Transaction: T1", "Blocks: 2", "Holdings: 1", "Failed blocks: 1", "Failures: 1", "fip FIP-1 block 1 [decrypt]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, NewReporter(&out).Handle(tt.result))
			for _, s := range tt.contains {
				assert.Contains(t, out.String(), s)
			}
		})
	}
}
