package terminal

import (
	"fmt"
	"io"
	"os"
	"text/template"

	"github.com/de-tools/aaflow/pkg/services/fi"
)

// Reporter prints the outcome of a pipeline run in plain text.
type Reporter struct {
	writer io.Writer
}

func NewReporter(writer io.Writer) *Reporter {
	if writer == nil {
		writer = os.Stdout
	}
	return &Reporter{writer: writer}
}

func (c *Reporter) Handle(result *fi.BatchResult) error {
	tmpl := `Workflow {{.WorkflowID}}{{if .Skipped}}: skipped ({{.Reason}}){{else}}
Transaction: {{.TxnID}}
Blocks: {{.Blocks}}
Holdings: {{len .Holdings}}
Failed blocks: {{.FailedBlocks}}
Failures: {{len .Failures}}
{{range .Failures}}- fip {{.FipID}} block {{.BlockIndex}} [{{.Stage}}]: {{.Err}}
{{end}}{{end}}
`
	t, err := template.New("batch").Parse(tmpl)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	return t.Execute(c.writer, result)
}
