package export

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Reporter renders workflow records and holdings as tables.
type Reporter struct {
	writer io.Writer
	style  table.Style
}

func NewReporter(writer io.Writer) *Reporter {
	if writer == nil {
		writer = os.Stdout
	}
	return &Reporter{
		writer: writer,
		style:  table.StyleRounded,
	}
}

func (c *Reporter) Workflow(rec *domain.WorkflowRecord) error {
	keys := "no"
	if rec.DataFlow.HasKeys() {
		keys = "yes"
	}
	rows := [][]string{
		{"Workflow", rec.WorkflowID},
		{"User", rec.UserRef},
		{"Status", string(rec.Status)},
		{"Consent handle", rec.ConsentFlow.ConsentHandle},
		{"Consent id", rec.ConsentFlow.ConsentID},
		{"Consent status", rec.ConsentFlow.ConsentStatus},
		{"Signed consent", present(rec.ConsentFlow.SignedConsent)},
		{"Key material", keys},
		{"Session id", rec.DataFlow.SessionID},
		{"FI data range", rec.ConsentItem.ConsentDetail.FIDataRange.From + " .. " + rec.ConsentItem.ConsentDetail.FIDataRange.To},
	}
	return c.render([]string{"Field", "Value"}, rows, nil)
}

func (c *Reporter) Holdings(holdings []domain.LinkedHolding) error {
	rows := make([][]string, 0, len(holdings))
	for _, h := range holdings {
		rows = append(rows, []string{h.ISIN, h.Name, strconv.FormatInt(h.AveragePrice, 10)})
	}
	return c.render([]string{"ISIN", "Name", "Average price"}, rows, map[int]text.Align{3: text.AlignRight})
}

func (c *Reporter) render(headers []string, rows [][]string, aligns map[int]text.Align) error {
	tw := table.NewWriter()
	tw.SetStyle(c.style)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align, ok := aligns[i+1]
		if !ok {
			align = text.AlignLeft
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	_, err := fmt.Fprintln(c.writer, tw.Render())
	return err
}

func present(s string) string {
	if s == "" {
		return "no"
	}
	return "yes"
}
