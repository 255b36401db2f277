package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pendergraft/contraverify/internal/verification/domain"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (use text, json or yaml)", format)
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	if format == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// writeReport prints a verification report.
func writeReport(w io.Writer, report *domain.Report, format string) error {
	if format != outputText {
		return writeStructured(w, format, report)
	}

	fmt.Fprintf(w, "Chain %s, mode %s, %s\n", report.ChainID, report.Mode, report.FinishedAt.Sub(report.StartedAt).Round(time.Second))
	for i := range report.Contracts {
		cr := &report.Contracts[i]
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s at %s\n", cr.Name, cr.Address)

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, res := range cr.Results {
			detail := res.URL
			if res.Status == domain.StatusFailure {
				detail = res.Reason
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", statusMark(res.Status), res.Backend, res.Status, detail)
		}
		tw.Flush()
		fmt.Fprintf(w, "  %s\n", contractSummary(cr))
	}
	if report.Error != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Error: %s\n", report.Error)
	}
	return nil
}

func statusMark(s domain.Status) string {
	if s == domain.StatusFailure {
		return "✗"
	}
	return "✓"
}

// contractSummary reports full or partial success of one contract.
func contractSummary(cr *domain.ContractReport) string {
	succeeded, attempted := cr.Succeeded(), len(cr.Results)
	switch {
	case attempted == 0:
		if cr.Reason != "" {
			return "not verified: " + cr.Reason
		}
		return "not verified"
	case succeeded == 0:
		return fmt.Sprintf("not verified: failed on all %d attempted backends", attempted)
	case succeeded < attempted:
		return fmt.Sprintf("verified, but only %d/%d backends succeeded", succeeded, attempted)
	}
	return fmt.Sprintf("verified on %d/%d backends", succeeded, attempted)
}

// writeHistory prints a page of stored reports.
func writeHistory(w io.Writer, page *domain.HistoryPage, format string) error {
	if format != outputText {
		return writeStructured(w, format, page)
	}

	if len(page.Reports) == 0 {
		fmt.Fprintln(w, "No verification runs found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tCHAIN\tCONTRACT\tADDRESS\tRESULT")
	for i := range page.Reports {
		r := &page.Reports[i]
		name, addr := "-", "-"
		if p := r.Primary(); p != nil {
			name, addr = p.Name, truncateAddress(p.Address)
		}
		result := "ok"
		if !r.Success {
			result = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.ChainID, name, addr, result)
	}
	tw.Flush()

	if page.HasMore {
		fmt.Fprintf(w, "\nMore runs available: --cursor %s\n", page.NextCursor)
	}
	return nil
}

func truncateAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
