// Package cli provides the command-line interface for the backtester.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"straddle-backtester/internal/config"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	format       string
	colorEnabled bool
}

// NewOutput creates a new Output instance. --json and --yaml override the
// configured format.
func NewOutput(cmd *cobra.Command, cfg *config.Config) *Output {
	format := config.FormatTable
	colorEnabled := true
	if cfg != nil {
		format = cfg.Output.Format
		colorEnabled = cfg.Output.ColorEnabled
	}
	if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
		format = config.FormatJSON
	}
	if yamlMode, _ := cmd.Flags().GetBool("yaml"); yamlMode {
		format = config.FormatYAML
	}
	return &Output{
		writer:       cmd.OutOrStdout(),
		format:       format,
		colorEnabled: colorEnabled && format == config.FormatTable && isTerminal(cmd.OutOrStdout()),
	}
}

// isTerminal checks if w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// IsStructured returns true for JSON or YAML output.
func (o *Output) IsStructured() bool {
	return o.format == config.FormatJSON || o.format == config.FormatYAML
}

// Emit writes data in the structured format. YAML keys follow the JSON
// field names.
func (o *Output) Emit(data interface{}) error {
	if o.format == config.FormatYAML {
		return o.YAML(data)
	}
	return o.JSON(data)
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// YAML outputs data as YAML.
func (o *Output) YAML(data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(o.writer)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.colored(color.FgGreen, format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.colored(color.FgRed, format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.colored(color.FgYellow, format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.colored(color.FgCyan, format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.colored(color.Bold, format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.colored(color.Faint, format, args...)
}

func (o *Output) colored(attr color.Attribute, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if !o.colorEnabled {
		fmt.Fprintln(o.writer, msg)
		return
	}
	c := color.New(attr)
	c.EnableColor()
	c.Fprintln(o.writer, msg)
}

// ColoredString returns a colored string without newline.
func (o *Output) ColoredString(attr color.Attribute, text string) string {
	if !o.colorEnabled {
		return text
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(text)
}

// PnLColor returns the appropriate color for P&L.
func PnLColor(pnl float64) color.Attribute {
	if pnl > 0 {
		return color.FgGreen
	} else if pnl < 0 {
		return color.FgRed
	}
	return color.FgWhite
}

// FormatPnL formats P&L with color.
func (o *Output) FormatPnL(pnl float64) string {
	return o.ColoredString(PnLColor(pnl), FormatPnL(pnl))
}

// FormatPercent formats a fraction as a signed percentage with color.
func (o *Output) FormatPercent(frac float64) string {
	return o.ColoredString(PnLColor(frac), FormatPercent(frac*100))
}

// Table renders rows with tablewriter.
type Table struct {
	table *tablewriter.Table
}

// NewTable creates a new table.
func NewTable(output *Output, headers ...string) *Table {
	t := tablewriter.NewWriter(output.writer)
	cells := make([]any, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	t.Header(cells...)
	return &Table{table: t}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	row := make([]any, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	t.table.Append(row...)
}

// Render renders the table.
func (t *Table) Render() error {
	return t.table.Render()
}

// finite maps NaN and infinities to nil so values survive JSON encoding.
func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
