package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const (
	tableOutput = "table"
	jsonOutput  = "json"
)

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", out)
	return nil
}

func validateOutputFormat(format string) error {
	if format != tableOutput && format != jsonOutput {
		return fmt.Errorf("invalid output format %q; one of: \"table\", \"json\"", format)
	}
	return nil
}

// millisToTime converts the hub's millisecond timestamps.
func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
