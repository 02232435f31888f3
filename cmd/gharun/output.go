package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/lucasew/gharun/internal/retrieve"
)

type resultJSON struct {
	Output string   `json:"output"`
	Error  string   `json:"error"`
	Images []string `json:"images"`
	RunID  int64    `json:"run_id,omitempty"`
	RunURL string   `json:"run_url,omitempty"`
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, res *retrieve.Result, asJSON bool, runID int64, runURL string) error {
	if asJSON {
		return printJSON(w, resultJSON{
			Output: res.OutputText,
			Error:  res.ErrorText,
			Images: res.Images,
			RunID:  runID,
			RunURL: runURL,
		})
	}

	fmt.Fprintln(w, "=== output.txt ===")
	fmt.Fprint(w, ensureNewline(res.OutputText))
	if res.ErrorText != "" {
		fmt.Fprintln(w, "=== error.txt ===")
		fmt.Fprint(w, ensureNewline(res.ErrorText))
	}
	if len(res.Images) > 0 {
		fmt.Fprintln(w, "=== images ===")
		for _, img := range res.Images {
			fmt.Fprintln(w, img)
		}
	}
	return nil
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
