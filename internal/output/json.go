// Package output implements blocksqlctl's JSON response envelope, grounded
// on the teacher's internal/output package verbatim: a stable
// success/error envelope shape so agent callers parsing the CLI's stdout
// never have to branch on exit code alone.
package output

import (
	"encoding/json"
	"errors"
	"io"
	"os"
)

// recoverableError mirrors errs.RecoverableError locally to avoid an import
// cycle; errors.As against an interface works structurally, so any
// implementor (errs's typed structs) matches without coupling output to errs.
type recoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}

// Response is the stable JSON envelope every blocksqlctl subcommand prints.
type Response struct {
	SchemaVersion   string            `json:"schema_version"`
	Success         bool              `json:"success"`
	Data            interface{}       `json:"data,omitempty"`
	Error           string            `json:"error,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ErrorContext    map[string]string `json:"error_context,omitempty"`
	SuggestedAction string            `json:"suggested_action,omitempty"`
}

// Config holds output configuration.
type Config struct {
	Writer io.Writer
	Pretty bool
}

// DefaultConfig returns configuration using stdout and BLOCKSQL_PRETTY_JSON.
func DefaultConfig() Config {
	pretty := os.Getenv("BLOCKSQL_PRETTY_JSON") == "1" || os.Getenv("BLOCKSQL_PRETTY_JSON") == "true"
	return Config{Writer: os.Stdout, Pretty: pretty}
}

// Success wraps a successful response with data.
func Success(data interface{}) Response {
	return Response{SchemaVersion: "v1", Success: true, Data: data}
}

// Error wraps an error in a response, enriching with errs.RecoverableError
// metadata when present (spec §7 error kinds).
func Error(err error) Response {
	resp := Response{SchemaVersion: "v1", Success: false, Error: err.Error()}
	var re recoverableError
	if errors.As(err, &re) {
		resp.ErrorCode = re.ErrorCode()
		resp.ErrorContext = re.Context()
		resp.SuggestedAction = re.SuggestedAction()
	}
	return resp
}

// PrintWith prints v as JSON to cfg's writer.
func PrintWith(cfg Config, v interface{}) error {
	enc := json.NewEncoder(cfg.Writer)
	if cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// Print prints v as JSON to stdout, compact by default; set
// BLOCKSQL_PRETTY_JSON=1 for human-readable output.
func Print(v interface{}) error {
	return PrintWith(DefaultConfig(), v)
}

// PrintSuccess prints a success response.
func PrintSuccess(data interface{}) error {
	return Print(Success(data))
}

// PrintError prints an error response.
func PrintError(err error) error {
	return Print(Error(err))
}
