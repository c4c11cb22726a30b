// Package mrpscript turns operator source into a self-contained script that
// runs one operator invocation and prints its result as a single JSON line,
// and recovers that result from the combined output of the run.
package mrpscript

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/bcongdon/mrp/internal/pkg/mrpcodec"
)

// ErrNoDocument is returned when script output has no line holding a JSON
// object.
var ErrNoDocument = errors.New("output contains no JSON document")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Invocation is one operator call to embed in a script.
type Invocation struct {
	Source     string
	Entrypoint string
	Payload    interface{}
	Seed       string
}

// Runtime knows how to wrap operator source for one interpreter.
type Runtime interface {
	// Name identifies the runtime in logs.
	Name() string
	// Extension is the file extension of materialized units, without dot.
	Extension() string
	// Interpreter is the command that executes a wrapped script file.
	Interpreter() []string
	// Wrap renders a script for inv.
	Wrap(inv Invocation) (string, error)
}

// ValidEntrypoint reports whether name can be embedded as an entrypoint.
func ValidEntrypoint(name string) bool {
	return identifierPattern.MatchString(name)
}

// LastDocument returns the last line of output that holds a JSON object.
// Any diagnostic output before it is ignored.
func LastDocument(output string) (map[string]interface{}, error) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		if !gjson.Valid(line) {
			continue
		}

		var doc map[string]interface{}
		if err := mrpcodec.Decode([]byte(line), &doc); err != nil {
			continue
		}
		return doc, nil
	}
	return nil, fmt.Errorf("%w (output head: %.200q)", ErrNoDocument, output)
}
