package mediainfo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/airlookjs/mediainfo/internal/format"
	"github.com/airlookjs/mediainfo/pkg/logger"
)

// DocumentKey is the key under which parsed JSON output is nested.
const DocumentKey = "mediainfo"

// Result is a successfully interpreted analysis. Document is populated
// for JSON formats; Text holds the verbatim output for every other kind.
type Result struct {
	Kind     format.Kind
	Document map[string]any
	Text     string
}

// FailureError indicates mediainfo reported a problem on stderr. The
// message is the stderr output, unaltered.
type FailureError struct {
	Stderr string
}

func (e *FailureError) Error() string {
	return e.Stderr
}

// Interpret applies the result policy to raw analyzer output:
//   - any stderr output is a failure, whatever the exit status, and stdout is discarded
//   - JSON formats have stdout parsed and nested under DocumentKey
//   - other formats pass stdout through verbatim
func Interpret(f format.OutputFormat, out Output) (*Result, error) {
	if out.Stderr != "" {
		log.Emit(logger.ERROR, "exec stderr %s\n", out.Stderr)
		return nil, &FailureError{Stderr: out.Stderr}
	}

	switch f.Kind {
	case format.JSON:
		parsed, err := ParseJSON([]byte(out.Stdout))
		if err != nil {
			return nil, fmt.Errorf("failed to parse mediainfo %s output: %w", f.Name, err)
		}

		return &Result{Kind: f.Kind, Document: map[string]any{DocumentKey: parsed}}, nil
	case format.XML, format.TEXT:
		return &Result{Kind: f.Kind, Text: out.Stdout}, nil
	}

	return nil, fmt.Errorf("output format %s has unknown kind %d", f.Name, f.Kind)
}

// ParseJSON decodes mediainfo JSON output. Numbers are kept as
// json.Number so values survive re-encoding unchanged. The output must
// hold exactly one JSON value.
func ParseJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}

	return out, nil
}
