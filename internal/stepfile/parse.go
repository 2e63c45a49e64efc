package stepfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"shift2me/pkg/domain"
)

// linePattern matches "<position><label?> <h> <n>". The label is either
// glued to the position (42N-H) or a separate non-numeric token.
var linePattern = regexp.MustCompile(
	`^(\d+)(\S*?)(?:\s+([^\s\d.+-]\S*))?\s+([-+]?\d+(?:\.\d*)?)\s+([-+]?\d+(?:\.\d*)?)$`)

const maxLineBytes = 1 << 20

// Result holds the records of one step file, in file order, and the lines
// that were skipped.
type Result struct {
	Records []domain.Record
	Errors  []domain.ParseError
}

// Err joins the skipped line errors, or returns nil.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Parse reads a step file. Lines not starting with a digit are headers and
// are ignored. A data line that does not decode is reported in
// Result.Errors and parsing continues. Only read failures are returned as
// an error.
func Parse(r io.Reader, source string) (Result, error) {
	var res Result
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] < '0' || text[0] > '9' {
			continue
		}
		record, ok := ParseLine(text)
		if !ok {
			res.Errors = append(res.Errors, domain.ParseError{Source: source, Line: line, Text: text})
			continue
		}
		res.Records = append(res.Records, record)
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("read %s: %w", source, err)
	}
	return res, nil
}

// ParseLine decodes a single trimmed data line.
func ParseLine(text string) (domain.Record, bool) {
	m := linePattern.FindStringSubmatch(text)
	if m == nil {
		return domain.Record{}, false
	}
	pos, err := strconv.Atoi(m[1])
	if err != nil {
		return domain.Record{}, false
	}
	h, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return domain.Record{}, false
	}
	n, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return domain.Record{}, false
	}
	label := m[2]
	if label == "" {
		label = m[3]
	}
	return domain.Record{Position: pos, Label: label, H: h, N: n}, true
}
