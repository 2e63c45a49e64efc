// Package stepfile validates step file names and parses their per-residue
// chemical shift lines into domain records.
package stepfile

import (
	"path/filepath"
	"regexp"
	"strconv"

	"shift2me/pkg/domain"
)

// Extensions accepted for step files.
var Extensions = []string{".list", ".txt"}

var pathPattern = regexp.MustCompile(`^(.*\D)(\d+)\.(?:list|txt)$`)

// StepNumber returns the step number encoded in a step file name, i.e. the
// digits right before the extension.
func StepNumber(path string) (int, error) {
	m := pathPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, domain.FilePathError{Path: path, Expected: -1, Found: -1}
	}
	step, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, domain.FilePathError{Path: path, Expected: -1, Found: -1}
	}
	return step, nil
}

// ValidatePath checks that path names the expected step.
func ValidatePath(path string, expected int) (int, error) {
	step, err := StepNumber(path)
	if err != nil {
		return 0, domain.FilePathError{Path: path, Expected: expected, Found: -1}
	}
	if step != expected {
		return step, domain.FilePathError{Path: path, Expected: expected, Found: step}
	}
	return step, nil
}

// Match reports whether path looks like a step file.
func Match(path string) bool {
	_, err := StepNumber(path)
	return err == nil
}
