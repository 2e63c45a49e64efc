package stepfile

import (
	"errors"
	"testing"

	"shift2me/pkg/domain"
)

func TestStepNumber(t *testing.T) {
	cases := []struct {
		path string
		step int
		ok   bool
	}{
		{"data/titration_0.list", 0, true},
		{"/abs/dir/sample12.list", 12, true},
		{"step3.txt", 3, true},
		{"a-b-007.list", 7, true},
		{"42.list", 0, false},
		{"step.list", 0, false},
		{"step3.csv", 0, false},
		{"step3.list.bak", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			step, err := StepNumber(tc.path)
			if tc.ok {
				if err != nil || step != tc.step {
					t.Fatalf("StepNumber(%q) = %d, %v", tc.path, step, err)
				}
				if !Match(tc.path) {
					t.Fatalf("Match(%q) = false", tc.path)
				}
				return
			}
			var fe domain.FilePathError
			if !errors.As(err, &fe) || fe.Found != -1 {
				t.Fatalf("expected FilePathError for %q, got %v", tc.path, err)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	if step, err := ValidatePath("run/ref2.list", 2); err != nil || step != 2 {
		t.Fatalf("unexpected %d %v", step, err)
	}
	_, err := ValidatePath("run/ref3.list", 2)
	var fe domain.FilePathError
	if !errors.As(err, &fe) || fe.Expected != 2 || fe.Found != 3 {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	_, err = ValidatePath("run/ref.list", 1)
	if !errors.As(err, &fe) || fe.Expected != 1 || fe.Found != -1 {
		t.Fatalf("expected naming error, got %v", err)
	}
}
