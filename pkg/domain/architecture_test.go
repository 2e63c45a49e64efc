package domain

import (
	"testing"

	"shift2me/testutil"
)

// TestDomainDoesNotImportInternal keeps the domain layer free of internal
// implementation packages.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "domain must stay independent of internal packages")
}
