package domain

import (
	"testing"

	"forestcensus/testutil"
)

func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden,
		"domain types are shared by every layer and must stay free of implementation packages")
}
