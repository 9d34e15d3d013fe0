package core

import (
	"testing"

	"forestcensus/testutil"
)

func TestBlobContractIsDomainAgnostic(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.DomainImportForbidden, "blob keys and drivers know nothing about census records")
}
