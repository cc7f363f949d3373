package core_test

import (
	"testing"

	"clinicflow/testutil"
)

func TestCoreStaysTransportFree(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.TransportImport, "core must not depend on transport packages")
}
