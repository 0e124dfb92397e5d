package solver

import (
	"testing"

	"reconstructor/testutil"
)

func TestNoPipelineImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.PipelineImportForbidden, "solver is a pure algorithm package")
}
