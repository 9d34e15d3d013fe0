// Command censusctl administers forest censuses: reference data, plot
// assignment, the review workflow, sync batch reconciliation and metrics.
package main

import (
	"fmt"
	"io"
	"os"

	"forestcensus/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

// cli runs one command and returns the process exit code: 0 on success, 1 on
// a usage or infrastructure error and 2 when the workflow refused the
// operation with a typed domain error.
func cli(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err == nil {
		return 0
	}
	kind := domain.KindOf(err)
	if kind == domain.KindUnknown {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "Error [%s]: %v\n", kind, err)
	return 2
}
