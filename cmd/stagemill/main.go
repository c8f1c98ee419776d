package main

import (
	"os"

	"github.com/lbekk/stagemill/internal/cmds"
	"github.com/lbekk/stagemill/internal/runtime"
)

func main() {
	os.Exit(run())
}

// run keeps os.Exit out of the deferred-Finalize path so shutdown hooks and
// log flushing always happen.
func run() int {
	var execErr error

	rt := runtime.New()
	defer rt.Finalize("stagemill", "Type 'stagemill help' to get help.", &execErr)

	execErr = cmds.Execute(rt)
	if execErr != nil {
		return 1
	}
	return 0
}
