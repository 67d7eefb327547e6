package main

import (
	"os"

	"github.com/fatih/color"

	"courseplanner/internal/courseplanner"
)

var (
	rowPrintf  = color.New(color.FgWhite).PrintfFunc()
	infoPrintf = color.New(color.FgGreen).PrintfFunc()
	warnPrintf = color.New(color.FgYellow).PrintfFunc()

	errorFprintln = color.New(color.FgRed).FprintlnFunc()
	statsFprintf  = color.New(color.FgCyan).FprintfFunc()
)

func errorPrintln(a ...interface{}) {
	errorFprintln(os.Stderr, a...)
}

// printStats goes to stderr so listings stay pipeable.
func printStats(ss courseplanner.StatsSnapshot) {
	statsFprintf(os.Stderr, "cache: hits=%d misses=%d stale=%d failures=%d\n",
		ss.Hits, ss.Misses, ss.Refreshes, ss.Failures)
}
