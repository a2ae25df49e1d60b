//go:build windows

package cmd

import "os"

// ttyWidth returns 0 on Windows; termWidth falls back to $COLUMNS.
func ttyWidth(*os.File) int {
	return 0
}
