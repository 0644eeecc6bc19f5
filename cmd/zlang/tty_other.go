//go:build !linux

package main

// stderrIsTTY is conservative off Linux: diagnostics stay uncolored.
func stderrIsTTY() bool {
	return false
}
