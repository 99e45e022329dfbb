package main

import (
	"bytes"
	"strings"
	"testing"
)

// cobraTest executes rootCmd with args, capturing combined stdout/stderr
// and occystrap's own --script-friendly/search output writer, mirroring
// the teacher's root-command test harness (cmd/regctl's cobraTest).
func cobraTest(t *testing.T, args ...string) (string, error) {
	t.Helper()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)

	prevStdout := stdout
	stdout = buf
	defer func() { stdout = prevStdout }()

	err := rootCmd.Execute()
	return strings.TrimSpace(buf.String()), err
}
