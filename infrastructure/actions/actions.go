// Package actions mirrors log records as GitHub Actions workflow commands
// so that warnings and errors surface as annotations on the workflow run.
package actions

import (
	"fmt"
	"io"
	"os"
	"strings"

	logger "github.com/sirupsen/logrus"
)

// Enabled reports whether the process is running inside a GitHub Actions
// step.
func Enabled() bool {
	return os.Getenv("CI") == "true" && os.Getenv("GITHUB_ACTION") != ""
}

// Hook is a logrus hook that emits workflow commands for each record.
type Hook struct {
	// Out defaults to os.Stdout; workflow commands are only interpreted on
	// the step's standard output.
	Out io.Writer
}

// NewHook creates a Hook writing to standard output.
func NewHook() *Hook {
	return &Hook{Out: os.Stdout}
}

func (h *Hook) Levels() []logger.Level {
	return logger.AllLevels
}

func (h *Hook) Fire(entry *logger.Entry) error {
	message := escape(entry.Message)

	var command string
	switch {
	case entry.Level <= logger.ErrorLevel:
		command = "error"
	case entry.Level == logger.WarnLevel:
		command = "warning"
	case entry.Level == logger.InfoLevel:
		command = "notice"
	default:
		command = "debug"
	}

	_, err := fmt.Fprintf(h.Out, "::%s::%s\n", command, message)
	return err
}

// escape encodes the characters that terminate a workflow command value.
func escape(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	s = strings.ReplaceAll(s, "\n", "%0A")
	return s
}
