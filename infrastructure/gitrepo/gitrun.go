package gitrepo

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	logger "github.com/sirupsen/logrus"
)

// excerptLines is how many trailing output lines are carried into log
// records and error messages. The complete output stays in the log file.
const excerptLines = 15

// tailBuffer keeps the last excerptLines lines written to it.
type tailBuffer struct {
	lines   []string
	partial strings.Builder
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			t.push(t.partial.String())
			t.partial.Reset()
			continue
		}
		t.partial.WriteByte(b)
	}
	return len(p), nil
}

func (t *tailBuffer) push(line string) {
	if len(t.lines) >= excerptLines {
		t.lines = t.lines[1:]
	}
	t.lines = append(t.lines, line)
}

// Excerpt returns the retained trailing lines as a single string.
func (t *tailBuffer) Excerpt() string {
	lines := t.lines
	if t.partial.Len() > 0 {
		lines = append(lines, t.partial.String())
	}
	return strings.Join(lines, "\n")
}

// runGit runs a git command in dir, writing the combined output to a
// persisted log file for post-mortem diagnosis. It returns the log file path
// and the trailing output excerpt; on a non-zero exit the error message
// carries both.
func runGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	logFile, err := os.CreateTemp("", "subsync-*.log")
	if err != nil {
		return "", "", fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()

	tail := &tailBuffer{}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = io.MultiWriter(logFile, tail)
	cmd.Stderr = cmd.Stdout

	logger.Debugf("Running git %s in %q (log: %s)", strings.Join(args, " "), dir, logFile.Name())

	if runErr := cmd.Run(); runErr != nil {
		return logFile.Name(), tail.Excerpt(), fmt.Errorf(
			"git %s failed: %w; the last lines of the log are (complete log: %s):\n%s",
			strings.Join(args, " "), runErr, logFile.Name(), indent(tail.Excerpt()),
		)
	}

	return logFile.Name(), tail.Excerpt(), nil
}

func indent(s string) string {
	if s == "" {
		return s
	}
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
