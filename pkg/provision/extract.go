package provision

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// extractCommand returns the platform tool invocation that unpacks archive
// into dir.
func extractCommand(ctx context.Context, goos, archive, dir string) (*exec.Cmd, error) {
	switch {
	case strings.HasSuffix(archive, ".tar.gz"), strings.HasSuffix(archive, ".tgz"):
		return exec.CommandContext(ctx, "tar", "-xzf", archive, "-C", dir), nil
	case strings.HasSuffix(archive, ".zip") && goos == "windows":
		script := fmt.Sprintf("Expand-Archive -Force -LiteralPath '%s' -DestinationPath '%s'",
			psQuote(archive), psQuote(dir))
		return exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script), nil
	case strings.HasSuffix(archive, ".zip"):
		return exec.CommandContext(ctx, "unzip", "-o", "-q", archive, "-d", dir), nil
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", archive)
	}
}

func psQuote(s string) string { return strings.ReplaceAll(s, "'", "''") }

// extract unpacks archive into dir. A non-zero exit status yields an error
// carrying the tool's combined output.
func extract(ctx context.Context, goos, archive, dir string) error {
	cmd, err := extractCommand(ctx, goos, archive, dir)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("extract %s with %s: %w: %s", archive, cmd.Args[0], err, strings.TrimSpace(out.String()))
	}
	return nil
}
