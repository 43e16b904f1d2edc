package notify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// EmailOutput reads the captured output file for a run and dispatches it to
// the given addresses.
//
// With onlyIfOutput set, a missing file or empty content is a silent no-op.
// Without it, a missing or unreadable file is an error: the caller asked for
// the output unconditionally, so silently mailing nothing would hide the
// capture failure.
func EmailOutput(ctx context.Context, mailer Mailer, outputPath, subject string, addresses []string, onlyIfOutput bool) error {
	if mailer == nil {
		return errors.New("no mailer configured")
	}
	if len(addresses) == 0 {
		return errors.New("no recipient addresses")
	}

	b, err := os.ReadFile(outputPath)
	if err != nil {
		if onlyIfOutput && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read captured output %q: %w", outputPath, err)
	}
	if onlyIfOutput && strings.TrimSpace(string(b)) == "" {
		return nil
	}

	return mailer.SendRaw(ctx, string(b), Message{To: addresses, Subject: subject})
}
