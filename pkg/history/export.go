package history

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// exportRecord is one line of an export. Unlike Entry, the output is plain text.
type exportRecord struct {
	RunID       string    `json:"run_id"`
	Job         string    `json:"job"`
	Command     []string  `json:"command"`
	Target      string    `json:"target"`
	Profile     string    `json:"profile"`
	Fingerprint string    `json:"fingerprint"`
	Status      string    `json:"status"`
	Kind        string    `json:"kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	ExitCode    int       `json:"exit_code"`
	Started     time.Time `json:"started"`
	DurationMS  int64     `json:"duration_ms"`
	Output      string    `json:"output,omitempty"`
}

// Export writes the entries matching filter as xz-compressed JSON lines, oldest first.
// The result is meant to be uploaded as a CI artifact.
func (s *Store) Export(ctx context.Context, w io.Writer, filter Filter) (int, error) {
	entries, err := s.List(ctx, filter)
	if err != nil {
		return 0, err
	}

	xzw, err := xz.NewWriter(w)
	if err != nil {
		return 0, eris.Wrap(err, "failed to initialize xz compressor")
	}

	buffered := bufio.NewWriter(xzw)
	encoder := json.NewEncoder(buffered)
	for idx := len(entries) - 1; idx >= 0; idx-- {
		entry := entries[idx]
		output, err := entry.OutputText()
		if err != nil {
			return 0, err
		}

		err = encoder.Encode(exportRecord{
			RunID:       entry.RunID,
			Job:         entry.Job,
			Command:     entry.Command,
			Target:      entry.Target,
			Profile:     entry.Profile,
			Fingerprint: entry.Fingerprint,
			Status:      string(entry.Status),
			Kind:        entry.Kind,
			Error:       entry.Error,
			ExitCode:    entry.ExitCode,
			Started:     entry.Started,
			DurationMS:  entry.Duration.Milliseconds(),
			Output:      output,
		})
		if err != nil {
			return 0, eris.Wrapf(err, "failed to write entry %d", entry.Seq)
		}
	}

	if err = buffered.Flush(); err != nil {
		return 0, eris.Wrap(err, "failed to write export")
	}

	if err = xzw.Close(); err != nil {
		return 0, eris.Wrap(err, "failed to finish export")
	}

	return len(entries), nil
}
