// Package history keeps the results of previous verification runs in a bbolt database.
// Entries are informational; they are never used to skip a job.
package history

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"

	"github.com/ngld/xverify/pkg/matrix"
)

var (
	runsBucket         = []byte("runs")
	fingerprintsBucket = []byte("fingerprints")
)

// Entry is the stored form of a job result.
type Entry struct {
	RunID       string        `json:"run_id"`
	Seq         uint64        `json:"seq"`
	Job         string        `json:"job"`
	Command     []string      `json:"command"`
	Target      string        `json:"target"`
	Profile     string        `json:"profile"`
	Fingerprint string        `json:"fingerprint"`
	Status      matrix.Status `json:"status"`
	Kind        string        `json:"kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	ExitCode    int           `json:"exit_code"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
	// Output is brotli-compressed; use OutputText to read it.
	Output []byte `json:"output,omitempty"`
}

// Store wraps the history database.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open history %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{runsBucket, fingerprintsBucket} {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialize history")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a job result.
func (s *Store) Record(ctx context.Context, result matrix.Result) error {
	entry := Entry{
		RunID:       result.RunID,
		Job:         result.Job.Name(),
		Command:     result.Command,
		Target:      result.Target,
		Profile:     result.Profile,
		Fingerprint: result.Fingerprint,
		Status:      result.Status,
		Kind:        string(result.Kind),
		ExitCode:    result.ExitCode,
		Started:     result.Started,
		Duration:    result.Duration,
	}
	if result.Err != nil {
		entry.Error = result.Err.Error()
	}

	if result.Output != "" {
		compressed, err := compress(result.Output)
		if err != nil {
			return err
		}
		entry.Output = compressed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(runsBucket)
		seq, err := runs.NextSequence()
		if err != nil {
			return err
		}
		entry.Seq = seq

		encoded, err := json.Marshal(entry)
		if err != nil {
			return eris.Wrap(err, "failed to encode history entry")
		}

		err = runs.Put(seqKey(seq), encoded)
		if err != nil {
			return err
		}

		if entry.Fingerprint != "" {
			err = tx.Bucket(fingerprintsBucket).Put([]byte(entry.Fingerprint), seqKey(seq))
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Job   string
	RunID string
	// Limit caps the number of returned entries, newest first.
	Limit int
}

// List returns the stored entries matching filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	entries := []Entry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(runsBucket).Cursor()
		for key, value := cursor.Last(); key != nil; key, value = cursor.Prev() {
			var entry Entry
			err := json.Unmarshal(value, &entry)
			if err != nil {
				return eris.Wrapf(err, "failed to decode history entry %d", binary.BigEndian.Uint64(key))
			}

			if filter.Job != "" && entry.Job != filter.Job {
				continue
			}
			if filter.RunID != "" && entry.RunID != filter.RunID {
				continue
			}

			entries = append(entries, entry)
			if filter.Limit > 0 && len(entries) >= filter.Limit {
				break
			}
		}

		return nil
	})

	return entries, err
}

// Runs returns the ids of stored runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	latest := map[string]uint64{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(key, value []byte) error {
			var entry Entry
			err := json.Unmarshal(value, &entry)
			if err != nil {
				return err
			}

			if entry.Seq > latest[entry.RunID] {
				latest[entry.RunID] = entry.Seq
			}
			return nil
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to read history")
	}

	runs := make([]string, 0, len(latest))
	for id := range latest {
		runs = append(runs, id)
	}
	sort.Slice(runs, func(i, j int) bool {
		return latest[runs[i]] > latest[runs[j]]
	})

	return runs, nil
}

// Last returns the newest entry with the given fingerprint.
func (s *Store) Last(ctx context.Context, fingerprint string) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		seq := tx.Bucket(fingerprintsBucket).Get([]byte(fingerprint))
		if seq == nil {
			return nil
		}

		value := tx.Bucket(runsBucket).Get(seq)
		if value == nil {
			return nil
		}

		entry = new(Entry)
		return json.Unmarshal(value, entry)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to look up %s", fingerprint)
	}

	return entry, nil
}

// OutputText decompresses the entry's tool output.
func (e Entry) OutputText() (string, error) {
	if len(e.Output) == 0 {
		return "", nil
	}

	data, err := io.ReadAll(brotli.NewReader(bytes.NewReader(e.Output)))
	if err != nil {
		return "", eris.Wrapf(err, "failed to decompress output of %s", e.Job)
	}

	return string(data), nil
}

func compress(text string) ([]byte, error) {
	buffer := bytes.Buffer{}
	writer := brotli.NewWriterLevel(&buffer, brotli.DefaultCompression)
	_, err := io.WriteString(writer, text)
	if err != nil {
		return nil, eris.Wrap(err, "failed to compress output")
	}

	err = writer.Close()
	if err != nil {
		return nil, eris.Wrap(err, "failed to compress output")
	}

	return buffer.Bytes(), nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
