// Package eventlog implements the append-only per-project event log.
//
// Each project owns one events.jsonl file under <root>/projects/<id>/.
// Appends assign a strictly increasing, gapless sequence number starting
// at 1 and are fsynced before they are acknowledged. The log is the sole
// source of truth; everything else in the system is derived from it.
package eventlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/zjrosen/croc/internal/engine/event"
	"github.com/zjrosen/croc/internal/log"
)

const logFileName = "events.jsonl"

// ErrInvalidProjectID is returned when a project id is empty or contains
// characters that are unsafe as a directory name.
var ErrInvalidProjectID = errors.New("invalid project id")

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// StorageError wraps a failure of the underlying storage medium. The
// originating operation is aborted; no partial event is ever visible.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Log manages the append-only event logs of all projects under one root
// directory. Distinct projects are fully independent: each has its own
// file, sequence counter, and lock.
type Log struct {
	root string

	mu       sync.Mutex
	projects map[string]*projectLog
}

type projectLog struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	sync    func() error
	size    int64
	lastSeq uint64
	// idempotency maps client-supplied keys to the seq they produced,
	// so retried appends return the original seq without a new record.
	idempotency map[string]uint64
}

// Open prepares a Log rooted at dir. Project files are opened lazily on
// first use; recovery (sequence counter, idempotency index, torn-write
// repair) happens at that point.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(filepath.Join(dir, "projects"), 0750); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return &Log{
		root:     dir,
		projects: make(map[string]*projectLog),
	}, nil
}

// Path returns the events file path for a project. The file may not exist yet.
func (l *Log) Path(projectID string) string {
	return filepath.Join(l.root, "projects", projectID, logFileName)
}

// Exists reports whether a project has any persisted events.
func (l *Log) Exists(projectID string) bool {
	info, err := os.Stat(l.Path(projectID))
	return err == nil && info.Size() > 0
}

// Projects lists the ids of all projects that have a log file.
func (l *Log) Projects() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, "projects"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StorageError{Op: "readdir", Path: l.root, Err: err}
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() && l.Exists(entry.Name()) {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// Append persists an event and returns its assigned sequence number.
// The event's Seq field is ignored on input. When the event carries an
// idempotency key that was already used for this project, the original
// seq is returned and nothing is written.
func (l *Log) Append(e event.Event) (uint64, error) {
	pl, err := l.project(e.ProjectID)
	if err != nil {
		return 0, err
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if e.IdempotencyKey != "" {
		if seq, ok := pl.idempotency[e.IdempotencyKey]; ok {
			log.Debug(log.CatStorage, "idempotent append short-circuited",
				"project", e.ProjectID, "key", e.IdempotencyKey, "seq", seq)
			return seq, nil
		}
	}

	e.Seq = pl.lastSeq + 1
	data, err := e.Marshal()
	if err != nil {
		return 0, &StorageError{Op: "encode", Path: pl.path, Err: err}
	}
	data = append(data, '\n')

	n, err := pl.file.Write(data)
	if err != nil {
		// Roll back a partial line so no torn record is ever acknowledged.
		if n > 0 {
			_ = pl.file.Truncate(pl.size)
			_, _ = pl.file.Seek(0, io.SeekEnd)
		}
		return 0, &StorageError{Op: "append", Path: pl.path, Err: err}
	}
	if err := pl.sync(); err != nil {
		// The record reached the file but not stable storage. Roll it back
		// so a retried append cannot write the same seq a second time.
		_ = pl.file.Truncate(pl.size)
		_, _ = pl.file.Seek(0, io.SeekEnd)
		return 0, &StorageError{Op: "sync", Path: pl.path, Err: err}
	}

	pl.size += int64(n)
	pl.lastSeq = e.Seq
	if e.IdempotencyKey != "" {
		pl.idempotency[e.IdempotencyKey] = e.Seq
	}

	log.Debug(log.CatStorage, "event appended",
		"project", e.ProjectID, "seq", e.Seq, "kind", e.Kind)
	return e.Seq, nil
}

// Read returns all events for a project with seq >= fromSeq, in order.
// A fromSeq of 0 or 1 reads the full log. Reading a project with no log
// file returns an empty slice.
func (l *Log) Read(projectID string, fromSeq uint64) ([]event.Event, error) {
	if !projectIDPattern.MatchString(projectID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProjectID, projectID)
	}

	path := l.Path(projectID)
	f, err := os.Open(path) //nolint:gosec // G304: path is derived from a validated project id
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	var events []event.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e, err := event.Unmarshal(line)
		if err != nil {
			// A torn trailing line is repaired on open; mid-file corruption
			// means the medium is unreliable.
			return nil, &StorageError{Op: "decode", Path: path, Err: err}
		}
		if e.Seq >= fromSeq {
			events = append(events, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	return events, nil
}

// LastSeq returns the sequence number of the newest event for a project,
// or 0 when the project has no events.
func (l *Log) LastSeq(projectID string) (uint64, error) {
	pl, err := l.project(projectID)
	if err != nil {
		return 0, err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.lastSeq, nil
}

// Close releases all open project files. Further appends will fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, pl := range l.projects {
		pl.mu.Lock()
		if err := pl.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		pl.mu.Unlock()
	}
	l.projects = make(map[string]*projectLog)
	return firstErr
}

// project returns the open per-project log, opening and recovering it on
// first access.
func (l *Log) project(projectID string) (*projectLog, error) {
	if !projectIDPattern.MatchString(projectID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProjectID, projectID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if pl, ok := l.projects[projectID]; ok {
		return pl, nil
	}

	path := l.Path(projectID)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: path, Err: err}
	}

	pl, err := openProjectLog(path)
	if err != nil {
		return nil, err
	}
	l.projects[projectID] = pl
	return pl, nil
}

// openProjectLog scans an existing file to recover the sequence counter
// and idempotency index, truncating a torn trailing line if the process
// previously crashed mid-write.
func openProjectLog(path string) (*projectLog, error) {
	pl := &projectLog{
		path:        path,
		idempotency: make(map[string]uint64),
	}

	f, err := os.Open(path) //nolint:gosec // G304: path is derived from a validated project id
	switch {
	case os.IsNotExist(err):
		// Fresh project, nothing to recover.
	case err != nil:
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	default:
		var goodOffset int64
		reader := bufio.NewReader(f)
		for {
			line, err := reader.ReadBytes('\n')
			if err == io.EOF {
				if len(line) > 0 {
					log.Warn(log.CatStorage, "truncating torn trailing record",
						"path", path, "bytes", len(line))
				}
				break
			}
			if err != nil {
				_ = f.Close()
				return nil, &StorageError{Op: "recover", Path: path, Err: err}
			}
			trimmed := line[:len(line)-1]
			if len(trimmed) == 0 {
				goodOffset += int64(len(line))
				continue
			}
			e, err := event.Unmarshal(trimmed)
			if err != nil {
				// Treat an undecodable final line as torn; anything earlier
				// is real corruption.
				if peekErr := peekEOF(reader); peekErr {
					log.Warn(log.CatStorage, "truncating torn trailing record",
						"path", path, "bytes", len(line))
					break
				}
				_ = f.Close()
				return nil, &StorageError{Op: "recover", Path: path, Err: err}
			}
			if e.Seq != pl.lastSeq+1 {
				_ = f.Close()
				return nil, &StorageError{Op: "recover", Path: path,
					Err: fmt.Errorf("sequence %d after %d, log is not gapless", e.Seq, pl.lastSeq)}
			}
			goodOffset += int64(len(line))
			pl.lastSeq = e.Seq
			if e.IdempotencyKey != "" {
				pl.idempotency[e.IdempotencyKey] = e.Seq
			}
		}
		_ = f.Close()

		if info, err := os.Stat(path); err == nil && info.Size() > goodOffset {
			if err := os.Truncate(path, goodOffset); err != nil {
				return nil, &StorageError{Op: "truncate", Path: path, Err: err}
			}
		}
		pl.size = goodOffset
	}

	w, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640) //nolint:gosec // G304: validated project path
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	pl.file = w
	pl.sync = w.Sync
	return pl, nil
}

// peekEOF reports whether the reader has no further bytes.
func peekEOF(r *bufio.Reader) bool {
	_, err := r.Peek(1)
	return err == io.EOF
}
