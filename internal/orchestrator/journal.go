package orchestrator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"straddle-backtester/internal/models"
)

// Journal entry types.
const (
	EntryDecision = "decision"
	EntryTrade    = "trade"
	EntrySkip     = "skip"
	EntrySummary  = "summary"
)

// Entry is one line of the run journal. Exactly one payload field is set.
type Entry struct {
	Type       string                `json:"type"`
	RunID      string                `json:"run_id"`
	Ticker     string                `json:"ticker,omitempty"`
	Strike     float64               `json:"strike,omitempty"`
	Expiration string                `json:"expiration,omitempty"`
	Decision   *models.DecisionEvent `json:"decision,omitempty"`
	Trade      *models.TradeRecord   `json:"trade,omitempty"`
	Skip       *Skip                 `json:"skip,omitempty"`
	Summary    *models.RunSummary    `json:"summary,omitempty"`
}

type opType int

const (
	opWrite opType = iota
	opFlush
	opClose
)

type op struct {
	typ  opType
	val  any
	done chan error
}

// Journal appends run entries to a JSONL file. Write only enqueues; encoding
// and file I/O happen on a background goroutine.
type Journal struct {
	path string
	ch   chan op

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	sendMu sync.Mutex
	wg     sync.WaitGroup

	dropped atomic.Uint64
}

// OpenJournal creates the parent directory and opens path for appending.
func OpenJournal(path string, bufferSize int) (*Journal, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	j := &Journal{
		path: path,
		ch:   make(chan op, bufferSize),
	}

	j.wg.Add(1)
	go j.loop(f)

	return j, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Write enqueues one entry. A nil journal discards it.
func (j *Journal) Write(e Entry) error {
	if j == nil {
		return nil
	}
	if j.closed.Load() {
		return fmt.Errorf("journal %s is closed", j.path)
	}
	j.sendMu.Lock()
	defer j.sendMu.Unlock()
	if j.closed.Load() {
		return fmt.Errorf("journal %s is closed", j.path)
	}
	j.ch <- op{typ: opWrite, val: e}
	return nil
}

// Flush forces buffered entries to disk.
func (j *Journal) Flush() error {
	if j == nil || j.closed.Load() {
		return nil
	}
	j.sendMu.Lock()
	defer j.sendMu.Unlock()
	if j.closed.Load() {
		return nil
	}
	done := make(chan error, 1)
	j.ch <- op{typ: opFlush, done: done}
	return <-done
}

// Close flushes and closes the file.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.closeOnce.Do(func() {
		j.closed.Store(true)
		j.sendMu.Lock()
		defer j.sendMu.Unlock()
		done := make(chan error, 1)
		j.ch <- op{typ: opClose, done: done}
		j.closeErr = <-done
		close(j.ch)
	})
	j.wg.Wait()
	return j.closeErr
}

// Dropped returns the number of entries that failed to encode or write.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

func (j *Journal) loop(f *os.File) {
	defer j.wg.Done()
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20)
	reply := func(err error, done chan error) {
		if done != nil {
			done <- err
		}
	}

	for req := range j.ch {
		switch req.typ {
		case opWrite:
			b, err := json.Marshal(req.val)
			if err != nil {
				j.dropped.Add(1)
				continue
			}
			b = append(b, '\n')
			if _, err := bw.Write(b); err != nil {
				j.dropped.Add(1)
			}
		case opFlush:
			reply(bw.Flush(), req.done)
		case opClose:
			reply(bw.Flush(), req.done)
			return
		}
	}
}

func contractEntry(typ, runID string, c models.ContractCandidate) Entry {
	return Entry{
		Type:       typ,
		RunID:      runID,
		Ticker:     c.Ticker,
		Strike:     c.Strike,
		Expiration: c.Expiration.Format(time.DateOnly),
	}
}
