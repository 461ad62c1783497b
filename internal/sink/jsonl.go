package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/shortrun/internal/advisory"
)

// DefaultJSONLPath is where decisions go when nothing else is configured
const DefaultJSONLPath = "out/shortrun/decisions.jsonl"

// JSONL appends one JSON object per line to a file
type JSONL struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewJSONL creates the parent directory and opens path for appending
func NewJSONL(path string) (*JSONL, error) {
	if path == "" {
		path = DefaultJSONLPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create sink directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open sink %s: %w", path, err)
	}

	log.Debug().Str("path", path).Msg("Decision log opened")
	return &JSONL{path: path, file: f}, nil
}

// Path returns the file path
func (j *JSONL) Path() string {
	return j.path
}

// Append writes result as a single line
func (j *JSONL) Append(ctx context.Context, result advisory.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if result.Actions == nil {
		result.Actions = emptyActions
	}
	line, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return fmt.Errorf("sink %s is closed", j.path)
	}
	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("failed to append decision to %s: %w", j.path, err)
	}
	return nil
}

// Close flushes and closes the file
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// ReadJSONL reads every record from a decision log
func ReadJSONL(path string) ([]advisory.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var results []advisory.Result
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r advisory.Result
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		results = append(results, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
