// Package archive implements the cold tier: an append-only JSONL file that
// receives memories pruned from the hot store.
//
// Entries are never rewritten in place. Search is a streaming keyword scan,
// cheap enough for the deep-search path without loading the file into memory.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// DefaultFileName is the archive file name inside the data directory.
const DefaultFileName = "mem0-archive.jsonl"

// maxLineSize bounds a single archived entry when scanning.
const maxLineSize = 1 << 20

// Entry is one archived memory, serialized as a single JSON line.
type Entry struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	RunID      *string                `json:"run_id,omitempty"`
	Text       string                 `json:"text"`
	Categories []string               `json:"categories,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	ArchivedAt time.Time              `json:"archived_at"`
}

// Archive manages the JSONL cold tier. It is safe for concurrent use.
type Archive struct {
	mu   sync.Mutex
	path string

	// line count cache, keyed by the file's (size, mtime) at scan time.
	cachedSize  int64
	cachedMtime time.Time
	cachedLines int
	cacheValid  bool

	// lastScanMalformed is the number of unparsable lines the most recent
	// scan skipped.
	lastScanMalformed int
}

// New creates an Archive over the given data directory. The file itself is
// created lazily on first append.
func New(dataDir string) *Archive {
	return &Archive{path: filepath.Join(dataDir, DefaultFileName)}
}

// Path returns the archive file location.
func (a *Archive) Path() string {
	return a.path
}

// Append stamps ArchivedAt on each entry and appends them as JSONL.
//
// The whole batch is serialized first and written with a single write call on
// an O_APPEND descriptor, so concurrent appenders cannot interleave lines and
// a crash cannot leave a partially written batch ahead of a complete one.
func (a *Archive) Append(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	var buf strings.Builder
	for _, entry := range entries {
		entry.ArchivedAt = now
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("archive append: marshal entry %s: %w", entry.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("archive append: %w", err)
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("archive append: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(buf.String()); err != nil {
		return fmt.Errorf("archive append: %w", err)
	}

	a.cacheValid = false
	return nil
}

// Search scans the archive for entries whose text matches the query keywords.
//
// The query is lowercased and split on whitespace and punctuation; tokens
// shorter than two bytes are dropped. An entry matches when any token is a
// substring of its lowercased text. Results rank by the number of distinct
// matching tokens, oldest archived first within the same rank, truncated to
// limit.
func (a *Archive) Search(ctx context.Context, query, userID string, limit int) ([]*Entry, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 || limit <= 0 {
		return nil, nil
	}

	type ranked struct {
		entry   *Entry
		matches int
		order   int
	}

	var candidates []ranked
	err := a.scan(ctx, func(order int, entry *Entry) {
		if userID != "" && entry.UserID != userID {
			return
		}
		text := strings.ToLower(entry.Text)
		matches := 0
		for _, token := range tokens {
			if strings.Contains(text, token) {
				matches++
			}
		}
		if matches > 0 {
			candidates = append(candidates, ranked{entry: entry, matches: matches, order: order})
		}
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].matches != candidates[j].matches {
			return candidates[i].matches > candidates[j].matches
		}
		return candidates[i].order < candidates[j].order
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]*Entry, len(candidates))
	for i, c := range candidates {
		results[i] = c.entry
	}
	return results, nil
}

// LineCount returns the number of lines in the archive file, counting raw
// newlines with a correction for an unterminated final line. The count is
// cached against the file's (size, mtime) so repeated status reads do not
// rescan an unchanged file.
func (a *Archive) LineCount(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	info, err := os.Stat(a.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("archive line count: %w", err)
	}

	if a.cacheValid && a.cachedSize == info.Size() && a.cachedMtime.Equal(info.ModTime()) {
		return a.cachedLines, nil
	}

	count, err := countLines(ctx, a.path)
	if err != nil {
		return 0, err
	}

	a.cachedSize = info.Size()
	a.cachedMtime = info.ModTime()
	a.cachedLines = count
	a.cacheValid = true
	return count, nil
}

// countLines byte-scans the file counting '\n', adding one when the final
// byte is not a newline.
func countLines(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("archive line count: %w", err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 64*1024)
	count := 0
	var lastByte byte
	sawData := false
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := f.Read(buf)
		if n > 0 {
			sawData = true
			lastByte = buf[n-1]
			for _, b := range buf[:n] {
				if b == '\n' {
					count++
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("archive line count: %w", err)
		}
	}
	if sawData && lastByte != '\n' {
		count++
	}
	return count, nil
}

// SizeBytes reports the archive file size; a missing file is zero.
func (a *Archive) SizeBytes(ctx context.Context) (int64, error) {
	info, err := os.Stat(a.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("archive size: %w", err)
	}
	return info.Size(), nil
}

// scan streams entries under the archive lock.
func (a *Archive) scan(ctx context.Context, visit func(order int, entry *Entry)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanLocked(ctx, visit)
}

// scanLocked streams entries in insertion order, counting and skipping
// malformed lines. A missing file yields no entries.
func (a *Archive) scanLocked(ctx context.Context, visit func(order int, entry *Entry)) error {
	f, err := os.Open(a.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive scan: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	order := 0
	malformed := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			// Torn or hand-edited lines are skipped rather than failing the
			// whole scan.
			malformed++
			continue
		}
		visit(order, &entry)
		order++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("archive scan: %w", err)
	}
	a.lastScanMalformed = malformed
	return nil
}

// MalformedLines reports how many unparsable lines the most recent scan
// skipped. Zero until a search has run.
func (a *Archive) MalformedLines() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastScanMalformed
}

// Tokenize lowercases the query and splits it into keywords on anything that
// is not a letter or digit, so punctuation separates tokens the same way
// whitespace does. Duplicates and tokens shorter than two bytes are dropped;
// byte length keeps single CJK characters while filtering one-letter ASCII
// noise.
func Tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]struct{}, len(fields))
	tokens := fields[:0]
	for _, field := range fields {
		if len(field) < 2 {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		tokens = append(tokens, field)
	}
	return tokens
}
