// Package episodes persists prompt/output artifact pairs and their metadata
// for later human grading.
package episodes

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundloop/continuo/internal/params"
	"github.com/soundloop/continuo/sdk/contracts"
)

// ErrEpisodeOpen is returned by Begin while a previous episode is still
// awaiting finalization. At most one episode may be open at a time.
var ErrEpisodeOpen = errors.New("episode already pending finalization")

const (
	statusDraft = "draft"
	statusFinal = "final"

	promptFileName   = "prompt.mid"
	outputFileName   = "output.mid"
	metadataFileName = "episode.json"
	indexFileName    = "index.csv"
)

// Metadata is the persisted per-episode record.
type Metadata struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"` // draft or final
	Grade        int       `json:"grade"`
	Mode         string    `json:"mode"`
	Temperature  float64   `json:"temperature"`
	TopP         float64   `json:"top_p"`
	MinP         float64   `json:"min_p"`
	PromptSHA256 string    `json:"prompt_sha256"`
	OutputSHA256 string    `json:"output_sha256"`
}

var indexHeader = []string{
	"id", "timestamp", "status", "grade", "mode",
	"temperature", "top_p", "min_p", "prompt_sha256", "output_sha256",
}

// Recorder writes one directory per episode under a dataset root, plus an
// append-only tabular index mirroring the key metadata fields. All writes go
// through a temp file and a rename so a crash mid-write never leaves a
// half-written record.
type Recorder struct {
	mu     sync.Mutex
	root   string
	log    contracts.Logger
	openID string
}

// NewRecorder creates (if needed) the dataset root and returns a recorder.
func NewRecorder(root string, log contracts.Logger) (*Recorder, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset root: %w", err)
	}
	return &Recorder{root: root, log: log}, nil
}

// Begin creates a draft episode from the prompt and output artifacts. It
// refuses with ErrEpisodeOpen while an earlier episode awaits finalization.
func (r *Recorder) Begin(prompt, output []byte, p params.Snapshot, mode string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.openID != "" {
		return "", ErrEpisodeOpen
	}

	id := uuid.NewString()
	meta := Metadata{
		ID:           id,
		Timestamp:    time.Now().UTC(),
		Status:       statusDraft,
		Mode:         mode,
		Temperature:  p.Temperature,
		TopP:         p.TopP,
		MinP:         p.MinP,
		PromptSHA256: hashBytes(prompt),
		OutputSHA256: hashBytes(output),
	}

	dir := filepath.Join(r.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create episode dir: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, promptFileName), prompt); err != nil {
		return "", err
	}
	if err := writeFileAtomic(filepath.Join(dir, outputFileName), output); err != nil {
		return "", err
	}
	if err := r.writeMetadata(dir, meta); err != nil {
		return "", err
	}
	if err := r.appendIndexRow(meta); err != nil {
		return "", err
	}

	r.openID = id
	r.log.Info("episode created",
		r.log.Field().String("episode_id", id),
		r.log.Field().String("mode", mode))
	return id, nil
}

// HasOpen reports whether an episode is awaiting finalization.
func (r *Recorder) HasOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openID != ""
}

// Finalize transitions an episode from draft to final with the given grade.
// Unknown ids are a logged no-op. Once final, a later finalize never alters
// the record: the first grade wins.
func (r *Recorder) Finalize(id string, grade int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		r.log.Info("finalize skipped: no episode id")
		return nil
	}
	dir := filepath.Join(r.root, id)
	meta, err := r.readMetadata(dir)
	if err != nil {
		r.log.Warn("finalize skipped: episode not found",
			r.log.Field().String("episode_id", id))
		return nil
	}
	if meta.Status == statusFinal {
		r.log.Info("finalize skipped: episode already final",
			r.log.Field().String("episode_id", id))
		if r.openID == id {
			r.openID = ""
		}
		return nil
	}

	meta.Status = statusFinal
	meta.Grade = grade
	if err := r.writeMetadata(dir, meta); err != nil {
		return err
	}
	if err := r.updateIndexRow(meta); err != nil {
		return err
	}
	if r.openID == id {
		r.openID = ""
	}
	r.log.Info("episode finalized",
		r.log.Field().String("episode_id", id),
		r.log.Field().Int("grade", grade))
	return nil
}

func (r *Recorder) writeMetadata(dir string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode episode metadata: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, metadataFileName), data)
}

func (r *Recorder) readMetadata(dir string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode episode metadata: %w", err)
	}
	return meta, nil
}

func (r *Recorder) appendIndexRow(meta Metadata) error {
	path := filepath.Join(r.root, indexFileName)
	fresh := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fresh = true
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open episode index: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(indexHeader); err != nil {
			return fmt.Errorf("write index header: %w", err)
		}
	}
	if err := w.Write(indexRow(meta)); err != nil {
		return fmt.Errorf("append index row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// updateIndexRow rewrites the index with the finalized row updated in place.
func (r *Recorder) updateIndexRow(meta Metadata) error {
	path := filepath.Join(r.root, indexFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read episode index: %w", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return fmt.Errorf("parse episode index: %w", err)
	}
	for i, row := range rows {
		if len(row) > 0 && row[0] == meta.ID {
			rows[i] = indexRow(meta)
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("rewrite episode index: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

func indexRow(meta Metadata) []string {
	return []string{
		meta.ID,
		meta.Timestamp.Format(time.RFC3339),
		meta.Status,
		strconv.Itoa(meta.Grade),
		meta.Mode,
		strconv.FormatFloat(meta.Temperature, 'f', 2, 64),
		strconv.FormatFloat(meta.TopP, 'f', 2, 64),
		strconv.FormatFloat(meta.MinP, 'f', 2, 64),
		meta.PromptSHA256,
		meta.OutputSHA256,
	}
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it over the destination.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
