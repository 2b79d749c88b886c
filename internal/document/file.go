package document

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wallcrawler78/arenadocs/internal/errors"
)

// Extension is the file extension of saved documents.
const Extension = ".arenadoc"

const formatVersion = 1

// fileFormat is the on-disk JSON shape of a document.
type fileFormat struct {
	Version    int               `json:"version"`
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Text       string            `json:"text"`
	Cursor     *int              `json:"cursor,omitempty"`
	Styles     []StyleSpan       `json:"styles,omitempty"`
	Anchors    []Anchor          `json:"anchors,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Load reads a saved document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, errors.NewInternal(fmt.Errorf("reading document: %w", err))
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("%s is not a valid document: %v", path, err))
	}
	if f.Version != formatVersion {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported document version %d", f.Version))
	}

	d := newEmpty()
	d.id = f.ID
	d.title = f.Title
	d.text = f.Text
	d.createdAt = f.CreatedAt
	d.updatedAt = f.UpdatedAt
	if f.Cursor != nil {
		d.cursor = *f.Cursor
	}
	n := len(d.text)
	if d.cursor > n {
		d.cursor = n
	}
	for _, sp := range f.Styles {
		if sp.Start >= 0 && sp.Start < sp.End && sp.End <= n {
			d.styles = append(d.styles, sp)
		}
	}
	for _, a := range f.Anchors {
		if a.ID == "" || a.Start < 0 || a.End < a.Start || a.End > n {
			continue
		}
		a := a
		d.anchors[a.ID] = &a
	}
	for k, v := range f.Properties {
		d.properties[k] = v
	}
	return d, nil
}

// Save writes the document to path through a temp file and rename, so a
// failed save never truncates the previous version.
func (d *Document) Save(path string) error {
	d.mu.Lock()
	f := fileFormat{
		Version:    formatVersion,
		ID:         d.id,
		Title:      d.title,
		Text:       d.text,
		Styles:     append([]StyleSpan(nil), d.styles...),
		Properties: make(map[string]string, len(d.properties)),
		CreatedAt:  d.createdAt,
		UpdatedAt:  d.updatedAt,
	}
	if d.cursor >= 0 {
		c := d.cursor
		f.Cursor = &c
	}
	for k, v := range d.properties {
		f.Properties[k] = v
	}
	d.mu.Unlock()
	f.Anchors = d.Anchors()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errors.NewInternal(err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("creating document directory: %w", err))
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.NewInternal(fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.NewInternal(err)
	}
	if err := tmp.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewInternal(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.NewInternal(fmt.Errorf("saving document: %w", err))
	}
	success = true

	d.mu.Lock()
	d.dirty = false
	d.mu.Unlock()
	return nil
}

// FromText builds a new document from imported plain text or markdown.
// The title is the first markdown heading, else the file name without extension.
func FromText(name, text string) *Document {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	title := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	for _, line := range strings.Split(text, "\n") {
		if h, ok := strings.CutPrefix(line, "# "); ok && strings.TrimSpace(h) != "" {
			title = strings.TrimSpace(h)
			break
		}
	}
	return New(title, text)
}
