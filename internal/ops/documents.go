package ops

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/wallcrawler78/arenadocs/internal/config"
	"github.com/wallcrawler78/arenadocs/internal/document"
	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/token"
)

// MaxImportBytes caps the size of an imported file.
const MaxImportBytes = 10 << 20

// ImportDocumentInput contains parameters for the ImportDocument operation.
type ImportDocumentInput struct {
	Source    string // .md, .markdown or .txt
	Dest      string // .arenadoc
	Overwrite bool
}

// ImportDocumentOutput contains the result of the ImportDocument operation.
type ImportDocumentOutput struct {
	Path  string `json:"path"`
	ID    string `json:"id"`
	Title string `json:"title"`
	Bytes int    `json:"bytes"`
	// Literals counts token literals already present in the text. They are
	// not tracked until inserted or registered.
	Literals int `json:"literals"`
}

// ImportDocument creates a new document from a markdown or text file.
func ImportDocument(_ context.Context, cfg *config.Config, input ImportDocumentInput) (*ImportDocumentOutput, error) {
	if err := ValidatePath(input.Source, PathCheckRead, cfg, ImportExtensions...); err != nil {
		return nil, err
	}
	if filepath.Ext(input.Dest) != document.Extension {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("destination must end in %s", document.Extension))
	}
	if _, err := os.Stat(input.Dest); err == nil && !input.Overwrite {
		appErr := errors.NewInvalidRequest(fmt.Sprintf("%s already exists", input.Dest))
		appErr.Hint = "choose another destination or pass --overwrite"
		return nil, appErr
	}

	f, err := openFileNoFollowRead(input.Source)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImportBytes+1))
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to read import file: %w", err))
	}
	if len(data) > MaxImportBytes {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("file exceeds %d bytes", MaxImportBytes))
	}

	doc := document.FromText(input.Source, string(data))
	if err := doc.Save(input.Dest); err != nil {
		return nil, err
	}
	return &ImportDocumentOutput{
		Path:     input.Dest,
		ID:       doc.ID(),
		Title:    doc.Title(),
		Bytes:    doc.Len(),
		Literals: len(token.FindInText(doc.Text())),
	}, nil
}

// Export formats.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// ExportDocumentInput contains parameters for the ExportDocument operation.
type ExportDocumentInput struct {
	// Path defaults to ~/.arenadocs/exports/<title>-<timestamp>.<ext>.
	Path string
	// Format is markdown or html; empty infers it from Path, else markdown.
	Format string
}

// ExportDocumentOutput contains the result of the ExportDocument operation.
type ExportDocumentOutput struct {
	Path       string `json:"path"`
	Format     string `json:"format"`
	Bytes      int    `json:"bytes"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportDocument writes the open document as markdown or rendered HTML.
func ExportDocument(_ context.Context, rt *Runtime, input ExportDocumentInput) (*ExportDocumentOutput, error) {
	if err := rt.requireDocument(); err != nil {
		return nil, err
	}
	format, err := exportFormat(input.Format, input.Path)
	if err != nil {
		return nil, err
	}

	now := rt.now()
	path := input.Path
	if path == "" {
		if path, err = defaultExportPath(rt.Doc.Title(), format, now); err != nil {
			return nil, err
		}
	}
	if err := ValidatePath(path, PathCheckWrite, rt.Config, extensionFor(format)); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch format {
	case FormatHTML:
		if err := rt.Doc.RenderHTML(&buf); err != nil {
			return nil, errors.NewInternal(err)
		}
	default:
		buf.WriteString(rt.Doc.Markdown())
	}

	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return nil, err
	}
	return &ExportDocumentOutput{
		Path:       path,
		Format:     format,
		Bytes:      buf.Len(),
		ExportedAt: now.Unix(),
	}, nil
}

func exportFormat(format, path string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	case FormatHTML:
		return FormatHTML, nil
	case "":
		if strings.EqualFold(filepath.Ext(path), ".html") {
			return FormatHTML, nil
		}
		return FormatMarkdown, nil
	}
	return "", errors.NewInvalidRequest(fmt.Sprintf("format must be markdown or html, got %q", format))
}

func extensionFor(format string) string {
	if format == FormatHTML {
		return ".html"
	}
	return ".md"
}

func defaultExportPath(title, format string, now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s%s", SanitizeForFilename(title), now.Format("2006-01-02T150405"), extensionFor(format))
	return filepath.Join(dir, name), nil
}

// writeAtomic writes data to a temp file beside path and renames it into
// place, so a failed export never clobbers an existing file.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(suffix) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	if isSymlink(path) {
		return errors.NewInvalidRequest("export path is a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; overwriting is not supported on Windows")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}
	success = true
	return nil
}
