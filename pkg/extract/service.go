package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/httpclient"
)

// Extractor downloads uploaded files and extracts their text.
type Extractor struct {
	client  *httpclient.Client
	maxSize int64
	logger  *slog.Logger
}

// New builds an extractor from the documents configuration.
func New(cfg *config.DocumentsConfig) *Extractor {
	return &Extractor{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout.Duration()}),
			httpclient.WithMaxRetries(2),
		),
		maxSize: cfg.MaxFileSize,
		logger:  slog.Default(),
	}
}

// Process fetches and extracts every upload. Files that cannot be fetched,
// cannot be parsed or contain no text are logged and skipped so one bad file
// never fails the batch.
func (e *Extractor) Process(ctx context.Context, uploads []Upload) []Document {
	var docs []Document
	for _, upload := range uploads {
		doc, err := e.processOne(ctx, upload)
		if err != nil {
			e.logger.Warn("Skipping document", "filename", upload.Filename, "error", err)
			continue
		}
		if strings.TrimSpace(doc.Content) == "" {
			e.logger.Warn("Skipping document with no text content", "filename", upload.Filename)
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

func (e *Extractor) processOne(ctx context.Context, upload Upload) (Document, error) {
	data, err := e.fetch(ctx, upload.FileURL)
	if err != nil {
		return Document{}, err
	}

	fileType := upload.FileType
	if fileType == "" {
		fileType = FileTypeOf(upload.Filename)
	}

	content, err := Text(fileType, data)
	if err != nil {
		return Document{}, err
	}

	id := upload.ID
	if id == "" {
		id = uuid.NewString()
	}
	size := upload.Size
	if size == 0 {
		size = int64(len(data))
	}

	return Document{
		ID:       id,
		Filename: upload.Filename,
		Content:  content,
		FileType: fileType,
		FileURL:  upload.FileURL,
		Size:     size,
	}, nil
}

// fetch downloads the file, enforcing the configured size cap.
func (e *Extractor) fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("extract: no file_url provided")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("extract: build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extract: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extract: fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("extract: read body: %w", err)
	}
	if int64(len(data)) > e.maxSize {
		return nil, fmt.Errorf("extract: file exceeds size cap of %d bytes", e.maxSize)
	}
	return data, nil
}

// LoadDir extracts every supported file in a directory. Used to seed a
// session's knowledge base from a local folder.
func (e *Extractor) LoadDir(ctx context.Context, dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("extract: read kb dir: %w", err)
	}

	var docs []Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fileType := FileTypeOf(entry.Name())
		if !supportedTypes[fileType] {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			e.logger.Warn("Skipping unreadable file", "path", path, "error", err)
			continue
		}

		content, err := Text(fileType, data)
		if err != nil || strings.TrimSpace(content) == "" {
			e.logger.Warn("Skipping file with no text content", "path", path, "error", err)
			continue
		}

		docs = append(docs, Document{
			ID:       uuid.NewString(),
			Filename: entry.Name(),
			Content:  content,
			FileType: fileType,
			Size:     int64(len(data)),
		})
	}
	return docs, nil
}
