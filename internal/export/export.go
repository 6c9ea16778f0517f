// Package export downloads CSV exports prepared by the backend.
package export

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/model"
)

const fetchExportPath = "core/fetch_export"

// Download is an open export stream. The caller must close Body.
type Download struct {
	Body        io.ReadCloser
	ContentType string
	Filename    string
	Size        int64
}

// Service fetches exports.
type Service struct {
	client *graphql.Client
}

// NewService creates an export service.
func NewService(client *graphql.Client) *Service {
	return &Service{client: client}
}

// Open starts downloading the export named file.
func (s *Service) Open(ctx context.Context, file string) (*Download, error) {
	if err := validateName(file); err != nil {
		return nil, err
	}
	resp, err := s.client.Get(ctx, fetchExportPath, url.Values{"export": {file}})
	if err != nil {
		return nil, err
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "text/csv"
	}
	return &Download{
		Body:        resp.Body,
		ContentType: ct,
		Filename:    Filename(file),
		Size:        resp.ContentLength,
	}, nil
}

// Save downloads the export into dir and returns the written path.
func (s *Service) Save(ctx context.Context, file, dir string) (string, error) {
	dl, err := s.Open(ctx, file)
	if err != nil {
		return "", err
	}
	defer dl.Body.Close()

	path := filepath.Join(dir, dl.Filename)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: create %s: %w", path, err)
	}
	if _, err := io.Copy(f, dl.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("export: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("export: write %s: %w", path, err)
	}
	return path, nil
}

// Filename is the attachment name of an export: its base name with a .csv
// extension.
func Filename(file string) string {
	base := filepath.Base(file)
	if strings.EqualFold(filepath.Ext(base), ".csv") {
		return base
	}
	return base + ".csv"
}

func validateName(file string) error {
	if file == "" {
		return model.NewBadRequestError("export file name is required")
	}
	if strings.ContainsAny(file, `/\`) || strings.Contains(file, "..") {
		return model.NewBadRequestError(fmt.Sprintf("invalid export file name %q", file))
	}
	return nil
}
