package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/forestry-sandbox/licensing-backend/v1/models"
	"github.com/forestry-sandbox/licensing-backend/v1/storage"
	"github.com/klauspost/compress/flate"
	"gorm.io/gorm"
)

// DocumentService retrieves agent authority form documents. A form with a
// single document is returned directly with its own MIME type; a form with
// several documents is packaged into one ZIP archive. Retrieval is read-only.
type DocumentService struct {
	db          *gorm.DB
	fileStorage storage.FileStorage
	access      *AccessService
	authorities *AgentAuthorityService
}

// NewDocumentService creates a new document service
func NewDocumentService(db *gorm.DB, fileStorage storage.FileStorage, access *AccessService, authorities *AgentAuthorityService) *DocumentService {
	return &DocumentService{db: db, fileStorage: fileStorage, access: access, authorities: authorities}
}

// GetAgentAuthorityFormDocuments fetches the documents of the named form.
// The accessor selects the validation rule set: internal system callers skip
// the agency check, identified external users go through the full permission
// rule.
func (s *DocumentService) GetAgentAuthorityFormDocuments(ctx context.Context, authorityID, formID string, accessor models.Accessor) (*models.DocumentPayload, error) {
	if formID == "" {
		return nil, models.NewInvalidInputError("agent authority form id is required")
	}

	authority, err := s.authorities.loadAuthority(ctx, authorityID)
	if err != nil {
		return nil, err
	}
	if accessor.Kind == models.AccessorKindExternalUser {
		user, err := s.access.GetUser(ctx, accessor.UserID)
		if err != nil {
			return nil, err
		}
		if err := s.access.EnsureCanManageAuthority(user, authority); err != nil {
			return nil, err
		}
	}

	form := authority.FindForm(formID)
	if form == nil {
		return nil, models.NewNotFoundError("agent authority form not found on this authority")
	}
	if len(form.Documents) == 0 {
		return nil, models.NewNotFoundError("agent authority form has no documents")
	}

	if len(form.Documents) == 1 {
		doc := &form.Documents[0]
		content, err := s.fileStorage.Get(ctx, doc.Location)
		if err != nil {
			return nil, models.NewStorageFailureError("failed to retrieve agent authority form document", err)
		}
		return &models.DocumentPayload{
			FileName: doc.FileName,
			MimeType: doc.MimeType,
			Content:  content,
		}, nil
	}

	// Any single fetch failure aborts the whole retrieval; no partial
	// archive is returned.
	entries := make([]bundleEntry, 0, len(form.Documents))
	for i := range form.Documents {
		doc := &form.Documents[i]
		content, err := s.fileStorage.Get(ctx, doc.Location)
		if err != nil {
			return nil, models.NewStorageFailureError("failed to retrieve agent authority form document", err)
		}
		entries = append(entries, bundleEntry{name: doc.FileName, content: content})
	}

	archive, err := buildZipArchive(entries)
	if err != nil {
		return nil, models.NewInternalError("failed to build document archive", err)
	}

	slog.Debug("Bundled agent authority form documents",
		"agentAuthorityFormID", formID, "entries", len(entries))

	return &models.DocumentPayload{
		FileName: models.AafBundleFileName,
		MimeType: "application/zip",
		Content:  archive,
	}, nil
}

type bundleEntry struct {
	name    string
	content []byte
}

// buildZipArchive packages entries into a single in-memory ZIP with one entry
// per document. Duplicate file names get a numeric suffix so no entry is
// silently lost.
func buildZipArchive(entries []bundleEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	now := time.Now().UTC()
	usedNames := make(map[string]int)
	for _, entry := range entries {
		name := entry.name
		if count := usedNames[entry.name]; count > 0 {
			name = fmt.Sprintf("%d_%s", count, entry.name)
		}
		usedNames[entry.name]++

		header := &zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: now,
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive entry %q: %w", name, err)
		}
		if _, err := w.Write(entry.content); err != nil {
			return nil, fmt.Errorf("failed to write archive entry %q: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
