package s3blob

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// SubmissionArchiveStore is the slice of domain.SubmissionStore the archiver
// needs.
type SubmissionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Submission, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = int(minPartSize)

// Archiver implements domain.Archiver: it copies old submissions to
// archive/submissions/YYYY-MM-DD.jsonl and records the run in the audit log.
type Archiver struct {
	writer      domain.BlobWriter
	reader      domain.BlobReader
	store       SubmissionArchiveStore
	audit       domain.AuditStore
	deleteAfter bool
}

// NewArchiver creates an Archiver. When deleteAfter is set, archived rows are
// removed from the store once the upload succeeds.
func NewArchiver(writer domain.BlobWriter, store SubmissionArchiveStore, audit domain.AuditStore, deleteAfter bool) *Archiver {
	return &Archiver{writer: writer, store: store, audit: audit, deleteAfter: deleteAfter}
}

// SetReader lets the archiver merge into an existing file for the same day
// instead of replacing it. Rows already in the file are not written twice.
func (a *Archiver) SetReader(r domain.BlobReader) { a.reader = r }

// archivedSubmission is the JSONL line format.
type archivedSubmission struct {
	ID          string    `json:"id"`
	SourceHash  string    `json:"source_hash"`
	Strategy    string    `json:"strategy"`
	To          string    `json:"to"`
	Data        string    `json:"data"`
	FeePerGas   string    `json:"fee_per_gas,omitempty"`
	GasLimit    uint64    `json:"gas_limit"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Nonce       *uint64   `json:"nonce,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
}

func toArchived(s domain.Submission) archivedSubmission {
	out := archivedSubmission{
		ID:          s.ID,
		SourceHash:  s.SourceHash.Hex(),
		Strategy:    s.Strategy,
		To:          s.To.Hex(),
		Data:        "0x" + hex.EncodeToString(s.Data),
		GasLimit:    s.GasLimit,
		Nonce:       s.Nonce,
		Status:      string(s.Status),
		Error:       s.Error,
		CreatedAt:   s.CreatedAt.UTC(),
		CompletedAt: s.CompletedAt.UTC(),
	}
	if s.FeePerGas != nil {
		out.FeePerGas = s.FeePerGas.String()
	}
	if s.TxHash != nil {
		out.TxHash = s.TxHash.Hex()
	}
	return out
}

// ArchiveSubmissions uploads every submission created before the cutoff and
// returns how many were archived.
func (a *Archiver) ArchiveSubmissions(ctx context.Context, before time.Time) (int64, error) {
	subs, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive submissions query: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	path := archivePath("submissions", before)
	existing, seen, err := a.loadExisting(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive submissions read %s: %w", path, err)
	}

	records := make([]archivedSubmission, 0, len(subs))
	for _, s := range subs {
		if !seen[s.ID] {
			records = append(records, toArchived(s))
		}
	}
	if len(records) == 0 && !a.deleteAfter {
		return 0, nil
	}

	if len(records) > 0 {
		buf, err := marshalJSONL(records)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive submissions marshal: %w", err)
		}
		body := append(existing, buf...)
		if len(body) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(body), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(body), archiveContentType)
		}
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive submissions upload: %w", err)
		}
	}

	count := int64(len(records))
	detail := map[string]any{
		"path":     path,
		"count":    count,
		"existing": len(seen),
		"before":   before.UTC().Format(time.RFC3339),
	}

	if a.deleteAfter {
		deleted, err := a.store.DeleteBefore(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive submissions delete: %w", err)
		}
		detail["deleted"] = deleted
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.submissions", detail); err != nil {
			return count, fmt.Errorf("s3blob: archive submissions audit log: %w", err)
		}
	}
	return count, nil
}

// loadExisting returns the current content of path and the IDs it holds.
// A missing object or an unset reader yields empty results.
func (a *Archiver) loadExisting(ctx context.Context, path string) ([]byte, map[string]bool, error) {
	seen := make(map[string]bool)
	if a.reader == nil {
		return nil, seen, nil
	}
	rc, err := a.reader.Get(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, seen, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, err
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(line, &rec); err == nil && rec.ID != "" {
			seen[rec.ID] = true
		}
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	return data, seen, nil
}

// archivePath builds the object key for a daily archive file, e.g.
//
//	archive/submissions/2025-01-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
