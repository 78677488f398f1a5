// internal/upload/client.go
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"
)

// maxSourceBytes caps how much legacy source the worker will pull into
// memory. Conversion sources are text files; anything larger is a bad job.
const maxSourceBytes = 10 << 20

// Client coordinates conversion interactions with the simple-content domain service.
type Client struct {
	svc     simplecontent.Service
	backend string
}

// NewClient wraps a simple-content service with the configured default storage backend.
func NewClient(svc simplecontent.Service, defaultBackend string) *Client {
	return &Client{svc: svc, backend: defaultBackend}
}

// Source is a legacy source file pulled out of the content store.
type Source struct {
	Text     string
	Filename string
	MimeType string
}

// FetchSource downloads the legacy source into memory using the simplified API.
func (c *Client) FetchSource(ctx context.Context, contentID uuid.UUID) (*Source, error) {
	reader, err := c.svc.DownloadContent(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("download content: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if len(data) > maxSourceBytes {
		return nil, fmt.Errorf("source content exceeds %d bytes", maxSourceBytes)
	}

	filename := "source"
	mimeType := ""
	if meta, err := c.svc.GetContentMetadata(ctx, contentID); err == nil {
		if meta.FileName != "" {
			filename = meta.FileName
		}
		mimeType = meta.MimeType
	}

	return &Source{Text: string(data), Filename: filename, MimeType: mimeType}, nil
}

// ArtifactOptions describe one stored conversion artifact.
type ArtifactOptions struct {
	FileName   string
	TargetLang string
	Model      string
	PromptHash string
}

// StoreArtifact uploads a stamped artifact as derived content of its source
// using the simplified UploadDerivedContent API.
func (c *Client) StoreArtifact(ctx context.Context, parent *simplecontent.Content, code []byte, opts ArtifactOptions) (*simplecontent.Content, error) {
	metadata := map[string]interface{}{
		"target_lang": opts.TargetLang,
		"model":       opts.Model,
		"prompt_hash": opts.PromptHash,
		"size_bytes":  len(code),
	}

	derived, err := c.svc.UploadDerivedContent(ctx, simplecontent.UploadDerivedContentRequest{
		ParentID:           parent.ID,
		OwnerID:            parent.OwnerID,
		TenantID:           parent.TenantID,
		DerivationType:     "conversion",
		Variant:            ConversionVariant(opts.TargetLang),
		StorageBackendName: c.backend,
		Reader:             bytes.NewReader(code),
		FileName:           opts.FileName,
		FileSize:           int64(len(code)),
		Tags:               []string{"conversion"},
		Metadata:           metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("upload derived content: %w", err)
	}

	return derived, nil
}

// ListConversions retrieves existing conversion artifacts for a source in
// the requested target languages.
func (c *Client) ListConversions(ctx context.Context, parentID uuid.UUID, targetLangs []string) ([]*simplecontent.DerivedContent, error) {
	variants := make([]string, len(targetLangs))
	for i, l := range targetLangs {
		variants[i] = ConversionVariant(l)
	}

	return c.svc.ListDerivedContent(ctx,
		simplecontent.WithParentID(parentID),
		simplecontent.WithDerivationType("conversion"),
		simplecontent.WithVariants(variants...),
	)
}

// ConversionVariant names the derived-content variant for a target language.
func ConversionVariant(targetLang string) string {
	return "conversion_" + strings.ToLower(strings.TrimSpace(targetLang))
}
