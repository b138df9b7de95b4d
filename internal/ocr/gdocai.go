package ocr

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// DocumentAIBackend extracts text through Google Document AI. It is an
// alternative cloud engine for installations already on GCP.
type DocumentAIBackend struct {
	projectID       string
	location        string
	processorID     string
	credentialsFile string
	logger          *logger.Logger
}

// NewDocumentAIBackend creates the Document AI backend.
func NewDocumentAIBackend(cfg config.DocumentAIConfig, log *logger.Logger) *DocumentAIBackend {
	return &DocumentAIBackend{
		projectID:       cfg.ProjectID,
		location:        cfg.Location,
		processorID:     cfg.ProcessorID,
		credentialsFile: cfg.CredentialsFile,
		logger:          log.Named("ocr-gdocai"),
	}
}

// Name implements Backend.
func (b *DocumentAIBackend) Name() string { return "documentai" }

// TryExtract implements Backend.
func (b *DocumentAIBackend) TryExtract(ctx context.Context, imageBytes []byte) (string, float64, error) {
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", b.location)

	opts := []option.ClientOption{option.WithEndpoint(endpoint)}
	if b.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(b.credentialsFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create Document AI client: %w", err)
	}
	defer client.Close()

	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		b.projectID, b.location, b.processorID)

	req := &documentaipb.ProcessRequest{
		Name: name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  imageBytes,
				MimeType: "image/jpeg",
			},
		},
		SkipHumanReview: true,
	}

	resp, err := client.ProcessDocument(ctx, req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to process document: %w", err)
	}

	doc := resp.GetDocument()
	text := strings.TrimSpace(doc.GetText())
	confidence := meanTokenConfidence(doc)

	b.logger.Debug("Document AI extraction",
		logger.String("text", text),
		logger.Float64("confidence", confidence))
	return text, confidence, nil
}

// meanTokenConfidence averages per-token layout confidence across all
// pages. Document AI reports confidence per recognized token; a document
// with no tokens gets zero.
func meanTokenConfidence(doc *documentaipb.Document) float64 {
	var sum float64
	var count int
	for _, page := range doc.GetPages() {
		for _, token := range page.GetTokens() {
			layout := token.GetLayout()
			if layout == nil {
				continue
			}
			sum += float64(layout.GetConfidence())
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
