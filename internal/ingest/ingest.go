// Package ingest calls the external extraction service that turns an uploaded
// scheduling-order PDF into case metadata and calendar entries.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"legalaid/internal/models"
)

// Client talks to the extraction service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an extraction-service client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger,
	}
}

// wireEvent is the service's event shape; dates arrive as YYYY-MM-DD strings.
type wireEvent struct {
	ID          json.Number `json:"id"`
	Subject     string      `json:"subject"`
	Description string      `json:"description"`
	Date        string      `json:"date"`
}

// Upload posts the PDF and returns the extracted case and events. A case with
// an empty client field is passed through as-is; the caller must demand user
// confirmation before syncing it.
func (c *Client) Upload(ctx context.Context, fileName string, file io.Reader) (models.CaseRecord, []models.EventEntry, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return models.CaseRecord{}, nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return models.CaseRecord{}, nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := form.Close(); err != nil {
		return models.CaseRecord{}, nil, fmt.Errorf("failed to finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return models.CaseRecord{}, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.CaseRecord{}, nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.CaseRecord{}, nil, fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, detail)
	}

	var payload struct {
		Case   models.CaseRecord `json:"case"`
		Events []wireEvent       `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.CaseRecord{}, nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}

	entries := make([]models.EventEntry, 0, len(payload.Events))
	for i, we := range payload.Events {
		entry, err := we.toEntry(i)
		if err != nil {
			return models.CaseRecord{}, nil, err
		}
		entries = append(entries, entry)
	}

	c.logger.Info("Extracted scheduling order.", "case", payload.Case.CaseNumber, "events", len(entries))
	return payload.Case, entries, nil
}

func (we wireEvent) toEntry(index int) (models.EventEntry, error) {
	date, err := time.Parse("2006-01-02", we.Date)
	if err != nil {
		// Some extractions return full timestamps.
		date, err = time.Parse(time.RFC3339, we.Date)
		if err != nil {
			return models.EventEntry{}, fmt.Errorf("event %d has unparseable date %q", index, we.Date)
		}
	}

	id := we.ID.String()
	if id == "" {
		id = strconv.Itoa(index + 1)
	}
	return models.EventEntry{
		ID:          id,
		Subject:     we.Subject,
		Description: we.Description,
		Date:        date,
		// Extracted entries start out editable; the user reviews and saves
		// each one before syncing is allowed.
		IsEditable: true,
	}, nil
}
