/**
 * NER Client
 *
 * Sends normalized OCR text to a spaCy-compatible entity recognition service
 * running a biomedical model (default en_ner_bc5cdr_md, which emits CHEMICAL and
 * DISEASE labels).
 *
 * Request:  POST {baseURL}/ent  {"text": "...", "model": "..."}
 * Response: [{"start": 0, "end": 7, "label": "CHEMICAL", "text": "aspirin"}, ...]
 *
 * Servers that reply with "type" instead of "label", or that omit "text", are
 * accepted; the span text is then cut from the request by character offsets.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/medscan/internal/logging"
	"github.com/adverant/nexus/medscan/internal/ner"
)

// NERClient handles communication with the entity recognition service
type NERClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *logging.Logger
}

// NERRequest represents an entity recognition request
type NERRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// NEREntity represents one entity in the service response
type NEREntity struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
	Text  string `json:"text,omitempty"`
}

// NewNERClient creates a new NER client
func NewNERClient(baseURL, model string, timeout time.Duration) *NERClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NERClient{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.NewLogger("ner-client"),
	}
}

// HealthCheck verifies the NER service is available
func (c *NERClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("NER health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("NER health check returned status %d", resp.StatusCode)
	}

	return nil
}

// Classify returns the CHEMICAL and DISEASE spans the model emits for text
func (c *NERClient) Classify(ctx context.Context, text string) (*ner.Entities, error) {
	spans, err := c.Recognize(ctx, text)
	if err != nil {
		return nil, err
	}
	return ner.FromSpans(spans), nil
}

// Recognize returns every span the model emits, in emission order
func (c *NERClient) Recognize(ctx context.Context, text string) ([]ner.Span, error) {
	if text == "" {
		return nil, nil
	}

	payload, err := json.Marshal(&NERRequest{Text: text, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal NER request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ent", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create NER request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending text to NER service", "model", c.model, "chars", len(text))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("NER request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read NER response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("NER service returned error status %d: %s", resp.StatusCode, string(body))
	}

	var entities []NEREntity
	if err := json.Unmarshal(body, &entities); err != nil {
		return nil, fmt.Errorf("failed to parse NER response: %w", err)
	}

	runes := []rune(text)
	spans := make([]ner.Span, 0, len(entities))
	for _, e := range entities {
		label := e.Label
		if label == "" {
			label = e.Type
		}
		spanText := e.Text
		if spanText == "" {
			if e.Start < 0 || e.End > len(runes) || e.Start > e.End {
				return nil, fmt.Errorf("NER span [%d,%d) outside text of length %d", e.Start, e.End, len(runes))
			}
			spanText = string(runes[e.Start:e.End])
		}
		spans = append(spans, ner.Span{Text: spanText, Label: label, Start: e.Start, End: e.End})
	}

	return spans, nil
}
