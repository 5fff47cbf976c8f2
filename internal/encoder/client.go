// Package encoder is a thin HTTP client for the black-box sentence-encoder
// embedding model (spec.md §1's "out of scope" collaborator), used by the
// Embed stage and by embed_question tasks.
package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"videorag/internal/apperr"
)

// Client calls a sentence-encoder service over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New constructs a Client against baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type encodeRequest struct {
	Texts []string `json:"texts"`
}

type encodeResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// EncodeBatch encodes a batch of strings and returns one raw (not yet
// normalized) embedding per input, in order. Callers normalize with
// database.NormalizeVector before persisting.
func (c *Client) EncodeBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(encodeRequest{Texts: texts})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to marshal encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/encode", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to build encode request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.External("encode request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.External("failed to read encode response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.External(fmt.Sprintf("encoder service returned status %d", resp.StatusCode), fmt.Errorf("%s", string(data)))
	}

	var parsed encodeResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindExternalService, "failed to parse encode response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, apperr.External("encoder returned a mismatched embedding count", nil)
	}
	return parsed.Embeddings, nil
}

// Encode encodes a single string.
func (c *Client) Encode(ctx context.Context, text string) ([]float64, error) {
	out, err := c.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
