// Package stt is a thin HTTP client for the black-box speech-to-text model
// (spec.md §1's "out of scope" collaborator), called once per audio file by
// the Transcribe stage.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"videorag/internal/apperr"
)

// Segment is one ordered, timed transcript utterance returned by the model.
type Segment struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
}

// Client calls a speech-to-text service over HTTP, posting the audio file
// as a multipart upload and receiving ordered segments back.
type Client struct {
	httpClient *http.Client
	baseURL    string
	language   string
}

// New constructs a Client against baseURL, with languageHint used as the
// voice-activity/language configuration per spec.md §4.5.
func New(baseURL, languageHint string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   languageHint,
	}
}

// Transcribe reads audioPath and returns its ordered segments. A missing
// audio file is reported as an apperr.KindPipeline failure — the caller
// (Transcribe stage) converts that into a per-video failure record rather
// than raising to the task runner, per spec.md §4.5.
func (c *Client) Transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, apperr.Pipeline(fmt.Sprintf("audio file %q is missing", audioPath), err)
	}
	defer f.Close()

	body, contentType, err := buildMultipartBody(f, audioPath, c.language)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to build transcription request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to build transcription request", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.External("transcription request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.External("failed to read transcription response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.External(fmt.Sprintf("transcription service returned status %d", resp.StatusCode), fmt.Errorf("%s", string(data)))
	}

	var parsed struct {
		Segments []Segment `json:"segments"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindExternalService, "failed to parse transcription response", err)
	}
	return parsed.Segments, nil
}

// buildMultipartBody streams the audio file into a multipart body using
// io.Pipe, following the Go teacher's own pattern for multipart uploads to
// avoid buffering the whole file in memory.
func buildMultipartBody(f *os.File, filename, language string) (io.Reader, string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		defer mw.Close()

		if err := mw.WriteField("language", language); err != nil {
			pw.CloseWithError(err)
			return
		}
		fw, err := mw.CreateFormFile("audio", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(fw, f); err != nil {
			pw.CloseWithError(err)
			return
		}
	}()

	return pr, mw.FormDataContentType(), nil
}
