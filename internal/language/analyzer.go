// Package language is the text-analysis collaborator: it turns a piece of
// text into a sentiment signal the moderation scorer can decide on.
package language

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Signal is a sentiment reading. Score is in [-1, 1], Magnitude is >= 0.
type Signal struct {
	Score     float64 `json:"score"`
	Magnitude float64 `json:"magnitude"`
}

type Analyzer interface {
	Analyze(ctx context.Context, text string) (Signal, error)
}

// GoogleAnalyzer calls the Cloud Natural Language analyzeSentiment REST
// endpoint with an API key.
type GoogleAnalyzer struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewGoogleAnalyzer(baseURL, apiKey string, timeout time.Duration) *GoogleAnalyzer {
	if baseURL == "" {
		baseURL = "https://language.googleapis.com/v1"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleAnalyzer{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

type sentimentReq struct {
	Document struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	} `json:"document"`
	EncodingType string `json:"encodingType"`
}

type sentimentResp struct {
	DocumentSentiment *Signal `json:"documentSentiment"`
	Error             *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *GoogleAnalyzer) Analyze(ctx context.Context, text string) (Signal, error) {
	if strings.TrimSpace(a.APIKey) == "" {
		return Signal{}, errors.New("language: api key is required")
	}

	var body sentimentReq
	body.Document.Type = "PLAIN_TEXT"
	body.Document.Content = text
	body.EncodingType = "UTF8"

	b, err := json.Marshal(body)
	if err != nil {
		return Signal{}, err
	}

	// the key travels in a header; transport errors print the URL
	url := strings.TrimRight(a.BaseURL, "/") + "/documents:analyzeSentiment"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Signal{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", a.APIKey)

	resp, err := a.Client.Do(req)
	if err != nil {
		return Signal{}, fmt.Errorf("language: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return Signal{}, fmt.Errorf("language: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded sentimentResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Signal{}, fmt.Errorf("language: decode: %w", err)
	}
	if decoded.Error != nil {
		return Signal{}, fmt.Errorf("language: %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if decoded.DocumentSentiment == nil {
		return Signal{}, errors.New("language: response has no documentSentiment")
	}
	return *decoded.DocumentSentiment, nil
}
