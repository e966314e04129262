// Package deepl wraps the outbound calls to the DeepL translation API.
package deepl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	freeBaseURL = "https://api-free.deepl.com"
	proBaseURL  = "https://api.deepl.com"

	defaultTimeout = 60 * time.Second
)

// Config holds the client configuration.
//
// Pro selects the paid endpoint variant; BaseURL overrides both endpoint
// variants and exists for tests.
type Config struct {
	APIKey  string
	Pro     bool
	BaseURL string
	Timeout time.Duration
}

// Client issues translation and usage requests against one DeepL account.
// One outbound request per call; batching is the caller's concern.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepl: API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Pro {
			baseURL = proBaseURL
		} else {
			baseURL = freeBaseURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type translateRequest struct {
	Text       []string `json:"text"`
	SourceLang string   `json:"source_lang"`
	TargetLang string   `json:"target_lang"`
}

type translateResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

// TranslateBatch translates texts in one request. The response is in
// positional correspondence with the input; a count mismatch is treated
// as a contract violation, never silently padded.
func (c *Client) TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(translateRequest{
		Text:       texts,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal translate request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v2/translate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var parsed translateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse translate response: %w", err)
	}
	if len(parsed.Translations) != len(texts) {
		return nil, fmt.Errorf("translation count mismatch: sent %d, got %d", len(texts), len(parsed.Translations))
	}

	ret := make([]string, len(parsed.Translations))
	for i, tr := range parsed.Translations {
		ret[i] = tr.Text
	}
	return ret, nil
}

// Usage reports the account's consumed and allowed characters.
type Usage struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

func (c *Client) Usage(ctx context.Context) (Usage, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/v2/usage", nil)
	if err != nil {
		return Usage{}, err
	}
	var usage Usage
	if err := json.Unmarshal(respBody, &usage); err != nil {
		return Usage{}, fmt.Errorf("parse usage response: %w", err)
	}
	return usage, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepl request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}
	return respBody, nil
}
