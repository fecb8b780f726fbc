// Package translate machine-translates catalog texts through DeepL.
package translate

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

const (
	proURL  = "https://api.deepl.com"
	freeURL = "https://api-free.deepl.com"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("translation disabled: no DeepL API key")

// Translator translates texts from one locale into another.
type Translator interface {
	Translate(ctx context.Context, texts []string, source, target string) ([]string, error)
}

type DeepL struct {
	key    string
	base   string
	client *http.Client
}

// NewDeepL returns a DeepL client. Free-tier keys end in ":fx" and are
// routed to the free API host.
func NewDeepL(key string) *DeepL {
	base := proURL
	if strings.HasSuffix(key, ":fx") {
		base = freeURL
	}
	return &DeepL{key: key, base: base, client: &http.Client{Timeout: 20 * time.Second}}
}

// WithBaseURL overrides the API host.
func (d *DeepL) WithBaseURL(u string) *DeepL {
	d.base = strings.TrimRight(u, "/")
	return d
}

type deeplRequest struct {
	Text       []string `json:"text"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang"`
}

type deeplResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

// Translate returns the translations of texts in the same order. Empty
// strings are passed through without a request slot.
func (d *DeepL) Translate(ctx context.Context, texts []string, source, target string) ([]string, error) {
	if d.key == "" {
		return nil, ErrDisabled
	}
	out := make([]string, len(texts))
	var (
		send []string
		idx  []int
	)
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		send = append(send, t)
		idx = append(idx, i)
	}
	if len(send) == 0 {
		return out, nil
	}

	body, err := json.Marshal(deeplRequest{Text: send, SourceLang: langCode(source), TargetLang: langCode(target)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.base+"/v2/translate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepl: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deepl: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	var dr deeplResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("deepl: decode: %w", err)
	}
	if len(dr.Translations) != len(send) {
		return nil, fmt.Errorf("deepl: got %d translations for %d texts", len(dr.Translations), len(send))
	}
	for i, tr := range dr.Translations {
		out[idx[i]] = tr.Text
	}
	return out, nil
}

// langCode maps a storefront locale ("en", "pt-br") to a DeepL language
// code ("EN", "PT-BR").
func langCode(locale string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
}
