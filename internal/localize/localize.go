// Package localize translates analysis text and synthesizes speech
// from it. Audio artifacts are cached by content hash so identical
// text is never synthesized twice. Everything here is best-effort
// from the pipeline's point of view: callers degrade gracefully when
// localization fails.
package localize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/newspulse-ai/newspulse/pkg/models"
)

const (
	defaultTranslateBaseURL = "https://translate.googleapis.com"
	defaultTTSBaseURL       = "https://translate.google.com"
	defaultMaxAttempts      = 3
	defaultRetryDelay       = time.Second

	// translateChunkChars bounds the text sent per translation request;
	// the endpoint rejects very long query strings.
	translateChunkChars = 1500

	// ttsChunkChars bounds the text per speech request.
	ttsChunkChars = 180
)

// Localizer translates text and synthesizes audio artifacts.
type Localizer struct {
	translateBaseURL string
	ttsBaseURL       string
	audioDir         string
	maxAttempts      int
	retryDelay       time.Duration
	httpClient       *http.Client
}

// Option configures the localizer.
type Option func(*Localizer)

// WithTranslateBaseURL overrides the translation endpoint.
func WithTranslateBaseURL(u string) Option {
	return func(l *Localizer) {
		l.translateBaseURL = strings.TrimSuffix(u, "/")
	}
}

// WithTTSBaseURL overrides the speech endpoint.
func WithTTSBaseURL(u string) Option {
	return func(l *Localizer) {
		l.ttsBaseURL = strings.TrimSuffix(u, "/")
	}
}

// WithMaxAttempts sets the retry bound for external calls.
func WithMaxAttempts(n int) Option {
	return func(l *Localizer) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the base backoff delay between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(l *Localizer) {
		l.retryDelay = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Localizer) {
		l.httpClient = c
	}
}

// New creates a localizer writing audio artifacts under audioDir.
func New(audioDir string, opts ...Option) *Localizer {
	l := &Localizer{
		translateBaseURL: defaultTranslateBaseURL,
		ttsBaseURL:       defaultTTSBaseURL,
		audioDir:         audioDir,
		maxAttempts:      defaultMaxAttempts,
		retryDelay:       defaultRetryDelay,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ContentHash returns the cache key for (text, language).
func ContentHash(text, lang string) string {
	sum := sha256.Sum256([]byte(text + "|" + lang))
	return hex.EncodeToString(sum[:])
}

// Translate translates text into the target language. Long text is
// split into chunks and the translations rejoined.
func (l *Localizer) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	var out []string
	for _, chunk := range splitChunks(text, translateChunkChars) {
		translated, err := l.translateChunk(ctx, chunk, targetLang)
		if err != nil {
			return "", err
		}
		out = append(out, translated)
	}
	return strings.Join(out, " "), nil
}

func (l *Localizer) translateChunk(ctx context.Context, text, targetLang string) (string, error) {
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", "auto")
	q.Set("tl", targetLang)
	q.Set("dt", "t")
	q.Set("q", text)
	reqURL := l.translateBaseURL + "/translate_a/single?" + q.Encode()

	var translated string
	err := l.doWithRetry(ctx, func() error {
		body, err := l.get(ctx, reqURL)
		if err != nil {
			return err
		}
		translated, err = parseTranslateReply(body)
		return err
	})
	return translated, err
}

// parseTranslateReply decodes the endpoint's nested-array reply,
// concatenating the translated segments.
func parseTranslateReply(body []byte) (string, error) {
	var outer []json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return "", fmt.Errorf("parse translation reply: %w", err)
	}
	if len(outer) == 0 {
		return "", fmt.Errorf("empty translation reply")
	}

	var segments [][]json.RawMessage
	if err := json.Unmarshal(outer[0], &segments); err != nil {
		return "", fmt.Errorf("parse translation segments: %w", err)
	}

	var sb strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(seg[0], &s); err != nil {
			continue
		}
		sb.WriteString(s)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no translated text in reply")
	}
	return sb.String(), nil
}

// Synthesize produces an audio artifact for text in the given
// language. A cache hit on the content hash returns the existing
// artifact without any external call.
func (l *Localizer) Synthesize(ctx context.Context, text, lang string) (*models.AudioArtifact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("nothing to synthesize")
	}

	hash := ContentHash(text, lang)
	path := filepath.Join(l.audioDir, hash+".mp3")
	if _, err := os.Stat(path); err == nil {
		return &models.AudioArtifact{ContentHash: hash, Language: lang, FilePath: path}, nil
	}

	var audio []byte
	for _, chunk := range splitChunks(text, ttsChunkChars) {
		data, err := l.synthesizeChunk(ctx, chunk, lang)
		if err != nil {
			return nil, err
		}
		// MP3 frames are self-delimiting; chunks concatenate cleanly.
		audio = append(audio, data...)
	}

	if err := os.MkdirAll(l.audioDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	tmp, err := os.CreateTemp(l.audioDir, ".audio-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp audio file: %w", err)
	}
	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("close audio file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("commit audio file: %w", err)
	}

	return &models.AudioArtifact{ContentHash: hash, Language: lang, FilePath: path}, nil
}

func (l *Localizer) synthesizeChunk(ctx context.Context, text, lang string) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", lang)
	q.Set("q", text)
	reqURL := l.ttsBaseURL + "/translate_tts?" + q.Encode()

	var audio []byte
	err := l.doWithRetry(ctx, func() error {
		body, err := l.get(ctx, reqURL)
		if err != nil {
			return err
		}
		if len(body) == 0 {
			return fmt.Errorf("empty audio reply")
		}
		audio = body
		return nil
	})
	return audio, err
}

// doWithRetry runs fn up to the attempt bound with linear backoff.
func (l *Localizer) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.retryDelay * time.Duration(attempt)):
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("after %d attempts: %w", l.maxAttempts, lastErr)
}

func (l *Localizer) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// splitChunks splits text into pieces of at most max bytes, breaking
// on sentence ends where possible, then on spaces.
func splitChunks(text string, max int) []string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return []string{text}
	}

	var chunks []string
	for len(text) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		window := text[:cut]
		if i := strings.LastIndexAny(window, ".!?"); i > max/2 {
			cut = i + 1
		} else if i := strings.LastIndex(window, "।"); i > max/2 {
			cut = i + len("।")
		} else if i := strings.LastIndex(window, " "); i > 0 {
			cut = i
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
