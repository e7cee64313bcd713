// Package whisper provides whisper.cpp-backed transcribers.
//
// Two backends are available:
//
//   - [Native] links whisper.cpp through its CGO bindings and runs inference
//     in-process. This is the default for the runner.
//   - [Server] talks to a running whisper-server binary over its REST API
//     (POST /inference), uploading each utterance as a WAV file.
//
// Both accept mono float32 audio at 16 kHz and implement stt.Transcriber.
//
// Usage:
//
//	t, err := whisper.NewServer("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	segments, err := t.Transcribe(ctx, samples)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/MrWong99/spellcast/pkg/audio"
	"github.com/MrWong99/spellcast/pkg/audio/wavfile"
	"github.com/MrWong99/spellcast/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultThreads  = 2
	defaultTimeout  = 30 * time.Second
)

// Compile-time assertion that Server implements stt.Transcriber.
var _ stt.Transcriber = (*Server)(nil)

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with. This is the default.
func WithModel(model string) Option {
	return func(s *Server) { s.model = model }
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(s *Server) { s.language = lang }
}

// WithHTTPClient replaces the default client, which has a 30 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.httpClient = c }
}

// Server implements stt.Transcriber backed by a whisper.cpp HTTP server.
type Server struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// NewServer creates a Server that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func NewServer(serverURL string, opts ...Option) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Server{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Transcribe encodes samples as a WAV file and POSTs it to the /inference
// endpoint as multipart/form-data. The server answers with a single text
// field, which is returned as one segment.
func (s *Server) Transcribe(ctx context.Context, samples []float32) ([]stt.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	wav, err := encodeWAV(samples)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = wav.Close()
		_ = os.Remove(wav.Name())
	}()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := s.writeForm(mw, wav); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if result.Text == "" {
		return nil, nil
	}
	return []stt.Segment{{Text: result.Text}}, nil
}

func (s *Server) writeForm(mw *multipart.Writer, wav io.Reader) error {
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := io.Copy(fw, wav); err != nil {
		return fmt.Errorf("whisper: write wav data: %w", err)
	}
	if s.language != "" {
		if err := mw.WriteField("language", s.language); err != nil {
			return fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return fmt.Errorf("whisper: write format field: %w", err)
	}
	return mw.Close()
}

// encodeWAV writes samples to a temporary WAV file and rewinds it. The WAV
// encoder needs to seek back to patch the header sizes.
func encodeWAV(samples []float32) (*os.File, error) {
	f, err := os.CreateTemp("", "spellcast-*.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create temp wav: %w", err)
	}
	format := audio.Format{SampleRate: audio.TranscriptionSampleRate, Channels: 1}
	if err := wavfile.Write(f, samples, format); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("whisper: rewind temp wav: %w", err)
	}
	return f, nil
}
