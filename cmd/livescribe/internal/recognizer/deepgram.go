package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
)

const (
	deepgramWSURL      = "wss://api.deepgram.com/v1/listen"
	deepgramProjectURL = "https://api.deepgram.com/v1/projects"
)

// DeepgramConfig holds configuration for the Deepgram streaming backend.
type DeepgramConfig struct {
	APIKey    string `yaml:"api_key"`
	URL       string `yaml:"url"`
	HealthURL string `yaml:"health_url"`
	Model     string `yaml:"model"`
	Punctuate bool   `yaml:"punctuate"`
}

// Deepgram recognizes each chunk over its own streaming websocket: the PCM
// is sent as binary messages, CloseStream is requested, and final results
// are collected until the server closes the stream.
type Deepgram struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
	http   *http.Client
}

// NewDeepgram returns a Deepgram recognizer.
func NewDeepgram(cfg DeepgramConfig) *Deepgram {
	if cfg.URL == "" {
		cfg.URL = deepgramWSURL
	}
	if cfg.HealthURL == "" {
		cfg.HealthURL = deepgramProjectURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Deepgram{cfg: cfg, dialer: websocket.DefaultDialer, http: http.DefaultClient}
}

// deepgramResponse represents a Deepgram WebSocket response.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	Duration float64 `json:"duration"`
	IsFinal  bool    `json:"is_final"`
}

func (d *Deepgram) listenURL(req Request) string {
	q := url.Values{}
	q.Set("model", d.cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(req.Format.SampleRate))
	q.Set("channels", strconv.Itoa(req.Format.Channels))
	q.Set("punctuate", strconv.FormatBool(d.cfg.Punctuate))
	if req.Language != "" {
		q.Set("language", req.Language)
	}
	return d.cfg.URL + "?" + q.Encode()
}

// Recognize streams one chunk and joins its final transcripts.
func (d *Deepgram) Recognize(ctx context.Context, req Request) (*Transcription, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, d.listenURL(req), headers)
	if err != nil {
		if resp != nil {
			return nil, statusError(d.Name(), resp.StatusCode, err.Error())
		}
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	// unblock reads when the caller gives up
	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { conn.Close() }) }
	stop := make(chan struct{})
	defer close(stop)
	defer closeConn()
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-stop:
		}
	}()

	if err := d.send(conn, req); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("deepgram: send audio: %w", err)
	}

	var texts []string
	var confSum, weight float64
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return nil, fmt.Errorf("deepgram: read error: %w", err)
		}

		var r deepgramResponse
		if err := json.Unmarshal(msg, &r); err != nil {
			continue
		}
		if r.Type == "Metadata" {
			break
		}
		if r.Type != "Results" || !r.IsFinal || len(r.Channel.Alternatives) == 0 {
			continue
		}
		alt := r.Channel.Alternatives[0]
		if t := strings.TrimSpace(alt.Transcript); t != "" {
			texts = append(texts, t)
			w := r.Duration
			if w <= 0 {
				w = 1
			}
			confSum += alt.Confidence * w
			weight += w
		}
	}

	conf := DefaultConfidence
	if weight > 0 {
		conf = confSum / weight
	}
	return &Transcription{Text: strings.Join(texts, " "), Confidence: conf, Language: req.Language}, nil
}

// send writes the audio in 100ms messages followed by CloseStream.
func (d *Deepgram) send(conn *websocket.Conn, req Request) error {
	pcm := audio.EncodePCM(req.Samples)
	step := req.Format.FrameBytes(100 * time.Millisecond)
	if step <= 0 {
		step = len(pcm)
	}
	for off := 0; off < len(pcm); off += step {
		end := off + step
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return err
		}
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`))
}

// HealthCheck lists projects with the configured key.
func (d *Deepgram) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.HealthURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.cfg.APIKey)
	resp, err := d.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, errors.New("health check failed: status " + strconv.Itoa(resp.StatusCode))
	}
	return true, nil
}

// Name returns the backend identifier.
func (d *Deepgram) Name() string { return "deepgram" }
