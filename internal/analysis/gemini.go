// Package analysis asks a Gemini model, grounded with web search, for a
// trading signal on a coin and timeframe.
package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"coinchart/internal/model"
)

var (
	// ErrNotConfigured is returned when no API key is configured.
	ErrNotConfigured = errors.New("analysis API key not configured")
	// ErrMalformedResponse is returned when the model's answer is not the expected JSON.
	ErrMalformedResponse = errors.New("failed to parse the analysis response")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("received an empty response from the model")
)

// TradingType selects spot or perpetual futures signals.
type TradingType string

const (
	Spot    TradingType = "Spot"
	Futures TradingType = "Futures"
)

// Request is one analysis request.
type Request struct {
	Coin        string          `json:"coin" validate:"required,alphanum,max=10"`
	TradingType TradingType     `json:"tradingType" validate:"required,oneof=Spot Futures"`
	Timeframe   model.Timeframe `json:"timeFrame" validate:"required"`
}

// Signal is the model's trading call. Prices are kept as text because the
// model may answer "N/A".
type Signal struct {
	Coin        string `json:"coin"`
	Timeframe   string `json:"timeFrame"`
	TradingType string `json:"tradingType"`
	Action      string `json:"action"`
	EntryPrice  string `json:"entryPrice"`
	TakeProfit  string `json:"takeProfit"`
	StopLoss    string `json:"stopLoss"`
	Confidence  string `json:"confidence"`
	Summary     string `json:"summary"`
}

// Source is a web page the model cited.
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Result bundles the signal with its sources.
type Result struct {
	Signal  Signal   `json:"analysis"`
	Sources []Source `json:"sources"`
}

// Config configures the Gemini client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls the Gemini generateContent REST endpoint.
type Client struct {
	baseURL  string
	apiKey   string
	model    string
	http     *http.Client
	validate *validator.Validate
}

// New returns a client. A missing API key is reported on first use.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		http:     &http.Client{Timeout: cfg.Timeout},
		validate: validator.New(),
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

type generateRequest struct {
	Contents []content `json:"contents"`
	Tools    []tool    `json:"tools"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type tool struct {
	GoogleSearch struct{} `json:"google_search"`
}

type generateResponse struct {
	Candidates []struct {
		Content           content `json:"content"`
		GroundingMetadata struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze requests a signal for req.
func (c *Client) Analyze(ctx context.Context, req Request) (Result, error) {
	if !c.Configured() {
		return Result{}, ErrNotConfigured
	}
	req.Coin = strings.ToUpper(strings.TrimSpace(req.Coin))
	if err := c.validate.Struct(req); err != nil {
		return Result{}, fmt.Errorf("invalid analysis request: %w", err)
	}
	if !req.Timeframe.Valid() {
		return Result{}, fmt.Errorf("invalid analysis request: %w", model.ErrUnsupportedTimeframe)
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: buildPrompt(req)}}}},
		Tools:    []tool{{}},
	})
	if err != nil {
		return Result{}, err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("analysis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, fmt.Errorf("analysis read: %w", err)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return Result{}, fmt.Errorf("analysis decode (status %d): %w", resp.StatusCode, err)
	}
	if gr.Error != nil {
		return Result{}, fmt.Errorf("analysis failed (%d): %s", gr.Error.Code, gr.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("analysis failed: status %d", resp.StatusCode)
	}
	if len(gr.Candidates) == 0 {
		return Result{}, ErrEmptyResponse
	}

	cand := gr.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return Result{}, ErrEmptyResponse
	}

	sig, err := ParseSignal(text.String())
	if err != nil {
		return Result{}, err
	}

	sources := make([]Source, 0, len(cand.GroundingMetadata.GroundingChunks))
	for _, ch := range cand.GroundingMetadata.GroundingChunks {
		if ch.Web == nil || ch.Web.URI == "" {
			continue
		}
		title := ch.Web.Title
		if title == "" {
			title = "Untitled Source"
		}
		sources = append(sources, Source{URI: ch.Web.URI, Title: title})
	}
	return Result{Signal: sig, Sources: sources}, nil
}

var fenced = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ParseSignal extracts the JSON object from a model answer. A fenced code
// block wins; otherwise the text between the first '{' and the last '}'
// is used.
func ParseSignal(text string) (Signal, error) {
	js := text
	if m := fenced.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
		js = strings.TrimSpace(m[1])
	} else {
		start, end := strings.Index(js, "{"), strings.LastIndex(js, "}")
		if start != -1 && end > start {
			js = js[start : end+1]
		}
	}

	var sig Signal
	if err := json.Unmarshal([]byte(js), &sig); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return sig, nil
}
