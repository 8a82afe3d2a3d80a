package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shilei2024/foodai/internal/client/tokencache"
	"github.com/shilei2024/foodai/internal/logging"
	"github.com/shilei2024/foodai/internal/netx"
)

// Request describes what to recognize: a text description, an image or both.
type Request struct {
	Text      string
	Image     []byte
	ImageType string
	Locale    string
}

// Result is the provider's answer.
type Result struct {
	Name       string             `json:"name"`
	Confidence float64            `json:"confidence"`
	Calories   float64            `json:"calories"`
	Nutrients  map[string]float64 `json:"nutrients,omitempty"`
}

// Fields returns r in the shape stored in a local record.
func (r Result) Fields() map[string]any {
	f := map[string]any{
		"name":       r.Name,
		"confidence": r.Confidence,
		"calories":   r.Calories,
	}
	if len(r.Nutrients) > 0 {
		n := make(map[string]any, len(r.Nutrients))
		for k, v := range r.Nutrients {
			n[k] = v
		}
		f["nutrients"] = n
	}
	return f
}

type Recognizer interface {
	Recognize(ctx context.Context, req Request) (Result, error)
}

type HTTPRecognizerConfig struct {
	Endpoint string

	// Tokens and Fetch supply the bearer token; requests are anonymous when
	// Tokens is nil.
	Tokens *tokencache.Cache
	Fetch  tokencache.FetchFunc

	HTTPClient *http.Client
	Logger     logging.Logger
}

// HTTPRecognizer posts recognition requests as JSON to a single endpoint.
type HTTPRecognizer struct {
	cfg HTTPRecognizerConfig
	log logging.Logger
}

func NewHTTPRecognizer(cfg HTTPRecognizerConfig) *HTTPRecognizer {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &HTTPRecognizer{cfg: cfg, log: cfg.Logger.With("module", "recognizer")}
}

type recognizeBody struct {
	Text      string `json:"text,omitempty"`
	Image     string `json:"image,omitempty"`
	ImageType string `json:"image_type,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, in Request) (Result, error) {
	body := recognizeBody{Text: in.Text, ImageType: in.ImageType, Locale: in.Locale}
	if len(in.Image) > 0 {
		body.Image = base64.StdEncoding.EncodeToString(in.Image)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	res, err := r.post(ctx, payload)
	var se *netx.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized && r.cfg.Tokens != nil {
		r.log.Info(ctx, "token rejected, fetching a new one")
		r.cfg.Tokens.Invalidate(ctx)
		res, err = r.post(ctx, payload)
	}
	if err != nil {
		return Result{}, fmt.Errorf("recognize: %w", err)
	}
	return res, nil
}

func (r *HTTPRecognizer) post(ctx context.Context, payload []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if r.cfg.Tokens != nil {
		token, err := r.cfg.Tokens.GetToken(ctx, r.cfg.Fetch)
		if err != nil {
			return Result{}, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	var res Result
	if err := netx.DoJSON(r.cfg.HTTPClient, req, &res); err != nil {
		return Result{}, err
	}
	return res, nil
}
