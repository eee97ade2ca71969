package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-ohlcv-archiver/internal/config"
	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

const (
	primeEndpoint      = "/api/v1/download_history_data"
	marketDataEndpoint = "/api/v1/market_data"
	pingEndpoint       = "/api/v1/ping"

	healthCheckTimeout = 5 * time.Second
	userAgent          = "go-ohlcv-archiver/1.0"

	// maxErrorBody bounds how much of a failed response is echoed into an error.
	maxErrorBody = 512
)

// StatusError is returned for non-2xx gateway responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Gateway talks to the HTTP bridge in front of the market-data terminal.
// It performs a single attempt per call; retries belong to the caller.
type Gateway struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	token       string
	logger      *slog.Logger
}

// NewGateway creates a gateway client from configuration.
func NewGateway(cfg config.SourceConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Gateway{
		httpClient: &http.Client{
			Timeout: cfg.TimeoutDuration(),
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(limit, burst),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		logger:      logger.With("component", "gateway"),
	}
}

type primeRequest struct {
	StockCode string `json:"stock_code"`
	Period    string `json:"period"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type marketDataRequest struct {
	Fields       []string `json:"field_list"`
	StockList    []string `json:"stock_list"`
	Period       string   `json:"period"`
	StartTime    string   `json:"start_time"`
	EndTime      string   `json:"end_time"`
	DividendType string   `json:"dividend_type"`
	FillData     bool     `json:"fill_data"`
}

// PrimeCache implements CachePrimer.
func (g *Gateway) PrimeCache(ctx context.Context, instrument, period string, r models.DateRange) error {
	body := primeRequest{
		StockCode: instrument,
		Period:    period,
		StartTime: r.Start.Format(models.CompactDateLayout),
		EndTime:   r.End.Format(models.CompactDateLayout),
	}
	if _, err := g.post(ctx, primeEndpoint, body); err != nil {
		return fmt.Errorf("prime %s %s: %w", instrument, r, err)
	}
	return nil
}

// FetchFields implements FieldFetcher.
func (g *Gateway) FetchFields(ctx context.Context, fields []models.Field, req Request) (FieldData, error) {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	body := marketDataRequest{
		Fields:       names,
		StockList:    []string{req.Instrument},
		Period:       req.Period,
		StartTime:    req.Range.Start.Format(models.CompactDateLayout),
		EndTime:      req.Range.End.Format(models.CompactDateLayout),
		DividendType: req.Adjustment,
		FillData:     req.FillData,
	}

	g.logger.Debug("fetching fields",
		"instrument", req.Instrument,
		"range", req.Range.String(),
		"fields", names)

	raw, err := g.post(ctx, marketDataEndpoint, body)
	if err != nil {
		return nil, fmt.Errorf("market data %s %s: %w", req.Instrument, req.Range, err)
	}
	data, err := parseMarketData(raw, req.Instrument)
	if err != nil {
		return nil, fmt.Errorf("market data %s %s: %w", req.Instrument, req.Range, err)
	}
	return data, nil
}

// HealthCheck pings the gateway.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, g.baseURL+pingEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	g.setHeaders(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (g *Gateway) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	g.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(body)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: msg}
	}
	return body, nil
}

func (g *Gateway) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
}

// parseMarketData extracts the instrument's blocks from a response shaped as
// {"data": {"<field>": {"<instrument>": {"YYYYMMDD": value, ...}}}}.
// A field with no entry for the instrument is omitted. JSON null becomes NaN.
func parseMarketData(raw []byte, instrument string) (FieldData, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: response is not valid JSON", ErrMalformed)
	}
	if errMsg := gjson.GetBytes(raw, "error"); errMsg.Exists() && errMsg.String() != "" {
		return nil, fmt.Errorf("gateway error: %s", errMsg.String())
	}

	root := gjson.GetBytes(raw, "data")
	if !root.Exists() || root.Type == gjson.Null {
		return FieldData{}, nil
	}
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: data is %s, want object", ErrMalformed, root.Type)
	}

	out := FieldData{}
	var parseErr error
	root.ForEach(func(fieldKey, byInstrument gjson.Result) bool {
		field := models.Field(fieldKey.String())
		byInstrument.ForEach(func(instKey, series gjson.Result) bool {
			if instKey.String() != instrument {
				return true
			}
			block, err := parseSeries(series)
			if err != nil {
				parseErr = fmt.Errorf("field %s: %w", field, err)
				return false
			}
			out[field] = block
			return false
		})
		return parseErr == nil
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func parseSeries(series gjson.Result) (FieldBlock, error) {
	if !series.IsObject() {
		return FieldBlock{}, fmt.Errorf("%w: series is %s, want object", ErrMalformed, series.Type)
	}
	var block FieldBlock
	var err error
	series.ForEach(func(dateKey, value gjson.Result) bool {
		var d time.Time
		d, err = models.ParseDate(dateKey.String())
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrMalformed, err)
			return false
		}
		v := math.NaN()
		switch value.Type {
		case gjson.Number:
			v = value.Float()
		case gjson.Null:
		default:
			err = fmt.Errorf("%w: value for %s is %s", ErrMalformed, dateKey.String(), value.Type)
			return false
		}
		block.Dates = append(block.Dates, d)
		block.Values = append(block.Values, v)
		return true
	})
	return block, err
}
