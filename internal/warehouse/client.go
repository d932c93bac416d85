package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"flipflop-be/internal/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultReadTimeout   = 5 * time.Second
	defaultWriteTimeout  = 15 * time.Second
	defaultRetryInterval = 200 * time.Millisecond

	// one initial attempt plus one retry
	writeMaxTries = 2

	maxReplyBody = 4 << 10
)

var tracer = otel.Tracer("flipflop-be/internal/warehouse")

type Options struct {
	BaseURL            string
	DefaultWarehouseID string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	RetryInterval      time.Duration
	HTTPClient         *http.Client
}

// Client talks to the warehouse authority over HTTP/JSON.
type Client struct {
	baseURL            string
	defaultWarehouseID string
	readTimeout        time.Duration
	writeTimeout       time.Duration
	retryInterval      time.Duration
	httpClient         *http.Client
	readBreaker        *gobreaker.CircuitBreaker
}

var _ Authority = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	return &Client{
		baseURL:            strings.TrimRight(opts.BaseURL, "/"),
		defaultWarehouseID: opts.DefaultWarehouseID,
		readTimeout:        opts.ReadTimeout,
		writeTimeout:       opts.WriteTimeout,
		retryInterval:      opts.RetryInterval,
		httpClient:         opts.HTTPClient,
		readBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "warehouse-read",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Only transport-level failures trip the breaker.
			IsSuccessful: func(err error) bool {
				return err == nil || !IsUnavailable(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.L().Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
}

func (c *Client) DefaultWarehouseID() string {
	return c.defaultWarehouseID
}

// Available reads the authority's sellable quantity for productKey.
func (c *Client) Available(ctx context.Context, productKey string) (Availability, error) {
	ctx, span := tracer.Start(ctx, "warehouse.Available",
		trace.WithAttributes(attribute.String("product.key", productKey)))
	defer span.End()

	res, err := c.readBreaker.Execute(func() (interface{}, error) {
		return c.fetchAvailable(ctx, productKey)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &UnavailableError{Op: "available", Cause: err}
		}
		recordSpanError(span, err)
		return Availability{}, err
	}

	return res.(Availability), nil
}

func (c *Client) fetchAvailable(ctx context.Context, productKey string) (Availability, error) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/stock/%s/available", c.baseURL, url.PathEscape(productKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Availability{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Availability{}, &UnavailableError{Op: "available", Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Availability{}, fmt.Errorf("%w: %s", ErrNotFound, productKey)
	case resp.StatusCode != http.StatusOK:
		return Availability{}, &UnavailableError{Op: "available", Cause: statusError(resp)}
	}

	var out Availability
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Availability{}, &UnavailableError{Op: "available", Cause: fmt.Errorf("decode response: %w", err)}
	}
	if out.Available < 0 {
		return Availability{}, &UnavailableError{Op: "available", Cause: fmt.Errorf("negative availability %d", out.Available)}
	}
	if out.AsOf.IsZero() {
		out.AsOf = time.Now().UTC()
	}
	return out, nil
}

// SetAbsolute overwrites the on-hand quantity of productKey in warehouseID.
func (c *Client) SetAbsolute(ctx context.Context, productKey, warehouseID string, qty int, reason string) error {
	ctx, span := tracer.Start(ctx, "warehouse.SetAbsolute", trace.WithAttributes(
		attribute.String("product.key", productKey),
		attribute.Int("quantity", qty),
	))
	defer span.End()

	body := stockRequest{
		ProductID:   productKey,
		WarehouseID: c.warehouseOrDefault(warehouseID),
		Quantity:    qty,
		Reason:      reason,
	}

	err := c.writeWithRetry(ctx, "set", "/stock/set", body)
	recordSpanError(span, err)
	return err
}

// Reserve asks the authority to hold qty units of productKey for orderRef.
func (c *Client) Reserve(ctx context.Context, productKey, warehouseID string, qty int, orderRef string) error {
	ctx, span := tracer.Start(ctx, "warehouse.Reserve", trace.WithAttributes(
		attribute.String("product.key", productKey),
		attribute.Int("quantity", qty),
		attribute.String("order.ref", orderRef),
	))
	defer span.End()

	body := stockRequest{
		ProductID:   productKey,
		WarehouseID: c.warehouseOrDefault(warehouseID),
		Quantity:    qty,
		OrderRef:    orderRef,
	}

	err := c.writeWithRetry(ctx, "reserve", "/stock/reserve", body)
	recordSpanError(span, err)
	return err
}

// Release returns qty units previously reserved for orderRef.
func (c *Client) Release(ctx context.Context, productKey, warehouseID string, qty int, orderRef string) error {
	ctx, span := tracer.Start(ctx, "warehouse.Release", trace.WithAttributes(
		attribute.String("product.key", productKey),
		attribute.Int("quantity", qty),
		attribute.String("order.ref", orderRef),
	))
	defer span.End()

	body := stockRequest{
		ProductID:   productKey,
		WarehouseID: c.warehouseOrDefault(warehouseID),
		Quantity:    qty,
		OrderRef:    orderRef,
	}

	err := c.writeWithRetry(ctx, "release", "/stock/release", body)
	recordSpanError(span, err)
	return err
}

// writeWithRetry retries an unknown outcome once. The authority correlates
// writes by orderRef, so a repeated reserve or release is not applied twice.
func (c *Client) writeWithRetry(ctx context.Context, op, path string, body stockRequest) error {
	log := logger.FromCtx(ctx).With(
		zap.String("service", "warehouse"),
		zap.String("method", op),
		zap.String("product_key", body.ProductID),
		zap.Int("quantity", body.Quantity),
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := c.post(ctx, op, path, body)
		if err == nil {
			return struct{}{}, nil
		}
		if IsUnavailable(err) {
			log.Warn("authority write outcome unknown", zap.Int("attempt", attempt), zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(writeMaxTries),
	)
	if err != nil {
		// A cancelled caller context during the backoff wait is still an unknown outcome.
		if !IsUnavailable(err) && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			err = &UnavailableError{Op: op, Cause: err}
		}
		return err
	}

	log.Debug("authority write applied", zap.Int("attempts", attempt))
	return nil
}

func (c *Client) post(ctx context.Context, op, path string, body stockRequest) error {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnavailableError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var reply writeResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxReplyBody)).Decode(&reply); err != nil {
			return &UnavailableError{Op: op, Cause: fmt.Errorf("decode reply: %w", err)}
		}
		return replyError(op, body, reply)

	case resp.StatusCode == http.StatusConflict:
		var rej writeResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxReplyBody)).Decode(&rej); err != nil {
			return &UnavailableError{Op: op, Cause: fmt.Errorf("decode rejection: %w", err)}
		}
		return insufficient(body, rej.Available)

	case resp.StatusCode == http.StatusNotFound:
		if op == "reserve" {
			// no stock record at the authority means nothing can be reserved
			return insufficient(body, 0)
		}
		return fmt.Errorf("%w: %s", ErrNotFound, body.ProductID)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s: %v", ErrRejected, op, statusError(resp))

	default:
		return &UnavailableError{Op: op, Cause: statusError(resp)}
	}
}

// replyError interprets a 2xx body. Anything other than ok:true is not an
// applied write, and a reply that is neither ok nor a stock rejection is an
// unknown outcome.
func replyError(op string, body stockRequest, reply writeResponse) error {
	switch {
	case reply.Error == codeInsufficientStock:
		return insufficient(body, reply.Available)
	case reply.OK && reply.Error == "":
		return nil
	case reply.Error != "":
		return &UnavailableError{Op: op, Cause: fmt.Errorf("authority replied %q", reply.Error)}
	default:
		return &UnavailableError{Op: op, Cause: errors.New("authority replied ok=false")}
	}
}

func insufficient(body stockRequest, available int) *InsufficientStockError {
	return &InsufficientStockError{
		ProductKey: body.ProductID,
		Requested:  body.Quantity,
		Available:  available,
	}
}

func (c *Client) warehouseOrDefault(id string) string {
	if id != "" {
		return id
	}
	return c.defaultWarehouseID
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplyBody))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
