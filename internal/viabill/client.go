package viabill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"viabill-be/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://secure.viabill.com"

// Observer receives one observation per gateway exchange.
type Observer interface {
	ObserveGatewayCall(operation, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveGatewayCall(string, string, time.Duration) {}

// Client talks to the ViaBill API on behalf of one merchant.
type Client struct {
	baseURL    string
	affiliate  string
	creds      Credentials
	builder    *Builder
	httpClient *http.Client
	observer   Observer
	tracer     trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// ----------------- Constructor -----------------

func NewClient(baseURL, affiliate string, creds Credentials, timeout time.Duration, opts ...Option) *Client {
	if creds.APIKey == "" || creds.APISecret == "" {
		logger.L().Warn("ViaBill credentials are incomplete", zap.Object("credentials", creds))
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		affiliate:  affiliate,
		creds:      creds,
		builder:    NewBuilder(affiliate),
		httpClient: &http.Client{Timeout: timeout},
		observer:   nopObserver{},
		tracer:     otel.Tracer("viabill-be/internal/viabill"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credentials returns the merchant credentials the client signs with.
func (c *Client) Credentials() Credentials { return c.creds }

// ----------------- Account -----------------

func (c *Client) Login(ctx context.Context, in LoginRequest) (*Account, error) {
	return c.account(ctx, OpLogin, map[string]any{
		"email":    in.Email,
		"password": in.Password,
	})
}

func (c *Client) Register(ctx context.Context, in RegisterRequest) (*Account, error) {
	data := map[string]any{
		"email":     in.Email,
		"name":      in.Name,
		"url":       in.URL,
		"country":   in.Country,
		"affiliate": c.affiliate,
	}
	if in.TaxID != "" {
		data["taxId"] = in.TaxID
	}
	if in.AdditionalInfo != "" {
		data["additionalInfo"] = in.AdditionalInfo
	}
	return c.account(ctx, OpRegistration, data)
}

func (c *Client) account(ctx context.Context, op string, data map[string]any) (*Account, error) {
	body, err := c.callJSON(ctx, op, data, BuildOptions{})
	if err != nil {
		return nil, err
	}
	return &Account{
		Key:            stringField(body, "key"),
		Secret:         stringField(body, "secret"),
		PricetagScript: stringField(body, "pricetagScript"),
		Raw:            body,
	}, nil
}

// MyViaBill returns the login URL of the merchant's ViaBill dashboard.
func (c *Client) MyViaBill(ctx context.Context) (string, error) {
	body, err := c.callJSON(ctx, OpMyViaBill, map[string]any{"key": c.creds.APIKey}, BuildOptions{})
	if err != nil {
		return "", err
	}
	return stringField(body, "url"), nil
}

// Notifications returns the messages the gateway has for the merchant.
func (c *Client) Notifications(ctx context.Context, in NotificationsRequest) ([]string, error) {
	data := map[string]any{"key": c.creds.APIKey}
	if in.Platform != "" {
		data["platform"] = in.Platform
	}
	if in.PlatformVersion != "" {
		data["platform_ver"] = in.PlatformVersion
	}
	if in.ModuleVersion != "" {
		data["module_ver"] = in.ModuleVersion
	}

	body, err := c.callJSON(ctx, OpNotifications, data, BuildOptions{})
	if err != nil {
		return nil, err
	}

	switch msgs := body["messages"].(type) {
	case string:
		if msgs == "" {
			return nil, nil
		}
		return []string{msgs}, nil
	case []any:
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, render(m))
		}
		return out, nil
	}
	return nil, nil
}

// ----------------- Checkout -----------------

// Checkout registers the order with the gateway and returns the hosted
// payment page the customer must be sent to. Redirects are not followed.
func (c *Client) Checkout(ctx context.Context, in CheckoutRequest) (*CheckoutResult, error) {
	data := map[string]any{
		"apikey":       c.creds.APIKey,
		"transaction":  in.Transaction,
		"order_number": in.OrderNumber,
		"amount":       FormatAmount(in.Amount),
		"currency":     in.Currency,
		"success_url":  in.SuccessURL,
		"cancel_url":   in.CancelURL,
		"callback_url": in.CallbackURL,
	}
	if len(in.CustomParams) > 0 {
		data["customParams"] = in.CustomParams
	}
	if len(in.CartParams) > 0 {
		data["cartParams"] = in.CartParams
	}
	if in.TryBeforeYouBuy != nil {
		data["tbyb"] = *in.TryBeforeYouBuy
	}

	req, err := c.builder.Build(OpCheckout, data, c.creds, BuildOptions{})
	if err != nil {
		return nil, err
	}

	noRedirect := *c.httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := c.send(ctx, req, &noRedirect)
	if err != nil {
		return nil, err
	}

	log := logger.FromCtx(ctx).With(
		zap.String("transaction", in.Transaction),
		zap.Int("status", resp.StatusCode),
	)

	switch {
	case resp.RedirectURL != "":
		log.Info("ViaBill checkout created")
		return &CheckoutResult{StatusCode: resp.StatusCode, RedirectURL: resp.RedirectURL}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		log.Warn("ViaBill checkout returned no redirect")
		return nil, ErrRedirectMissing
	default:
		return nil, c.gatewayError(ctx, OpCheckout, resp)
	}
}

// ----------------- Transactions -----------------

// CaptureTransaction captures funds. The gateway expects a negative amount,
// so positive input is negated.
func (c *Client) CaptureTransaction(ctx context.Context, in AmountRequest) (*TransactionResult, error) {
	data := c.transactionData(in.ID, in.APIKey)
	data["amount"] = FormatAmount(in.Amount.Abs().Neg())
	data["currency"] = in.Currency
	return c.transaction(ctx, OpCaptureTransaction, data, in.Force)
}

// CancelTransaction voids an authorization.
func (c *Client) CancelTransaction(ctx context.Context, in TransactionRequest) (*TransactionResult, error) {
	return c.transaction(ctx, OpCancelTransaction, c.transactionData(in.ID, in.APIKey), in.Force)
}

func (c *Client) RefundTransaction(ctx context.Context, in AmountRequest) (*TransactionResult, error) {
	data := c.transactionData(in.ID, in.APIKey)
	data["amount"] = FormatAmount(in.Amount.Abs())
	data["currency"] = in.Currency
	return c.transaction(ctx, OpRefundTransaction, data, in.Force)
}

// RenewTransaction extends an authorization that is about to expire.
func (c *Client) RenewTransaction(ctx context.Context, in TransactionRequest) (*TransactionResult, error) {
	return c.transaction(ctx, OpRenewTransaction, c.transactionData(in.ID, in.APIKey), in.Force)
}

func (c *Client) TransactionStatus(ctx context.Context, in TransactionRequest) (map[string]any, error) {
	return c.callJSON(ctx, OpTransactionStatus, c.transactionData(in.ID, in.APIKey), BuildOptions{Force: in.Force})
}

func (c *Client) transactionData(id, apiKey string) map[string]any {
	data := map[string]any{"id": id}
	if apiKey != "" {
		data["apikey"] = apiKey
	}
	return data
}

func (c *Client) transaction(ctx context.Context, op string, data map[string]any, force bool) (*TransactionResult, error) {
	req, err := c.builder.Build(op, data, c.creds, BuildOptions{Force: force})
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, req, c.httpClient)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.gatewayError(ctx, op, resp)
	}

	logger.FromCtx(ctx).Info("ViaBill transaction request succeeded",
		zap.String("operation", op),
		zap.Any("id", data["id"]),
		zap.Int("status", resp.StatusCode),
	)

	return &TransactionResult{
		StatusCode: resp.StatusCode,
		Message:    Message(op, resp.StatusCode),
		Body:       string(resp.Body),
	}, nil
}

// ----------------- Transport -----------------

// callJSON sends op and decodes a JSON object body. An errors array in the
// body is reported as *APIError.
func (c *Client) callJSON(ctx context.Context, op string, data map[string]any, opts BuildOptions) (map[string]any, error) {
	req, err := c.builder.Build(op, data, c.creds, opts)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, req, c.httpClient)
	if err != nil {
		return nil, err
	}

	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		if resp.StatusCode >= 400 {
			return nil, c.gatewayError(ctx, op, resp)
		}
		logger.FromCtx(ctx).Error("Failed decoding ViaBill response",
			zap.String("operation", op),
			zap.Error(err),
		)
		return nil, &TransportError{Operation: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	if msg := firstError(body); msg != "" {
		logger.FromCtx(ctx).Warn("ViaBill returned an error",
			zap.String("operation", op),
			zap.String("error", msg),
		)
		return nil, &APIError{Operation: op, Message: msg}
	}

	if resp.StatusCode >= 400 {
		return nil, c.gatewayError(ctx, op, resp)
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, req *Request, hc *http.Client) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "viabill."+req.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("viabill.path", req.Path),
		),
	)
	defer span.End()

	start := time.Now()
	log := logger.FromCtx(ctx).With(
		zap.String("operation", req.Operation),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
	)

	fail := func(msg string, err error) error {
		log.Error(msg, zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		c.observer.ObserveGatewayCall(req.Operation, "transport_error", time.Since(start))
		return &TransportError{Operation: req.Operation, Err: err}
	}

	target := c.baseURL + req.Path
	var body io.Reader
	encoded := req.Values().Encode()
	if req.Method == http.MethodGet {
		if encoded != "" {
			target += "?" + encoded
		}
	} else {
		body = strings.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fail("Failed creating ViaBill request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	log.Debug("Sending request to ViaBill")

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, fail("ViaBill request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail("Failed to read ViaBill response body", err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.observer.ObserveGatewayCall(req.Operation, strconv.Itoa(resp.StatusCode), time.Since(start))

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}
	if resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound {
		out.RedirectURL = c.resolveLocation(resp.Header.Get("Location"))
	}
	return out, nil
}

func (c *Client) resolveLocation(loc string) string {
	if loc == "" {
		return ""
	}
	u, err := url.Parse(loc)
	if err != nil || u.IsAbs() {
		return loc
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return loc
	}
	return base.ResolveReference(u).String()
}

func (c *Client) gatewayError(ctx context.Context, op string, resp *Response) error {
	msg := Message(op, resp.StatusCode)
	logger.FromCtx(ctx).Error("ViaBill returned non-success status",
		zap.String("operation", op),
		zap.Int("status", resp.StatusCode),
		zap.String("meaning", msg),
		zap.ByteString("response", resp.Body),
	)
	return &GatewayError{
		Operation:  op,
		StatusCode: resp.StatusCode,
		Message:    msg,
		Body:       string(resp.Body),
	}
}

func firstError(body map[string]any) string {
	list, ok := body["errors"].([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	switch e := list[0].(type) {
	case map[string]any:
		return render(e["error"])
	case string:
		return e
	}
	return ""
}

func stringField(body map[string]any, key string) string {
	v, ok := body[key]
	if !ok || v == nil {
		return ""
	}
	return render(v)
}
