package viabill

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRoundTripper lets a test answer the client's HTTP requests.
type MockRoundTripper func(req *http.Request) *http.Response

func (f MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

type MockRoundTripperWithError func(req *http.Request) (*http.Response, error)

func (f MockRoundTripperWithError) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveGatewayCall(op, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, op+":"+outcome)
}

func respond(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     header,
	}
}

func formOf(t *testing.T, req *http.Request) url.Values {
	t.Helper()
	if req.Method == http.MethodGet {
		return req.URL.Query()
	}
	raw, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	vals, err := url.ParseQuery(string(raw))
	require.NoError(t, err)
	return vals
}

func newTestClient() (*Client, *recordingObserver) {
	obs := &recordingObserver{}
	c := NewClient("https://gateway.example", "GOLANG", testCreds, 5*time.Second, WithObserver(obs))
	return c, obs
}

func checkoutRequest() CheckoutRequest {
	return CheckoutRequest{
		Transaction:  "vb-1001-ab12cd",
		OrderNumber:  "1001",
		Amount:       decimal.RequireFromString("19.99"),
		Currency:     "USD",
		SuccessURL:   "https://shop.example/success",
		CancelURL:    "https://shop.example/cancel",
		CallbackURL:  "https://shop.example/viabill/callback",
		CustomParams: map[string]any{"email": "buyer@shop.example", "country": "US"},
	}
}

func TestClient_Checkout(t *testing.T) {
	c, obs := newTestClient()

	t.Run("Redirect", func(t *testing.T) {
		c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			assert.Equal(t, http.MethodPost, req.Method)
			assert.Equal(t, "https://gateway.example/api/checkout-authorize/addon/GOLANG", req.URL.String())
			assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))

			form := formOf(t, req)
			assert.Equal(t, "19.99", form.Get("amount"))
			assert.Equal(t, "3.0", form.Get("protocol"))
			assert.Equal(t, "true", form.Get("test"))
			assert.Equal(t, "buyer@shop.example", form.Get("customParams[email]"))
			assert.Equal(t, md5Hex("merchant-key#19.99#USD#vb-1001-ab12cd#1001#https://shop.example/success#https://shop.example/cancel#merchant-secret"), form.Get("md5check"))

			h := make(http.Header)
			h.Set("Location", "https://gateway.example/pay/abc")
			return respond(http.StatusFound, "", h)
		})

		res, err := c.Checkout(context.Background(), checkoutRequest())
		require.NoError(t, err)
		assert.Equal(t, "https://gateway.example/pay/abc", res.RedirectURL)
		assert.Equal(t, http.StatusFound, res.StatusCode)
	})

	t.Run("Relative redirect", func(t *testing.T) {
		c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			h := make(http.Header)
			h.Set("Location", "/pay/xyz")
			return respond(http.StatusMovedPermanently, "", h)
		})

		res, err := c.Checkout(context.Background(), checkoutRequest())
		require.NoError(t, err)
		assert.Equal(t, "https://gateway.example/pay/xyz", res.RedirectURL)
	})

	t.Run("No Location", func(t *testing.T) {
		c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return respond(http.StatusOK, "<html></html>", nil)
		})

		res, err := c.Checkout(context.Background(), checkoutRequest())
		assert.Nil(t, res)
		assert.True(t, errors.Is(err, ErrRedirectMissing))
	})

	t.Run("Gateway rejects", func(t *testing.T) {
		c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return respond(http.StatusConflict, "slow down", nil)
		})

		_, err := c.Checkout(context.Background(), checkoutRequest())
		var gwErr *GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, http.StatusConflict, gwErr.StatusCode)
		assert.Equal(t, "request frequency error", gwErr.Message)
		assert.Equal(t, "slow down", gwErr.Body)
	})

	assert.Contains(t, obs.outcomes, "checkout:302")
	assert.Contains(t, obs.outcomes, "checkout:409")
}

func TestClient_CaptureTransaction(t *testing.T) {
	c, _ := newTestClient()

	for _, amount := range []string{"25.50", "-25.50"} {
		t.Run("Sends negative amount for "+amount, func(t *testing.T) {
			c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
				assert.Equal(t, "/api/transaction/capture", req.URL.Path)
				form := formOf(t, req)
				assert.Equal(t, "-25.50", form.Get("amount"))
				assert.Equal(t, md5Hex("vb-1-x#merchant-key#-25.50#DKK#merchant-secret"), form.Get("signature"))
				return respond(http.StatusNoContent, "", nil)
			})

			res, err := c.CaptureTransaction(context.Background(), AmountRequest{
				ID: "vb-1-x", Amount: decimal.RequireFromString(amount), Currency: "DKK", APIKey: "merchant-key",
			})
			require.NoError(t, err)
			assert.Equal(t, "no content", res.Message)
		})
	}

	t.Run("Non-2xx returns body", func(t *testing.T) {
		c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return respond(http.StatusForbidden, `{"errors":[{"error":"credit"}]}`, nil)
		})

		_, err := c.CaptureTransaction(context.Background(), AmountRequest{
			ID: "vb-1-x", Amount: decimal.NewFromInt(1), Currency: "DKK", Force: true,
		})
		var gwErr *GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Contains(t, gwErr.Body, "credit")
		assert.Equal(t, "debtor credit error", gwErr.Message)
	})

	t.Run("Missing key without force", func(t *testing.T) {
		c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			t.Fatal("no request expected")
			return nil
		})

		_, err := c.CaptureTransaction(context.Background(), AmountRequest{
			ID: "vb-1-x", Amount: decimal.NewFromInt(1), Currency: "DKK",
		})
		assert.True(t, errors.Is(err, ErrMissingRequiredField))
	})
}

func TestClient_RefundAndCancel(t *testing.T) {
	c, _ := newTestClient()

	c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
		form := formOf(t, req)
		switch req.URL.Path {
		case "/api/transaction/refund":
			assert.Equal(t, "10.00", form.Get("amount"))
		case "/api/transaction/cancel", "/api/transaction/renew":
			assert.Equal(t, md5Hex("vb-2-y#merchant-key#merchant-secret"), form.Get("signature"))
		default:
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		return respond(http.StatusOK, "", nil)
	})

	_, err := c.RefundTransaction(context.Background(), AmountRequest{
		ID: "vb-2-y", Amount: decimal.NewFromInt(-10), Currency: "EUR", Force: true,
	})
	assert.NoError(t, err)

	_, err = c.CancelTransaction(context.Background(), TransactionRequest{ID: "vb-2-y", Force: true})
	assert.NoError(t, err)

	_, err = c.RenewTransaction(context.Background(), TransactionRequest{ID: "vb-2-y", APIKey: "merchant-key"})
	assert.NoError(t, err)
}

func TestClient_TransportFailure(t *testing.T) {
	c, obs := newTestClient()
	c.httpClient.Transport = MockRoundTripperWithError(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := c.CancelTransaction(context.Background(), TransactionRequest{ID: "vb-3-z", Force: true})

	assert.True(t, errors.Is(err, ErrRequestFailed))
	var tErr *TransportError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, OpCancelTransaction, tErr.Operation)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, []string{"cancel_transaction:transport_error"}, obs.outcomes)
}

func TestClient_Login(t *testing.T) {
	c, _ := newTestClient()

	t.Run("Success", func(t *testing.T) {
		c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			assert.Equal(t, "/api/addon/GOLANG/login", req.URL.Path)
			form := formOf(t, req)
			assert.Equal(t, "m@shop.example", form.Get("email"))
			return respond(http.StatusOK, `{"key":"k1","secret":"s1","pricetagScript":"<script/>","extra":1}`, nil)
		})

		acc, err := c.Login(context.Background(), LoginRequest{Email: "m@shop.example", Password: "pw"})
		require.NoError(t, err)
		assert.Equal(t, "k1", acc.Key)
		assert.Equal(t, "s1", acc.Secret)
		assert.Equal(t, "<script/>", acc.PricetagScript)
		assert.Contains(t, acc.Raw, "extra")
	})

	t.Run("API error", func(t *testing.T) {
		c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return respond(http.StatusBadRequest, `{"errors":[{"field":"email","error":"Invalid credentials"}]}`, nil)
		})

		_, err := c.Login(context.Background(), LoginRequest{Email: "m@shop.example", Password: "bad"})
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "Invalid credentials", apiErr.Message)
	})

	t.Run("Undecodable body", func(t *testing.T) {
		c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return respond(http.StatusOK, `{invalid-json`, nil)
		})

		_, err := c.Login(context.Background(), LoginRequest{Email: "m@shop.example", Password: "pw"})
		assert.True(t, errors.Is(err, ErrRequestFailed))
	})
}

func TestClient_Register(t *testing.T) {
	c, _ := newTestClient()
	c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
		form := formOf(t, req)
		assert.Equal(t, "DK", form.Get("country"))
		assert.Equal(t, "GOLANG", form.Get("affiliate"))
		assert.Equal(t, "DK123", form.Get("taxId"))
		assert.False(t, form.Has("additionalInfo"))
		return respond(http.StatusOK, `{"key":"k2","secret":"s2"}`, nil)
	})

	acc, err := c.Register(context.Background(), RegisterRequest{
		Email: "m@shop.example", Name: "Shop", URL: "https://shop.example", Country: "dk", TaxID: "DK123",
	})
	require.NoError(t, err)
	assert.Equal(t, "k2", acc.Key)
}

func TestClient_MyViaBillAndNotifications(t *testing.T) {
	c, _ := newTestClient()
	c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
		assert.Equal(t, http.MethodGet, req.Method)
		q := req.URL.Query()
		assert.Equal(t, "merchant-key", q.Get("key"))
		assert.Equal(t, md5Hex("merchant-key#merchant-secret"), q.Get("signature"))

		switch req.URL.Path {
		case "/api/addon/GOLANG/myviabill":
			return respond(http.StatusOK, `{"url":"https://my.viabill.com/login?t=1"}`, nil)
		case "/api/addon/GOLANG/notifications":
			assert.Equal(t, "go", q.Get("platform"))
			return respond(http.StatusOK, `{"messages":["first","second"]}`, nil)
		}
		t.Fatalf("unexpected path %s", req.URL.Path)
		return nil
	})

	link, err := c.MyViaBill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://my.viabill.com/login?t=1", link)

	msgs, err := c.Notifications(context.Background(), NotificationsRequest{Platform: "go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, msgs)
}

func TestClient_TransactionStatus(t *testing.T) {
	c, _ := newTestClient()
	c.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
		assert.Equal(t, "/api/transaction/status", req.URL.Path)
		assert.Equal(t, "vb-9-q", req.URL.Query().Get("id"))
		return respond(http.StatusOK, `{"state":"APPROVED","amount":19.99}`, nil)
	})

	status, err := c.TransactionStatus(context.Background(), TransactionRequest{ID: "vb-9-q", Force: true})
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", status["state"])
}
