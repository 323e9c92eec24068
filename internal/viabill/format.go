package viabill

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultVerifyFormat is the recipe the gateway signs callbacks with.
const DefaultVerifyFormat = "{transaction}#{orderNumber}#{amount}#{currency}#{status}#{time}#{secret}"

// Substitute replaces every {token} in format. Data values win over the
// reserved tokens; the result is trimmed.
func Substitute(format string, data map[string]any, creds Credentials) (string, error) {
	toks := tokens(format)
	if len(toks) == 0 {
		return "", fmt.Errorf("invalid format %q: no fields", format)
	}

	out := format
	for _, tok := range toks {
		val, err := resolve(tok, data, creds)
		if err != nil {
			return "", err
		}
		out = strings.ReplaceAll(out, "{"+tok+"}", val)
	}
	return strings.TrimSpace(out), nil
}

func resolve(tok string, data map[string]any, creds Credentials) (string, error) {
	if v, ok := data[tok]; ok {
		if tok == "country" {
			v = normalizeCountry(v)
		}
		return render(v), nil
	}

	switch tok {
	case "secret":
		if creds.APISecret == "" {
			return "", fmt.Errorf("%w: api secret", ErrMissingCredential)
		}
		return creds.APISecret, nil
	case "key", "apikey", "apiKey":
		if creds.APIKey == "" {
			return "", fmt.Errorf("%w: api key", ErrMissingCredential)
		}
		return creds.APIKey, nil
	case "protocol":
		return Protocol, nil
	case "test":
		return render(creds.TestMode), nil
	}
	return "", fmt.Errorf("%w: %s", ErrMissingSignatureField, tok)
}

// render turns a field value into its wire text.
func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case decimal.Decimal:
		return FormatAmount(t)
	case *decimal.Decimal:
		if t == nil {
			return ""
		}
		return FormatAmount(*t)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Checksum is the MD5 hex digest of the substituted format. MD5 is what the
// gateway computes on its side.
func Checksum(format string, data map[string]any, creds Credentials) (string, error) {
	s, err := Substitute(format, data, creds)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the checksum of data without its signature field and
// compares it to that signature. An empty format means DefaultVerifyFormat.
// In strict mode a mismatch is returned as ErrSignatureMismatch.
func Verify(format string, data map[string]any, creds Credentials, strict bool) (bool, error) {
	if format == "" {
		format = DefaultVerifyFormat
	}

	fields := maps.Clone(data)
	sig := render(fields["signature"])
	delete(fields, "signature")

	computed, err := Checksum(format, fields, creds)
	if err != nil {
		return false, err
	}

	if hmac.Equal([]byte(strings.ToLower(sig)), []byte(computed)) {
		return true, nil
	}
	if strict {
		return false, fmt.Errorf("%w: expected [%s] but got [%s]", ErrSignatureMismatch, sig, computed)
	}
	return false, nil
}
