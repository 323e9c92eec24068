package viabill

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Request is a resolved call, ready to be sent once.
type Request struct {
	Operation string
	Method    string
	Path      string
	Fields    map[string]any
}

// BuildOptions tune a single Build call.
type BuildOptions struct {
	// Force lets an administrative request go out without a caller supplied
	// API key; the key is then taken from the credentials.
	Force bool
}

type Builder struct {
	affiliate string
}

func NewBuilder(affiliate string) *Builder {
	return &Builder{affiliate: affiliate}
}

// Build resolves op against the endpoint table. Required fields are
// resolved in declared order and the first one that cannot be produced is
// reported as ErrMissingRequiredField.
func (b *Builder) Build(op string, data map[string]any, creds Credentials, opts BuildOptions) (*Request, error) {
	d, err := Lookup(op)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(d.Required)+len(d.Optional))
	for _, name := range d.Required {
		if format, ok := d.Signatures[name]; ok {
			sum, err := Checksum(format, data, creds)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", op, name, err)
			}
			fields[name] = sum
			continue
		}

		if v, ok := data[name]; ok {
			fields[name] = fieldValue(name, v)
			continue
		}

		switch {
		case name == "protocol":
			fields[name] = Protocol
		case name == "test":
			fields[name] = creds.TestMode
		case opts.Force && isKeyField(name) && creds.APIKey != "":
			fields[name] = creds.APIKey
		default:
			return nil, fmt.Errorf("%s: %w: %s", op, ErrMissingRequiredField, name)
		}
	}

	for _, name := range d.Optional {
		if v, ok := data[name]; ok {
			fields[name] = fieldValue(name, v)
		}
	}

	for k, v := range fields {
		fields[k] = normalizeBools(v)
	}

	return &Request{
		Operation: op,
		Method:    d.Method,
		Path:      strings.ReplaceAll(d.Path, "{affiliate}", url.PathEscape(b.affiliate)),
		Fields:    fields,
	}, nil
}

func isKeyField(name string) bool {
	return name == "apikey" || name == "key"
}

func fieldValue(name string, v any) any {
	if name == "country" {
		return normalizeCountry(v)
	}
	return v
}

// normalizeBools rewrites booleans, including nested ones, as "true"/"false".
func normalizeBools(v any) any {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = normalizeBools(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalizeBools(x)
		}
		return out
	default:
		return v
	}
}

// Values flattens the fields into form values. Nested maps become
// parent[child] keys and slices parent[i].
func (r *Request) Values() url.Values {
	vals := url.Values{}
	for k, v := range r.Fields {
		flatten(vals, k, v)
	}
	return vals
}

func flatten(vals url.Values, key string, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(vals, key+"["+k+"]", t[k])
		}
	case map[string]string:
		for k, s := range t {
			vals.Set(key+"["+k+"]", s)
		}
	case []any:
		for i, x := range t {
			flatten(vals, key+"["+strconv.Itoa(i)+"]", x)
		}
	default:
		vals.Set(key, render(v))
	}
}
