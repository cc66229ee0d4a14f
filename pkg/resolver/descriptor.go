package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Descriptor is a parsed "scheme:rest" string.
type Descriptor struct {
	// Raw is the descriptor as given.
	Raw string

	// Scheme is lower-cased.
	Scheme string

	// Rest is everything after the first colon.
	Rest string

	// Target is Rest without its query string and without a leading "//".
	Target string

	Params url.Values
}

// ParseDescriptor splits a descriptor into scheme, rest and query params.
// A descriptor without a colon is a bare scheme.
func ParseDescriptor(raw string) (*Descriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty service descriptor")
	}

	scheme, rest, _ := strings.Cut(raw, ":")
	if scheme == "" {
		return nil, fmt.Errorf("service descriptor %q has no scheme", raw)
	}
	d := &Descriptor{
		Raw:    raw,
		Scheme: strings.ToLower(scheme),
		Rest:   rest,
		Params: url.Values{},
	}

	target, query, _ := strings.Cut(rest, "?")
	d.Target = strings.TrimPrefix(target, "//")
	if query != "" {
		params, err := url.ParseQuery(query)
		if err != nil {
			return nil, fmt.Errorf("service descriptor %q: %w", raw, err)
		}
		d.Params = params
	}
	return d, nil
}

// Param returns a query parameter or def when it is absent.
func (d *Descriptor) Param(key, def string) string {
	if v := d.Params.Get(key); v != "" {
		return v
	}
	return def
}

// Int64Param parses an integer query parameter.
func (d *Descriptor) Int64Param(key string, def int64) (int64, error) {
	v := d.Params.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", key, err)
	}
	return n, nil
}

// Without renders the descriptor with the named query parameters removed.
// Backends use it to hand the remaining connection string to a driver.
func (d *Descriptor) Without(keys ...string) string {
	target, _, _ := strings.Cut(d.Raw, "?")
	params := url.Values{}
	for k, v := range d.Params {
		params[k] = v
	}
	for _, k := range keys {
		params.Del(k)
	}
	if len(params) == 0 {
		return target
	}
	return target + "?" + params.Encode()
}
