package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
)

// Kind is the structured category of a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindNetwork
	KindConnectionReset
	KindDNS
	KindHTTP
	KindValidation
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindConnectionReset:
		return "connection_reset"
	case KindDNS:
		return "dns"
	case KindHTTP:
		return "http"
	case KindValidation:
		return "validation"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a failure description carrying its own classification, so the
// retry decision never depends on message text.
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPError describes a non-2xx response.
func HTTPError(op string, status int, body string) *Error {
	var err error
	if body != "" {
		err = errors.New(body)
	}
	return &Error{Op: op, Kind: KindHTTP, StatusCode: status, Err: err}
}

// ValidationError marks a failure that no retry can fix.
func ValidationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: err}
}

// Classify extracts the kind and, for HTTP failures, the status code.
func Classify(err error) (Kind, int) {
	if err == nil {
		return KindUnknown, 0
	}

	var re *Error
	if errors.As(err, &re) && re.Kind != KindUnknown {
		return re.Kind, re.StatusCode
	}

	var dnsErr *net.DNSError
	var netErr net.Error
	var opErr *net.OpError
	var urlErr *url.Error

	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled, 0
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout, 0
	case errors.As(err, &dnsErr):
		return KindDNS, 0
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return KindConnectionReset, 0
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout, 0
	case errors.As(err, &opErr),
		errors.As(err, &urlErr),
		errors.Is(err, io.ErrUnexpectedEOF):
		return KindNetwork, 0
	}

	if re != nil {
		return re.Kind, re.StatusCode
	}
	return KindUnknown, 0
}

// StatusRule marks an inclusive range of HTTP status codes.
type StatusRule struct {
	Min, Max  int
	Retryable bool
}

// Table is a data-driven retry classification. Status rules are checked in
// order for HTTP failures; other kinds are looked up in Kinds. Anything not
// covered falls back to Default.
type Table struct {
	Kinds    map[Kind]bool
	Statuses []StatusRule
	Default  bool
}

// Retryable reports whether err may be retried under t.
func (t Table) Retryable(err error) bool {
	kind, status := Classify(err)
	if kind == KindHTTP && status != 0 {
		for _, r := range t.Statuses {
			if status >= r.Min && status <= r.Max {
				return r.Retryable
			}
		}
		return t.Default
	}
	if v, ok := t.Kinds[kind]; ok {
		return v
	}
	return t.Default
}

// With returns a copy of t with rules prepended, so they take precedence.
func (t Table) With(rules ...StatusRule) Table {
	kinds := make(map[Kind]bool, len(t.Kinds))
	for k, v := range t.Kinds {
		kinds[k] = v
	}
	statuses := make([]StatusRule, 0, len(rules)+len(t.Statuses))
	statuses = append(statuses, rules...)
	statuses = append(statuses, t.Statuses...)
	return Table{Kinds: kinds, Statuses: statuses, Default: t.Default}
}

// DefaultTable retries timeouts, network, connection-reset and DNS failures,
// 5xx and 429. Other 4xx, validation and unknown failures are final.
var DefaultTable = Table{
	Kinds: map[Kind]bool{
		KindTimeout:         true,
		KindNetwork:         true,
		KindConnectionReset: true,
		KindDNS:             true,
		KindValidation:      false,
		KindCanceled:        false,
	},
	Statuses: []StatusRule{
		{Min: 429, Max: 429, Retryable: true},
		{Min: 500, Max: 599, Retryable: true},
		{Min: 400, Max: 499, Retryable: false},
	},
	Default: false,
}

// VendorTable extends DefaultTable with 408 Request Timeout as retryable.
var VendorTable = DefaultTable.With(StatusRule{Min: 408, Max: 408, Retryable: true})
