package h2

import (
	"strconv"
	"strings"
)

// Header is the canonical HTTP/1.1-equivalent representation the decoded
// request/response is converted to for the upstream handler (spec §4.2:
// "The decoded request/response is converted to a canonical HTTP/1.1-
// equivalent representation"). It intentionally does not attempt to be a
// general URL/MIME header type — that representation is treated as a
// pre-parsed opaque message per spec §1 Non-goals; Header only carries
// what the HTTP/2 layer itself must inspect (pseudo-headers plus the raw
// field list).
type Header struct {
	Method, Scheme, Authority, Path, Status string
	Fields                                  map[string][]string
	ContentLength                           int64 // -1 if absent
}

// NewHeader returns an empty Header ready for field accumulation.
func NewHeader() *Header {
	return &Header{Fields: make(map[string][]string), ContentLength: -1}
}

// methodTokenIndex covers the method tokens spec §6 requires: "CONNECT,
// DELETE, GET, HEAD, OPTIONS, POST, PURGE, PUT, TRACE, PUSH."
var methodTokenIndex = map[string]int{
	"CONNECT": 0,
	"DELETE":  1,
	"GET":     2,
	"HEAD":    3,
	"OPTIONS": 4,
	"POST":    5,
	"PURGE":   6,
	"PUT":     7,
	"TRACE":   8,
	"PUSH":    9,
}

// MethodIndex returns the method token index for method, or -1 if it is
// not one of the recognized tokens (unrecognized methods are still valid
// HTTP/2 requests; the index is only used for compact internal dispatch,
// e.g. fast-pathing GET/HEAD/POST).
func MethodIndex(method string) int {
	if i, ok := methodTokenIndex[method]; ok {
		return i
	}
	return -1
}

// StatusClass classifies an HTTP status code per the taxonomy in spec §6.
type StatusClass int

const (
	StatusClassUnknown StatusClass = iota
	StatusClassInformational
	StatusClassSuccessful
	StatusClassRedirection
	StatusClassClientError
	StatusClassServerError
)

var validInformational = map[int]bool{100: true, 101: true, 102: true, 103: true}
var validRedirection = map[int]bool{300: true, 301: true, 302: true, 303: true, 304: true, 305: true, 307: true, 308: true}

// ClassifyStatus implements the exact taxonomy from spec §6: informational
// (100,101,102,103); successful (200-206); redirection (300,301,302,303,
// 304,305,307,308); client error (400-417,425); server error (500-505).
func ClassifyStatus(code int) StatusClass {
	switch {
	case validInformational[code]:
		return StatusClassInformational
	case code >= 200 && code <= 206:
		return StatusClassSuccessful
	case validRedirection[code]:
		return StatusClassRedirection
	case (code >= 400 && code <= 417) || code == 425:
		return StatusClassClientError
	case code >= 500 && code <= 505:
		return StatusClassServerError
	default:
		return StatusClassUnknown
	}
}

// disallowedHeaders are the connection-specific headers spec §4.2 forbids
// outright in an HTTP/2 header block, except transfer-encoding's
// "trailers" value which is explicitly allowed.
var disallowedHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"upgrade":           true,
}

// headerFieldError reports a malformed-header condition that the caller
// must turn into a stream-level PROTOCOL_ERROR per spec §4.2 and §8.1.2.6.
type headerFieldError struct{ reason string }

func (e headerFieldError) Error() string { return "h2: malformed header: " + e.reason }

// headerAccumulator mirrors the teacher's onNewHeaderField/requestParam
// pair (server.go), generalized to validate the full rule set spec §3 and
// §4.2 name: pseudo-headers precede regular headers, no uppercase name
// bytes, disallowed connection-specific headers, Content-Length agreement.
type headerAccumulator struct {
	h                *Header
	sawRegularHeader bool
	invalid          error
	sawContentLength bool
	contentLengthVal int64
	isResponse       bool
	isTrailer        bool
}

func newHeaderAccumulator(isResponse bool) *headerAccumulator {
	return &headerAccumulator{h: NewHeader(), isResponse: isResponse}
}

func (a *headerAccumulator) onField(name, value string) {
	if a.invalid != nil {
		return
	}
	if hasUpper(name) {
		a.invalid = headerFieldError{reason: "uppercase header name " + name}
		return
	}
	if strings.HasPrefix(name, ":") {
		if a.isTrailer {
			a.invalid = headerFieldError{reason: "pseudo-header " + name + " in trailer block"}
			return
		}
		if a.sawRegularHeader {
			a.invalid = headerFieldError{reason: "pseudo-header after regular header"}
			return
		}
		a.applyPseudo(name, value)
		return
	}
	a.sawRegularHeader = true
	if disallowedHeaders[name] {
		a.invalid = headerFieldError{reason: "disallowed connection-specific header " + name}
		return
	}
	if name == "transfer-encoding" && value != "trailers" {
		a.invalid = headerFieldError{reason: "disallowed Transfer-Encoding value"}
		return
	}
	if name == "content-length" {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			a.invalid = headerFieldError{reason: "invalid Content-Length"}
			return
		}
		if a.sawContentLength && n != a.contentLengthVal {
			a.invalid = headerFieldError{reason: "conflicting Content-Length values"}
			return
		}
		a.sawContentLength = true
		a.contentLengthVal = n
	}
	if name == "cookie" {
		if vv, ok := a.h.Fields["cookie"]; ok && len(vv) == 1 {
			a.h.Fields["cookie"][0] = vv[0] + "; " + value
			return
		}
	}
	a.h.Fields[name] = append(a.h.Fields[name], value)
}

func (a *headerAccumulator) applyPseudo(name, value string) {
	var dst *string
	switch name {
	case ":method":
		dst = &a.h.Method
	case ":scheme":
		if a.isResponse {
			a.invalid = headerFieldError{reason: "unexpected :scheme in response"}
			return
		}
		dst = &a.h.Scheme
	case ":authority":
		dst = &a.h.Authority
	case ":path":
		if a.isResponse {
			a.invalid = headerFieldError{reason: "unexpected :path in response"}
			return
		}
		dst = &a.h.Path
	case ":status":
		dst = &a.h.Status
	default:
		a.invalid = headerFieldError{reason: "invalid pseudo-header " + name}
		return
	}
	if *dst != "" {
		a.invalid = headerFieldError{reason: "duplicate pseudo-header " + name}
		return
	}
	*dst = value
}

// finish validates the required pseudo-headers and folds the accumulated
// Content-Length, returning the completed Header. A trailer block carries
// no pseudo-headers at all (rejected in onField above), so the
// request/response pseudo-header requirement is skipped for it.
func (a *headerAccumulator) finish() (*Header, error) {
	if a.invalid != nil {
		return nil, a.invalid
	}
	if a.isTrailer {
		return a.h, nil
	}
	if !a.isResponse {
		if a.h.Method == "" || a.h.Path == "" || (a.h.Scheme != "http" && a.h.Scheme != "https") {
			return nil, headerFieldError{reason: "missing or invalid required pseudo-headers"}
		}
	} else if a.h.Status == "" {
		return nil, headerFieldError{reason: "missing :status"}
	}
	if a.sawContentLength {
		a.h.ContentLength = a.contentLengthVal
	}
	return a.h, nil
}

func hasUpper(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			return true
		}
	}
	return false
}
