// Package apperr defines the error kinds surfaced to HTTP clients and the
// fixed status/code table they map to.
package apperr

import (
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
)

// Kind identifies one row of the client-facing error table.
type Kind string

const (
	InternalFault    Kind = "internal_fault"
	RouteNotFound    Kind = "route_not_found"
	InvalidInput     Kind = "invalid_input"
	InvalidTarget    Kind = "invalid_target"
	MethodNotAllowed Kind = "method_not_allowed"
	NotFound         Kind = "not_found"
	SizeExceeded     Kind = "size_exceeded"
	DownloadError    Kind = "download_error"
)

// Response is what a client sees for a Kind.
type Response struct {
	Status  int
	Code    int
	Message string
}

var (
	tagInvalidInput  = goerr.NewTag(string(InvalidInput))
	tagInvalidTarget = goerr.NewTag(string(InvalidTarget))
	tagNotFound      = goerr.NewTag(string(NotFound))
	tagSizeExceeded  = goerr.NewTag(string(SizeExceeded))
	tagDownloadError = goerr.NewTag(string(DownloadError))
	tagInternalFault = goerr.NewTag(string(InternalFault))
)

// taggedKinds is checked in order by KindOf. InternalFault is last so a more
// specific tag further down the chain wins.
var taggedKinds = taggedList(
	tagged(InvalidInput, tagInvalidInput),
	tagged(InvalidTarget, tagInvalidTarget),
	tagged(NotFound, tagNotFound),
	tagged(SizeExceeded, tagSizeExceeded),
	tagged(DownloadError, tagDownloadError),
	tagged(InternalFault, tagInternalFault),
)

// taggedKind pairs a Kind with its goerr tag. goerr/v2 does not export its tag
// type, so it is carried as a type parameter inferred from goerr.NewTag.
type taggedKind[T any] struct {
	kind Kind
	tag  T
}

func tagged[T any](kind Kind, tag T) taggedKind[T] {
	return taggedKind[T]{kind: kind, tag: tag}
}

func taggedList[T any](tks ...taggedKind[T]) []taggedKind[T] {
	return tks
}

var table = map[Kind]Response{
	InternalFault:    {Status: http.StatusInternalServerError, Code: 0, Message: "An internal error occurred."},
	RouteNotFound:    {Status: http.StatusNotFound, Code: 1, Message: "The requested resource was not found."},
	InvalidInput:     {Status: http.StatusBadRequest, Code: 2, Message: "The request body is invalid."},
	InvalidTarget:    {Status: http.StatusBadRequest, Code: 3, Message: "The requested path is a file, not a folder."},
	MethodNotAllowed: {Status: http.StatusMethodNotAllowed, Code: 8, Message: "The method is not allowed for the requested URL."},
	NotFound:         {Status: http.StatusBadRequest, Code: 11, Message: "The requested folder does not exist."},
	SizeExceeded:     {Status: http.StatusBadRequest, Code: 20, Message: "The requested folder exceeds the maximum allowed size."},
	DownloadError:    {Status: http.StatusBadGateway, Code: 21, Message: "Failed to download the folder contents."},
}

// Lookup returns the response row for kind. Unknown kinds map to InternalFault.
func Lookup(kind Kind) Response {
	if r, ok := table[kind]; ok {
		return r
	}
	return table[InternalFault]
}

func tagFor(kind Kind) (goerr.Option, bool) {
	for _, tk := range taggedKinds {
		if tk.kind == kind {
			return goerr.T(tk.tag), true
		}
	}
	return nil, false
}

// New creates an error tagged with kind.
func New(kind Kind, msg string, opts ...goerr.Option) error {
	if tagOpt, ok := tagFor(kind); ok {
		opts = append(opts, tagOpt)
	}
	return goerr.New(msg, opts...)
}

// Wrap wraps cause and tags it with kind. A nil cause yields nil.
func Wrap(kind Kind, cause error, msg string, opts ...goerr.Option) error {
	if cause == nil {
		return nil
	}
	if tagOpt, ok := tagFor(kind); ok {
		opts = append(opts, tagOpt)
	}
	return goerr.Wrap(cause, msg, opts...)
}

// KindOf reports the Kind attached to err. Untagged errors are InternalFault.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, tk := range taggedKinds {
		if goerr.HasTag(err, tk.tag) {
			return tk.kind
		}
	}
	return InternalFault
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Values returns the structured values attached along err's chain, for logging.
func Values(err error) map[string]any {
	var gerr *goerr.Error
	if !errors.As(err, &gerr) {
		return nil
	}
	return gerr.Values()
}
