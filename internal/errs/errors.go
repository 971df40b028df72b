// Package errs defines the error taxonomy shared by the generation and push
// pipelines.
//
// Every failure surfaced to an operator is an *Error carrying its Kind, the
// operation that failed and the identifiers needed to re-run just that piece
// of work (repository, task branch, glob or document identifier).
package errs

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Kind classifies a failure by how the pipeline reacts to it.
type Kind string

const (
	// KindConfiguration is fatal: the run aborts before any mutation.
	KindConfiguration Kind = "configuration"
	// KindGeneration is recovered at the generation driver boundary by
	// discarding staged deletions.
	KindGeneration Kind = "generation"
	// KindExtraction fails a single push task; siblings proceed.
	KindExtraction Kind = "extraction"
	// KindPush fails a single push task; siblings proceed.
	KindPush Kind = "push"
)

// Sentinels usable with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrGeneration    = errors.New("generation failure")
	ErrExtraction    = errors.New("extraction error")
	ErrPush          = errors.New("push failure")
)

// Error is a structured pipeline error.
type Error struct {
	Kind      Kind
	Operation string            // e.g. "parse pattern", "commit"
	Subject   map[string]string // repo, task, glob, document...
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Operation)
	b.WriteString(" failed")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if ctx := e.context(); ctx != "" {
		b.WriteString(" (")
		b.WriteString(ctx)
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrGeneration:
		return e.Kind == KindGeneration
	case ErrExtraction:
		return e.Kind == KindExtraction
	case ErrPush:
		return e.Kind == KindPush
	}
	return false
}

// With returns a copy of e with an extra subject identifier.
func (e *Error) With(key, value string) *Error {
	subject := make(map[string]string, len(e.Subject)+1)
	for k, v := range e.Subject {
		subject[k] = v
	}
	subject[key] = value
	return &Error{Kind: e.Kind, Operation: e.Operation, Subject: subject, Err: e.Err}
}

// context renders the subject identifiers in a stable order.
func (e *Error) context() string {
	if len(e.Subject) == 0 {
		return ""
	}
	parts := make([]string, 0, len(e.Subject))
	for _, key := range subjectOrder {
		if v, ok := e.Subject[key]; ok {
			parts = append(parts, key+"="+v)
		}
	}
	var extra []string
	for k, v := range e.Subject {
		if !slices.Contains(subjectOrder, k) {
			extra = append(extra, k+"="+v)
		}
	}
	sort.Strings(extra)
	return strings.Join(append(parts, extra...), ", ")
}

var subjectOrder = []string{"repo", "task", "glob", "document", "path"}

func newError(kind Kind, op string, err error, kv ...string) *Error {
	subject := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		subject[kv[i]] = kv[i+1]
	}
	return &Error{Kind: kind, Operation: op, Subject: subject, Err: err}
}

// Configuration creates a ConfigurationError. kv are alternating subject
// keys and values.
func Configuration(op string, err error, kv ...string) *Error {
	return newError(KindConfiguration, op, err, kv...)
}

// Generation creates a GenerationFailure.
func Generation(op string, err error, kv ...string) *Error {
	return newError(KindGeneration, op, err, kv...)
}

// Extraction creates an ExtractionError.
func Extraction(op string, err error, kv ...string) *Error {
	return newError(KindExtraction, op, err, kv...)
}

// Push creates a PushFailure.
func Push(op string, err error, kv ...string) *Error {
	return newError(KindPush, op, err, kv...)
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Configurationf is a shorthand for a ConfigurationError without a cause.
func Configurationf(op, format string, args ...any) *Error {
	return Configuration(op, fmt.Errorf(format, args...))
}
