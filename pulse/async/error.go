package async

import (
	"fmt"
	"runtime/debug"

	"github.com/teranos/vidget/errors"
)

// ErrorKind classifies why a job failed
type ErrorKind string

const (
	ErrorKindUnsupportedSource ErrorKind = "unsupported_source"
	ErrorKindNetwork           ErrorKind = "network"
	ErrorKindExtraction        ErrorKind = "extraction"
	ErrorKindInternal          ErrorKind = "internal"
)

// InternalFault wraps a panic recovered while executing a job
type InternalFault struct {
	Value interface{}
	Stack []byte
}

func (f *InternalFault) Error() string {
	return fmt.Sprintf("internal fault: %v", f.Value)
}

func newInternalFault(v interface{}) *InternalFault {
	return &InternalFault{Value: v, Stack: debug.Stack()}
}

// ClassifyError maps an execution error to its kind. Anything that is not
// a recognised extractor failure or an internal fault counts as extraction.
func ClassifyError(err error) ErrorKind {
	var fault *InternalFault
	switch {
	case errors.As(err, &fault):
		return ErrorKindInternal
	case errors.Is(err, ErrUnsupportedSource):
		return ErrorKindUnsupportedSource
	case errors.Is(err, ErrNetwork):
		return ErrorKindNetwork
	default:
		return ErrorKindExtraction
	}
}

// failureMessage is the text stored in Job.Error
func failureMessage(kind ErrorKind, err error) string {
	if kind == ErrorKindInternal {
		return "internal error while processing download: " + err.Error()
	}
	return err.Error()
}
