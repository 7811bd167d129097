package codec

import "errors"

var (
	ErrEmptyInput           = errors.New("nothing to convert")
	ErrUnsupportedDirection = errors.New("unsupported direction")

	ErrInvalidXML         = errors.New("invalid XML")
	ErrInvalidBase64      = errors.New("invalid base64")
	ErrInvalidCompression = errors.New("invalid compressed data")
	ErrInternal           = errors.New("internal codec error")
)

// Error is a codec failure carrying its kind (one of the Err* sentinels above)
// and the underlying cause. Error() returns the cause's message so it can be
// shown to the user as is.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the error's kind, so errors.Is(err, ErrInvalidBase64) works.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindName returns a short machine-readable name for the kind of err.
// Errors outside the codec taxonomy report as "internal"; nil is "".
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidXML):
		return "invalid_xml"
	case errors.Is(err, ErrInvalidBase64):
		return "invalid_base64"
	case errors.Is(err, ErrInvalidCompression):
		return "invalid_compression"
	case errors.Is(err, ErrUnsupportedDirection):
		return "unsupported_direction"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	}
	return "internal"
}
