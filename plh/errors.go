package plh

import "fmt"

// ErrorKind classifies errors reported by the engine.
type ErrorKind int

// Error kinds.
const (
	// KindAlloc means scratch memory could not be obtained.
	KindAlloc ErrorKind = iota + 1
	// KindInvalidParam is a generic invalid argument.
	KindInvalidParam
	// KindInvalidPinv is an invalid proportion of invariant sites.
	KindInvalidPinv
	// KindInvalidAlpha is an invalid gamma shape parameter.
	KindInvalidAlpha
	// KindInvalidTipData means tip sequence cannot be encoded.
	KindInvalidTipData
	// KindEigen means eigendecomposition failed.
	KindEigen
)

var kindNames = map[ErrorKind]string{
	KindAlloc:          "allocation failure",
	KindInvalidParam:   "invalid parameter",
	KindInvalidPinv:    "invalid proportion of invariant sites",
	KindInvalidAlpha:   "invalid gamma shape",
	KindInvalidTipData: "invalid tip data",
	KindEigen:          "eigendecomposition failure",
}

// String returns a human readable kind name.
func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// Error is an error returned by the engine. Errors with the same kind
// match each other with errors.Is.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return "plh: " + e.Kind.String()
	}
	return "plh: " + e.Kind.String() + ": " + e.Msg
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels to be used with errors.Is.
var (
	ErrAlloc          = &Error{Kind: KindAlloc}
	ErrInvalidParam   = &Error{Kind: KindInvalidParam}
	ErrInvalidPinv    = &Error{Kind: KindInvalidPinv}
	ErrInvalidAlpha   = &Error{Kind: KindInvalidAlpha}
	ErrInvalidTipData = &Error{Kind: KindInvalidTipData}
	ErrEigen          = &Error{Kind: KindEigen}
)

// errorf creates a new *Error of a given kind.
func errorf(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
