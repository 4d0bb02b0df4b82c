package rpcerr

import "fmt"

// Shape is the wire form of a failure body, carried inside a response
// envelope's `body` field whenever `result` is false.
type Shape struct {
	Name        string                 `json:"name"`
	Message     string                 `json:"message"`
	Stack       string                 `json:"stack,omitempty"`
	ErrorType   Kind                   `json:"errorType"`
	ErrorNumber int                    `json:"errorNumber,omitempty"`
	ErrorKey    string                 `json:"errorKey,omitempty"`
	ErrorCode   string                 `json:"errorCode,omitempty"`
	DebugMsg    string                 `json:"debugMsg,omitempty"`
	StatusCode  int                    `json:"statusCode,omitempty"`
	OccurredIn  string                 `json:"occurredIn,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// ToShape flattens the error into its wire representation.
func (e *Error) ToShape() Shape {
	s := Shape{
		Name:        e.Name,
		Message:     e.Error(),
		ErrorType:   e.Kind,
		ErrorNumber: e.Number,
		ErrorKey:    e.Key,
		ErrorCode:   e.Code,
		DebugMsg:    e.DebugMsg,
		StatusCode:  e.StatusCode,
		OccurredIn:  e.OccurredIn,
		Extra:       e.Extra,
	}
	if frames := e.StackTrace(); len(frames) > 0 {
		for _, f := range frames {
			s.Stack += fmt.Sprintf("%+v", f)
		}
	}
	return s
}

// FromShape reconstructs an *Error from a decoded wire Shape, as invoke does
// on the caller side after a failed call. Shapes whose errorType does not
// match a known Kind are classified as ETC, per the engine's own fallback
// for unrecognized error types.
func FromShape(s Shape) *Error {
	kind := s.ErrorType
	name := s.Name
	switch kind {
	case Logic, Fatal:
		// keep as-is
	default:
		kind = ETC
		name = "ETCError"
	}
	e := &Error{
		Kind:       kind,
		Name:       name,
		Number:     s.ErrorNumber,
		Key:        s.ErrorKey,
		Code:       s.ErrorCode,
		DebugMsg:   s.DebugMsg,
		StatusCode: s.StatusCode,
		OccurredIn: s.OccurredIn,
		Extra:      s.Extra,
	}
	e.cause = errorString(s.Message)
	return e
}

// errorString is a minimal error implementation used to preserve a decoded
// wire message without re-running stack capture for a failure that already
// happened on a remote process.
type errorString string

func (e errorString) Error() string { return string(e) }
