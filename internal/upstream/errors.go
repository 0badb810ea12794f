package upstream

import "fmt"

// DecodeError reports a single streamed unit that could not be decoded.
// It never terminates the stream.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode stream unit: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
