// Package upstream opens streaming chat completions against an OpenAI-compatible
// AI gateway and exposes them as ordered text deltas.
//
// A stream is consumed as an iter.Seq2[Delta, error]. Each element is one unit
// received from the gateway:
//
//   - (Delta, nil): the unit decoded. Delta may be empty when the unit carried no
//     assistant text (role-only or finish units).
//   - (Delta{}, *DecodeError): the unit could not be decoded. The stream is still
//     usable and the next unit follows.
//   - (Delta{}, err): the stream itself failed. This is always the last element.
//
// Normal exhaustion ends the sequence without an error. The sequence owns the
// upstream connection and closes it when iteration stops for any reason,
// including an early break by the consumer.
package upstream
