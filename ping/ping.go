// Package ping implements the request-response snapshot protocol: a text
// trigger in, the last published value (both encodings) plus a timestamp out.
// The registry's liveness monitor and Subscriber.Get both ride on it.
package ping

import "time"

// trigger is the request marker. Anything else on the wire is ignored.
const trigger = "ping"

// Response is the wire reply to a ping: the last published value in both
// encodings and the time the response was produced. Payload travels as base64
// inside the JSON frame.
type Response struct {
	Payload   []byte    `json:"payload"`
	Display   string    `json:"display"`
	Timestamp time.Time `json:"timestamp"`
}
