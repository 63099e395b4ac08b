// Package envelope encodes and decodes the structured payload carried in
// WebSocket text frames.
//
// The envelope package implements:
//   - Event messages: an event name paired with a serialized data value
//   - Plain messages: a serialized data value with no event name
//   - The handshake-complete control frame sent after a session opens
//
// Wire Format:
//
// Every frame starts with a single marker byte:
//
//	0x00                          handshake complete (the whole frame)
//	0x01 <len> ':' <event> <data> event message
//	0x02 <data>                   plain message
//
// <len> is the decimal byte length of the event name, so any event name
// (including names containing ':' or NUL) survives a round trip. <data> is
// whatever the configured Serializer produced; JSON by default. All frames
// are valid UTF-8 as long as the serializer output is.
//
// Binary frames never pass through this package; the session layer hands
// them to the application as raw bytes.
//
// Usage:
//
//	frame, err := envelope.Default.EncodeEvent("chat", map[string]string{"text": "hi"})
//	if err != nil {
//		return err
//	}
//
//	msg, err := envelope.Decode(frame)
//	if err != nil {
//		// errors.Is(err, envelope.ErrInvalidPayload)
//	}
//	var body map[string]string
//	err = envelope.Default.Unmarshal(msg, &body)
package envelope
