// Package chat implements ChatConnection (spec §4.6): a WebSocket
// request/response multiplexer built on gorilla/websocket, generalizing
// the teacher's homeassistant.WSClient (atomic message-ID counter,
// pending-response table, dedicated read loop dispatching by frame kind)
// from Home Assistant's JSON command/result protocol to this core's
// length-delimited binary request/response protocol (spec §6).
package chat

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Request mirrors RequestProto (spec §4.6): verb, path, an optional body,
// headers carried as "Name: Value" strings, and a 64-bit request ID
// assigned in submission order on a single connection.
type Request struct {
	Verb    string
	Path    string
	Body    []byte // nil means "no body"
	Headers []string
	ID      uint64
}

// Response mirrors ResponseProto.
type Response struct {
	Status     uint32
	Message    string
	HasMessage bool
	Body       []byte
	Headers    []string
	ID         uint64
}

const (
	frameRequest  byte = 0
	frameResponse byte = 1
)

// ValidateHeaders checks that every header is carriage-safe "Name: Value"
// carriage (spec §7 RequestHasInvalidHeader). A header must contain a
// ": " separator after a non-empty name and must not carry control
// characters (a tab is allowed).
func ValidateHeaders(headers []string) error {
	for _, h := range headers {
		idx := bytes.Index([]byte(h), []byte(": "))
		if idx <= 0 {
			return fmt.Errorf("%w: %q", ErrRequestHasInvalidHeader, h)
		}
		for i := 0; i < len(h); i++ {
			if c := h[i]; (c < 0x20 && c != '\t') || c == 0x7f {
				return fmt.Errorf("%w: %q", ErrRequestHasInvalidHeader, h)
			}
		}
	}
	return nil
}

type frameWriter struct{ buf bytes.Buffer }

func (w *frameWriter) uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *frameWriter) uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *frameWriter) byte(v byte) { w.buf.WriteByte(v) }

func (w *frameWriter) bytes(v []byte) {
	w.uint32(uint32(len(v)))
	w.buf.Write(v)
}

func (w *frameWriter) string(v string) { w.bytes([]byte(v)) }

func (w *frameWriter) optBytes(v []byte) {
	if v == nil {
		w.byte(0)
		return
	}
	w.byte(1)
	w.bytes(v)
}

func (w *frameWriter) headers(hs []string) {
	w.uint32(uint32(len(hs)))
	for _, h := range hs {
		w.string(h)
	}
}

// encodeRequest encodes a Request into the wire's length-delimited binary
// shape (spec §6: "fixed-width big-endian length prefix followed by a
// hand-rolled minimal binary encoding of the fields").
func encodeRequest(r Request) []byte {
	var w frameWriter
	w.byte(frameRequest)
	w.uint64(r.ID)
	w.string(r.Verb)
	w.string(r.Path)
	w.optBytes(r.Body)
	w.headers(r.Headers)
	return w.buf.Bytes()
}

// encodeResponse encodes a Response into the wire's binary shape.
func encodeResponse(r Response) []byte {
	var w frameWriter
	w.byte(frameResponse)
	w.uint64(r.ID)
	w.uint32(r.Status)
	if r.HasMessage {
		w.byte(1)
		w.string(r.Message)
	} else {
		w.byte(0)
	}
	w.optBytes(r.Body)
	w.headers(r.Headers)
	return w.buf.Bytes()
}

type frameReader struct {
	data []byte
	off  int
}

func (r *frameReader) need(n int) error {
	if r.off+n > len(r.data) {
		return ErrIncomingDataInvalid
	}
	return nil
}

func (r *frameReader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *frameReader) readUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *frameReader) readUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *frameReader) readBytes() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *frameReader) readString() (string, error) {
	b, err := r.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *frameReader) readOptBytes() ([]byte, error) {
	present, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	return r.readBytes()
}

func (r *frameReader) readHeaders() ([]string, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, n)
	for i := range out {
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// decodeFrame decodes a raw wire frame into either a Request or a
// Response, reporting the tag byte it found. Malformed frames surface as
// ErrIncomingDataInvalid (spec §7 "IncomingDataInvalid").
func decodeFrame(data []byte) (tag byte, req Request, resp Response, err error) {
	r := &frameReader{data: data}
	tag, err = r.readByte()
	if err != nil {
		return 0, Request{}, Response{}, err
	}

	switch tag {
	case frameRequest:
		req.ID, err = r.readUint64()
		if err != nil {
			return
		}
		req.Verb, err = r.readString()
		if err != nil {
			return
		}
		req.Path, err = r.readString()
		if err != nil {
			return
		}
		req.Body, err = r.readOptBytes()
		if err != nil {
			return
		}
		req.Headers, err = r.readHeaders()
		return tag, req, resp, err

	case frameResponse:
		resp.ID, err = r.readUint64()
		if err != nil {
			return
		}
		resp.Status, err = r.readUint32()
		if err != nil {
			return
		}
		hasMsg, err2 := r.readByte()
		if err2 != nil {
			return 0, req, resp, err2
		}
		if hasMsg != 0 {
			resp.HasMessage = true
			resp.Message, err = r.readString()
			if err != nil {
				return
			}
		}
		resp.Body, err = r.readOptBytes()
		if err != nil {
			return
		}
		resp.Headers, err = r.readHeaders()
		return tag, req, resp, err

	default:
		return 0, Request{}, Response{}, fmt.Errorf("%w: unknown frame tag %d", ErrIncomingDataInvalid, tag)
	}
}
