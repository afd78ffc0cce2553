package protocol

import (
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"
)

// EncodeRequest frames a query the way workers expect it.
func EncodeRequest(req Request) ([]byte, error) {
	if req.Sequence == "" {
		return nil, ErrNoSequence
	}
	if strings.Contains(req.Sequence, separator) {
		return nil, ErrInvalidSequence
	}
	var b strings.Builder
	b.WriteString(RequestPrefix)
	b.WriteString(req.Sequence)
	b.WriteString(separator)
	b.WriteString(strconv.FormatFloat(req.Temperature, 'f', -1, 64))
	b.WriteString(RequestSuffix)
	if b.Len() > MaxRequestSize {
		return nil, ErrRequestTooLarge
	}
	return []byte(b.String()), nil
}

// EncodeResponse packs dG as a float32 in native byte order.
func EncodeResponse(dg float32) []byte {
	buf := make([]byte, ResponseSize)
	binary.NativeEndian.PutUint32(buf, math.Float32bits(dg))
	return buf
}

// WriteResponse writes one complete response to w.
func WriteResponse(w io.Writer, dg float32) error {
	_, err := w.Write(EncodeResponse(dg))
	return err
}
