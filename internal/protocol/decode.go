package protocol

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseRequest decodes one request buffer. The buffer is decoded lossily,
// the framing artifacts are stripped by character count, and the body is
// split on the first comma into sequence and temperature. A missing or
// unparsable temperature falls back to DefaultTemperature; a missing
// sequence is an error.
func ParseRequest(b []byte) (Request, error) {
	if len(b) > MaxRequestSize {
		return Request{}, ErrRequestTooLarge
	}
	text := strings.ToValidUTF8(string(b), string(utf8.RuneError))
	body, ok := stripArtifacts(text)
	if !ok {
		return Request{}, ErrNoSequence
	}

	seq, tempText, found := strings.Cut(body, separator)
	req := Request{Sequence: seq, Temperature: DefaultTemperature}
	if found {
		if t, ok := parseTemperature(tempText); ok {
			req.Temperature = t
		}
	}
	if req.Sequence == "" {
		return Request{}, ErrNoSequence
	}
	return req, nil
}

// DecodeResponse reads the dG value from a response.
func DecodeResponse(b []byte) (float32, error) {
	if len(b) < ResponseSize {
		return 0, ErrShortResponse
	}
	return math.Float32frombits(binary.NativeEndian.Uint32(b[:ResponseSize])), nil
}

func stripArtifacts(text string) (string, bool) {
	pre := utf8.RuneCountInString(RequestPrefix)
	suf := utf8.RuneCountInString(RequestSuffix)
	for i := 0; i < pre; i++ {
		if text == "" {
			return "", false
		}
		_, n := utf8.DecodeRuneInString(text)
		text = text[n:]
	}
	for i := 0; i < suf; i++ {
		if text == "" {
			return "", false
		}
		_, n := utf8.DecodeLastRuneInString(text)
		text = text[:len(text)-n]
	}
	return text, true
}

func parseTemperature(raw string) (float64, bool) {
	t, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsInf(t, 0) || math.IsNaN(t) {
		return 0, false
	}
	return t, true
}
