package mux

// Parser reconstructs frames from an arbitrarily-chunked byte stream
// (spec.md §4.7: "must accept any chunk boundary split of a valid frame
// stream and reconstruct the same frames"). It holds the undecoded
// remainder between Feed calls.
type Parser struct {
	buf        []byte
	maxPayload int
}

// NewParser builds a Parser enforcing maxPayload as the per-frame payload
// cap (TCP_MUX_MAX_FRAME_PAYLOAD_BYTES).
func NewParser(maxPayload int) *Parser {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxFramePayloadBytes
	}
	return &Parser{maxPayload: maxPayload}
}

// Feed appends data to the parser's buffer and decodes as many complete
// frames as are now available, leaving any trailing partial frame buffered
// for the next call. Returns ErrOversizeFrame or ErrMalformedFrame on a
// protocol violation; the caller must terminate the session in that case
// (Session.Serve closes the WebSocket with 1009 for both errors).
func (p *Parser) Feed(data []byte) ([]Frame, error) {
	p.buf = append(p.buf, data...)

	var frames []Frame
	for {
		frame, n, err := tryParseFrame(p.buf, p.maxPayload)
		if err != nil {
			return frames, err
		}
		if n == 0 {
			break
		}
		frames = append(frames, frame)
		p.buf = p.buf[n:]
	}

	if len(p.buf) == 0 {
		p.buf = nil
	}
	return frames, nil
}

// Pending reports how many undecoded bytes are currently buffered, for
// diagnostics and tests.
func (p *Parser) Pending() int {
	return len(p.buf)
}
