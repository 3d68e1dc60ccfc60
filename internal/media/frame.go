package media

import (
	"errors"
	"time"
)

// ErrInvalidFrame is returned when frame parameters are inconsistent.
var ErrInvalidFrame = errors.New("invalid frame")

// EncodedFrame is one encoded access unit queued for a backend.
// It is immutable once constructed.
type EncodedFrame struct {
	streamType StreamType
	payload    *Ownership
	size       int
	pts        time.Duration
	duration   time.Duration
	keyFrame   bool
	eos        bool
	encryption *Encryption
}

// FrameParams holds the inputs for NewFrame.
type FrameParams struct {
	Type       StreamType
	Payload    *Ownership
	PTS        time.Duration
	Duration   time.Duration
	KeyFrame   bool
	Encryption *Encryption
}

// NewFrame builds an EncodedFrame. The frame takes the ownership token as-is;
// the buffer moves to whoever calls Take on it.
func NewFrame(p FrameParams) (*EncodedFrame, error) {
	if !p.Type.Valid() {
		return nil, ErrInvalidFrame
	}
	if p.Duration < 0 {
		return nil, ErrInvalidFrame
	}
	size := 0
	if b := p.Payload.Peek(); b != nil {
		size = b.Len()
	}
	enc := p.Encryption
	if enc != nil {
		c := *enc
		enc = &c
	}
	return &EncodedFrame{
		streamType: p.Type,
		payload:    p.Payload,
		size:       size,
		pts:        p.PTS,
		duration:   p.Duration,
		keyFrame:   p.KeyFrame,
		encryption: enc,
	}, nil
}

// NewEOSFrame builds the end-of-stream marker for a stream.
func NewEOSFrame(t StreamType, pts time.Duration) *EncodedFrame {
	return &EncodedFrame{streamType: t, pts: pts, eos: true}
}

// Type returns the stream type.
func (f *EncodedFrame) Type() StreamType { return f.streamType }

// PTS returns the presentation timestamp.
func (f *EncodedFrame) PTS() time.Duration { return f.pts }

// Duration returns the frame duration.
func (f *EncodedFrame) Duration() time.Duration { return f.duration }

// End returns PTS + Duration.
func (f *EncodedFrame) End() time.Duration { return f.pts + f.duration }

// KeyFrame reports whether the frame is a random access point.
func (f *EncodedFrame) KeyFrame() bool { return f.keyFrame }

// EOS reports whether this is the end-of-stream marker.
func (f *EncodedFrame) EOS() bool { return f.eos }

// Size returns the payload size in bytes. EOS markers are zero bytes.
func (f *EncodedFrame) Size() int { return f.size }

// Encryption returns a copy of the encryption descriptor, or nil.
func (f *EncodedFrame) Encryption() *Encryption {
	if f.encryption == nil {
		return nil
	}
	c := *f.encryption
	return &c
}

// Payload returns the ownership token of the payload.
func (f *EncodedFrame) Payload() *Ownership { return f.payload }

// Release drops the payload if the frame still owns it.
func (f *EncodedFrame) Release() {
	if f.payload != nil {
		f.payload.Release()
	}
}
