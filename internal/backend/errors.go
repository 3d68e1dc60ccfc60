package backend

import (
	"errors"

	"github.com/jmylchreest/esplay/internal/player"
)

// code is the engine's native result code. It never leaves this package:
// every public method runs it through translate.
type code int

const (
	codeOK code = iota
	codeBufferFull
	codeInvalidState
	codeInvalidParam
	codeNotSupported
	codeDecodeFailed
	codeClosed
	codeAborted
	codeInitFailed
)

func (c code) String() string {
	switch c {
	case codeOK:
		return "ok"
	case codeBufferFull:
		return "buffer full"
	case codeInvalidState:
		return "invalid state"
	case codeInvalidParam:
		return "invalid parameter"
	case codeNotSupported:
		return "not supported"
	case codeDecodeFailed:
		return "decode failed"
	case codeClosed:
		return "closed"
	case codeAborted:
		return "aborted"
	case codeInitFailed:
		return "init failed"
	default:
		return "unknown"
	}
}

func (c code) kind() player.ErrorKind {
	switch c {
	case codeBufferFull:
		return player.KindTransient
	case codeInvalidParam:
		return player.KindBadArgument
	case codeNotSupported:
		return player.KindNotSupported
	case codeAborted:
		return player.KindAborted
	default:
		return player.KindBackendFailure
	}
}

// translate maps a native code onto the pipeline error taxonomy.
func translate(op string, c code) error {
	if c == codeOK {
		return nil
	}
	return &player.Error{
		Kind: c.kind(),
		Op:   op,
		Code: int(c),
		Err:  errors.New(c.String()),
	}
}
