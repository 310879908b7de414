package domain

import "errors"

var (
	ErrRoomFull        = errors.New("room is full")
	ErrRoomNotFound    = errors.New("room not found")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidConfig   = errors.New("invalid room config")
	ErrAlreadyInRoom   = errors.New("already in room")
	ErrNotInRoom       = errors.New("not in room")
	ErrNotHost         = errors.New("only the host may do this")
	ErrPeerNotFound    = errors.New("peer not found")
	ErrRateLimited     = errors.New("too many attempts")
	ErrBadPayload      = errors.New("bad payload")
)

// ErrorCode is the wire form of a domain error.
type ErrorCode string

const (
	CodeRoomFull        ErrorCode = "room-full"
	CodeRoomNotFound    ErrorCode = "room-not-found"
	CodeInvalidPassword ErrorCode = "invalid-password"
	CodeInvalidConfig   ErrorCode = "invalid-config"
	CodeAlreadyInRoom   ErrorCode = "already-in-room"
	CodeNotInRoom       ErrorCode = "not-in-room"
	CodePeerNotFound    ErrorCode = "peer-not-found"
	CodeRateLimited     ErrorCode = "rate-limited"
	CodeBadPayload      ErrorCode = "bad-payload"
	CodeInternal        ErrorCode = "internal"
)

var codeErrors = map[ErrorCode]error{
	CodeRoomFull:        ErrRoomFull,
	CodeRoomNotFound:    ErrRoomNotFound,
	CodeInvalidPassword: ErrInvalidPassword,
	CodeInvalidConfig:   ErrInvalidConfig,
	CodeAlreadyInRoom:   ErrAlreadyInRoom,
	CodeNotInRoom:       ErrNotInRoom,
	CodePeerNotFound:    ErrPeerNotFound,
	CodeRateLimited:     ErrRateLimited,
	CodeBadPayload:      ErrBadPayload,
}

// CodeOf maps an error to its wire code.
func CodeOf(err error) ErrorCode {
	for code, target := range codeErrors {
		if errors.Is(err, target) {
			return code
		}
	}
	return CodeInternal
}

// ErrorOf maps a wire code back to its sentinel, or a generic error.
func ErrorOf(code ErrorCode, msg string) error {
	if err, ok := codeErrors[code]; ok {
		return err
	}
	if msg == "" {
		msg = string(code)
	}
	return errors.New(msg)
}
