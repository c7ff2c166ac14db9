package internal

import "fmt"

type ErrorCode string

const (
	ErrRoomNotFound   ErrorCode = "ROOM_NOT_FOUND"
	ErrRoomFull       ErrorCode = "ROOM_FULL"
	ErrInvalidAction  ErrorCode = "INVALID_ACTION"
	ErrNotHost        ErrorCode = "NOT_HOST"
	ErrGameInProgress ErrorCode = "GAME_IN_PROGRESS"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrInvalidSession ErrorCode = "INVALID_SESSION"
	ErrInvalidMessage ErrorCode = "INVALID_MESSAGE"
	ErrNameTaken      ErrorCode = "NAME_TAKEN"
)

type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// GameError is a rejection that is reported to the sender and never closes
// the connection.
type GameError struct {
	Code    ErrorCode
	Message string
}

func (e *GameError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GameError) Payload() ErrorPayload {
	return ErrorPayload{Code: e.Code, Message: e.Message}
}

func Errorf(code ErrorCode, format string, args ...any) *GameError {
	return &GameError{Code: code, Message: fmt.Sprintf(format, args...)}
}
