package lobby

import "github.com/pkg/errors"

var (
	ErrRosterFull        = errors.New("lobby is full")
	ErrNotJoined         = errors.New("player has not joined")
	ErrAlreadyJoined     = errors.New("player already joined")
	ErrUnexpectedMessage = errors.New("unexpected message kind")
)
