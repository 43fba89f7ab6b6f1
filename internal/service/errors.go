package service

import (
	"errors"
	"strings"

	"github.com/mentionwatch/mentionwatch/internal/biz/usecase"
	"github.com/mentionwatch/mentionwatch/internal/messenger"
)

// ErrInvalid marks a request rejected for its content
var ErrInvalid = errors.New("invalid request")

// sentinels survive the trip through a Response as text; restoreError
// turns the text back into something errors.Is understands
var sentinels = []error{
	ErrInvalid,
	ErrNoPage,
	ErrNoShim,
	usecase.ErrEventNotFound,
}

type remoteError struct {
	msg  string
	kind error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

func restoreError(err error) error {
	if err == nil || errors.Is(err, messenger.ErrDeclined) {
		return err
	}
	msg := err.Error()
	for _, s := range sentinels {
		if msg == s.Error() || strings.HasPrefix(msg, s.Error()+": ") {
			return &remoteError{msg: msg, kind: s}
		}
	}
	return err
}
