package qev

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := newError(KindListen, "bind", io.EOF)
	assert.Equal(t, "qev: LISTEN: bind: EOF", err.Error())

	bare := newError(KindInit, "epoll_create1", nil)
	assert.Equal(t, "qev: INIT: epoll_create1", bare.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := newError(KindTLSIO, "write", cause)

	assert.ErrorIs(t, err, cause)

	var target *Error
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, KindTLSIO, target.Kind)
}

func TestKind_String(t *testing.T) {
	cases := map[Kind]string{
		KindInit:         "INIT",
		KindListen:       "LISTEN",
		KindAccept:       "ACCEPT",
		KindTLSHandshake: "TLS_HANDSHAKE",
		KindTLSIO:        "TLS_IO",
		KindPoll:         "POLL",
		KindPrivilege:    "PRIVILEGE",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
	assert.Equal(t, "UNKNOWN", Kind(99).String())
}
