package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation error", New(KindValidation, "bad address"), KindValidation},
		{"configuration error", New(KindConfiguration, "no endpoint"), KindConfiguration},
		{"transient error", Wrap(KindTransient, errors.New("timeout"), "rpc call"), KindTransient},
		{"not found", New(KindNotFound, "wallet missing"), KindNotFound},
		{"persistence error", Wrap(KindPersistence, errors.New("tx aborted"), "upsert"), KindPersistence},
		{"plain error has no kind", errors.New("plain"), 0},
		{"nil error has no kind", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := New(KindTransient, "connection reset")
	outer := fmt.Errorf("fetching balances: %w", inner)

	assert.True(t, IsTransient(outer))
	assert.False(t, IsValidation(outer))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindPersistence, nil, "commit"))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindTransient, errors.New("dial tcp: i/o timeout"), "price lookup")
	assert.Equal(t, "price lookup: dial tcp: i/o timeout", err.Error())

	bare := New(KindValidation, "unsupported chain: %s", "dogecoin")
	assert.Equal(t, "unsupported chain: dogecoin", bare.Error())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindPersistence, cause, "insert history")
	assert.ErrorIs(t, err, cause)
}
