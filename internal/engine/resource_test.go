package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type budget struct {
	Remaining int
}

type conn struct {
	closed *bool
}

func (c conn) Close() error {
	*c.closed = true
	return errors.New("already closed by peer")
}

func TestResource_InstallTwiceRejected(t *testing.T) {
	u := newTestUniverse(t)
	require.NoError(t, Install(u, budget{Remaining: 3}))

	err := Install(u, budget{Remaining: 9})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyInstalled)

	got, ok := Lookup[budget](u)
	require.True(t, ok)
	assert.Equal(t, 3, got.Remaining, "rejected install leaves the first value")

	require.NoError(t, Replace(u, budget{Remaining: 9}))
	got, _ = Lookup[budget](u)
	assert.Equal(t, 9, got.Remaining)
}

func TestResource_ResAndMut(t *testing.T) {
	u := newTestUniverse(t)
	require.NoError(t, Install(u, budget{Remaining: 2}))

	mut := Mut[budget]()
	spend := Kernel{
		Name:   "spend",
		Params: []Param{mut},
		Body: func(tx *Tx) error {
			b := mut.In(tx)
			if b.Remaining == 0 {
				return errors.New("budget exhausted")
			}
			b.Remaining--
			return nil
		},
	}
	require.NoError(t, u.Run(context.Background(), spend))
	require.NoError(t, u.Run(context.Background(), spend))
	assert.True(t, IsKernelBodyFailure(u.Run(context.Background(), spend)))

	res := Res[budget]()
	require.NoError(t, u.Run(context.Background(), Kernel{
		Name:   "peek",
		Params: []Param{res},
		Body: func(tx *Tx) error {
			assert.Equal(t, 0, res.In(tx).Remaining)
			return nil
		},
	}))
	assert.Equal(t, "Res[engine.budget]", res.Describe())
	assert.Equal(t, "Mut[engine.budget]", mut.Describe())
}

func TestResource_Uninstall(t *testing.T) {
	u := newTestUniverse(t)
	require.NoError(t, Install(u, budget{Remaining: 5}))

	b, err := Uninstall[budget](u)
	require.NoError(t, err)
	assert.Equal(t, 5, b.Remaining)

	_, err = Uninstall[budget](u)
	assert.ErrorIs(t, err, ErrMissingResource)

	err = u.Run(context.Background(), Kernel{Name: "k", Params: []Param{Res[budget]()}})
	assert.True(t, IsResolutionError(err))
}

func TestResource_CloseClosesResources(t *testing.T) {
	u := New(WithLogger(discardLogger()))
	closed := false
	require.NoError(t, Install(u, conn{closed: &closed}))

	err := u.Close()
	assert.True(t, closed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already closed by peer")

	_, ok := Lookup[conn](u)
	assert.False(t, ok)
	assert.ErrorIs(t, Install(u, budget{}), ErrClosed)
}
