package tag_test

import (
	"errors"
	"testing"

	"github.com/evkernel/evkernel/pkg/tag"
	"github.com/stretchr/testify/require"
)

func TestWrap_NilErrorStaysNil(t *testing.T) {
	require.NoError(t, tag.Wrap(tag.Store, nil))
}

func TestWrap_PreservesUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := tag.Wrap(tag.Adapter, base)

	require.ErrorIs(t, wrapped, base)

	var tagged *tag.Error
	require.ErrorAs(t, wrapped, &tagged)
	require.Equal(t, tag.Adapter, tagged.Tag)
}

func TestTag_String(t *testing.T) {
	require.Equal(t, "handler", tag.Handler.String())
}
