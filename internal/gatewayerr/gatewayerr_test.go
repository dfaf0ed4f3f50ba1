package gatewayerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_WSCloseCodeMapping(t *testing.T) {
	assert.Equal(t, 1007, KindInvalidClientInput.WSCloseCode())
	assert.Equal(t, 1008, KindPolicyDenied.WSCloseCode())
	assert.Equal(t, 1011, KindUpstreamUnavailable.WSCloseCode())
	assert.Equal(t, 1013, KindResourceExhausted.WSCloseCode())
	assert.Equal(t, 1011, KindInternal.WSCloseCode())
}

func TestError_UnwrapAndAs(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindUpstreamUnavailable, "connect-failed", cause)

	var wrapped error = err
	ge, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindUpstreamUnavailable, ge.Kind)
	assert.ErrorIs(t, wrapped, cause)
}
