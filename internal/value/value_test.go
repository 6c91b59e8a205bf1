package value

import (
	"testing"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(vals ...float32) *tensor.Tensor {
	return tensor.MustNew(vals, []int64{int64(len(vals))})
}

func TestIndexFollowsNestedPath(t *testing.T) {
	out, state := leaf(1, 2), leaf(3)
	v := Seq(Seq(Of(out), Of(state)))

	got, err := v.Index(0, 0)
	require.NoError(t, err)

	tt, err := got.Tensor()
	require.NoError(t, err)
	assert.Same(t, out, tt)
}

func TestIndexIntoTensorFails(t *testing.T) {
	v := Seq(Of(leaf(1)))

	_, err := v.Index(0, 0)
	require.ErrorIs(t, err, ErrIndex)
}

func TestTensorOnSequenceFails(t *testing.T) {
	_, err := Seq(Of(leaf(1))).Tensor()
	require.ErrorIs(t, err, ErrNotTensor)
}

func TestOutOfRangeIndex(t *testing.T) {
	_, err := Tensors(leaf(1)).At(3)
	require.ErrorIs(t, err, ErrIndex)
}

func TestSpecRoundTrip(t *testing.T) {
	v := Seq(Of(leaf(1)), Seq(Of(leaf(2)), Of(leaf(3))))
	spec := v.Spec()

	assert.Equal(t, "(*,(*,*))", spec.String())
	assert.Equal(t, 3, spec.NumLeaves())

	parsed, err := ParseTreeSpec(spec.String())
	require.NoError(t, err)
	assert.Equal(t, spec, parsed)

	rebuilt, err := parsed.Unflatten(v.Flatten())
	require.NoError(t, err)
	assert.Equal(t, v.String(), rebuilt.String())
}

func TestUnflattenRejectsWrongLeafCount(t *testing.T) {
	_, err := Node(Leaf(), Leaf()).Unflatten([]*tensor.Tensor{leaf(1)})
	require.Error(t, err)
}

func TestParseTreeSpecErrors(t *testing.T) {
	for _, raw := range []string{"", "(", "(*", "*)", "x"} {
		_, err := ParseTreeSpec(raw)
		assert.Error(t, err, "spec %q", raw)
	}
}
