package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

func rawPayload(t *testing.T, header map[string]any, data []byte) []byte {
	t.Helper()

	h, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	out := make([]byte, 8, 8+len(h)+len(data))
	binary.LittleEndian.PutUint64(out, uint64(len(h)))
	out = append(out, h...)

	return append(out, data...)
}

func TestWriteFileRoundTripWithMetadata(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "outputs.safetensors")
	want := Tensor{Name: "output.0", Shape: []int64{1, 2, 4}, Data: []float32{1.5, -0.25, 3.25, 4, -1, 0.5, 2.5, 9}}

	if err := WriteFile(path, []Tensor{want}, map[string]string{"tree": "(*,*)"}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if got := store.Metadata()["tree"]; got != "(*,*)" {
		t.Fatalf("metadata tree = %q, want (*,*)", got)
	}

	if names := store.Names(); len(names) != 1 || names[0] != "output.0" {
		t.Fatalf("Names() = %v, want [output.0]", names)
	}

	got, err := store.TensorWithShape("output.0", []int64{1, 2, 4})
	if err != nil {
		t.Fatalf("TensorWithShape: %v", err)
	}

	for i := range want.Data {
		if got.Data[i] != want.Data[i] {
			t.Fatalf("data[%d] = %v, want %v", i, got.Data[i], want.Data[i])
		}
	}

	if _, err := store.TensorWithShape("output.0", []int64{8}); err == nil {
		t.Fatal("shape mismatch should fail")
	}
}

func TestEncodeValidationErrors(t *testing.T) {
	t.Parallel()

	if _, err := EncodeTensors(nil); err == nil {
		t.Fatal("EncodeTensors(nil) should fail")
	}

	if _, err := EncodeTensors([]Tensor{{Name: " ", Shape: []int64{1}, Data: []float32{1}}}); err == nil {
		t.Fatal("empty tensor name should fail")
	}

	if _, err := EncodeTensors([]Tensor{
		{Name: "x", Shape: []int64{1}, Data: []float32{1}},
		{Name: "x", Shape: []int64{1}, Data: []float32{2}},
	}); err == nil {
		t.Fatal("duplicate tensor names should fail")
	}

	if _, err := EncodeTensors([]Tensor{{Name: metadataKey, Shape: []int64{1}, Data: []float32{1}}}); err == nil {
		t.Fatal("reserved metadata name should fail")
	}

	if _, err := EncodeTensors([]Tensor{{Name: "x", Shape: []int64{1, 2}, Data: []float32{1}}}); err == nil {
		t.Fatal("shape/data mismatch should fail")
	}
}

func TestOpenStoreRejectsMalformedPayloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "short", data: []byte{1, 2}, want: "too short"},
		{name: "header overflow", data: rawPayload(t, map[string]any{}, nil)[:8], want: "exceeds"},
		{name: "no tensors", data: rawPayload(t, map[string]any{metadataKey: map[string]string{"a": "b"}}, nil), want: "no tensors"},
		{
			name: "bad dtype",
			data: rawPayload(t, map[string]any{"x": map[string]any{"dtype": "I8", "shape": []int64{1}, "data_offsets": []int{0, 1}}}, []byte{1}),
			want: "unsupported dtype",
		},
		{
			name: "truncated data",
			data: rawPayload(t, map[string]any{"x": map[string]any{"dtype": "F32", "shape": []int64{2}, "data_offsets": []int{0, 8}}}, []byte{0, 0, 0, 0}),
			want: "exceeds payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenStoreFromBytes(tt.data)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("OpenStoreFromBytes error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestStoreDecodesHalfPrecision(t *testing.T) {
	t.Parallel()

	data := make([]byte, 0, 12)
	for _, h := range []uint16{0x3c00, 0xc000, 0x3800} {
		data = binary.LittleEndian.AppendUint16(data, h)
	}

	for _, f := range []float32{1, -2, 0.5} {
		data = binary.LittleEndian.AppendUint16(data, uint16(math.Float32bits(f)>>16))
	}

	blob := rawPayload(t, map[string]any{
		"half":  map[string]any{"dtype": "F16", "shape": []int64{3}, "data_offsets": []int{0, 6}},
		"bhalf": map[string]any{"dtype": "BF16", "shape": []int64{3}, "data_offsets": []int{6, 12}},
	}, data)

	store, err := OpenStoreFromBytes(blob)
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}

	for _, name := range []string{"half", "bhalf"} {
		got, err := store.Tensor(name)
		if err != nil {
			t.Fatalf("Tensor(%s): %v", name, err)
		}

		want := []float32{1, -2, 0.5}
		for i := range want {
			if got.Data[i] != want[i] {
				t.Fatalf("%s[%d] = %v, want %v", name, i, got.Data[i], want[i])
			}
		}
	}
}

func TestFloat16ToFloat32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		h    uint16
		want float32
	}{
		{h: 0x0000, want: 0},
		{h: 0x3c00, want: 1},
		{h: 0xbc00, want: -1},
		{h: 0x7bff, want: 65504},
		{h: 0x0001, want: float32(math.Ldexp(1, -24))},
		{h: 0x7c00, want: float32(math.Inf(1))},
	}

	for _, tt := range tests {
		if got := float16ToFloat32(tt.h); got != tt.want {
			t.Fatalf("float16ToFloat32(0x%04x) = %v, want %v", tt.h, got, tt.want)
		}
	}

	if got := float16ToFloat32(0x7e00); !math.IsNaN(float64(got)) {
		t.Fatalf("float16ToFloat32(NaN) = %v", got)
	}
}

func TestSequenceRoundTrip(t *testing.T) {
	t.Parallel()

	a := tensor.MustNew([]float32{1, 2}, []int64{2})
	b := tensor.MustNew([]float32{3}, []int64{1, 1})

	blob, err := Encode(SequenceTensors("output", []*tensor.Tensor{a, b}), map[string]string{"tree": "(*,*)"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	m, meta, err := DecodeMap(blob)
	if err != nil {
		t.Fatalf("DecodeMap: %v", err)
	}

	if meta["tree"] != "(*,*)" {
		t.Fatalf("metadata = %v", meta)
	}

	seq, err := Sequence(m, "output")
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}

	if len(seq) != 2 || !tensor.AllClose(seq[0], a, 0, 0) || !tensor.AllClose(seq[1], b, 0, 0) {
		t.Fatalf("Sequence = %v", seq)
	}

	if _, err := Sequence(m, "state"); err == nil {
		t.Fatal("missing prefix should fail")
	}
}

func TestFromMapSortsByName(t *testing.T) {
	t.Parallel()

	got := FromMap(map[string]*tensor.Tensor{
		"b": tensor.Scalar(2),
		"a": tensor.Scalar(1),
	})

	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("FromMap order = %+v", got)
	}
}
