package checkpoint

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ncsn/internal/nn"
	"github.com/born-ml/ncsn/internal/tensor"
)

func testConfig(seed int64) nn.RefineNetConfig {
	return nn.RefineNetConfig{
		Architecture: nn.ArchRefineNet,
		Channels:     1,
		Filters:      2,
		NumL:         2,
		Seed:         seed,
	}
}

func newNet(t *testing.T, seed int64) *nn.RefineNet {
	t.Helper()
	net, err := nn.NewRefineNet(testConfig(seed))
	require.NoError(t, err)
	return net
}

func TestSafeTensors_RoundTrip(t *testing.T) {
	tensors := map[string]*tensor.Tensor{
		"b": tensor.New([]float64{1.5, -2, math.Pi}, tensor.Shape{3}),
		"a": tensor.New([]float64{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}),
	}
	meta := map[string]string{"step": "10"}

	var buf bytes.Buffer
	require.NoError(t, WriteSafeTensors(&buf, tensors, meta))

	got, gotMeta, err := ReadSafeTensors(&buf)
	require.NoError(t, err)
	assert.Equal(t, meta, gotMeta)
	require.Len(t, got, 2)
	for name, want := range tensors {
		assert.True(t, want.Shape().Equal(got[name].Shape()), name)
		assert.Equal(t, want.Data(), got[name].Data(), name)
	}
}

// TestSafeTensors_Layout checks that data is laid out alphabetically.
func TestSafeTensors_Layout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSafeTensors(&buf, map[string]*tensor.Tensor{
		"z": tensor.New([]float64{2}, tensor.Shape{1}),
		"a": tensor.New([]float64{1}, tensor.Shape{1}),
	}, nil))

	raw := buf.Bytes()
	headerSize := binary.LittleEndian.Uint64(raw[:8])
	body := raw[8+headerSize:]
	require.Len(t, body, 16)
	assert.Equal(t, 1.0, math.Float64frombits(binary.LittleEndian.Uint64(body[0:])))
	assert.Equal(t, 2.0, math.Float64frombits(binary.LittleEndian.Uint64(body[8:])))
	assert.NotContains(t, string(raw[8:8+headerSize]), metadataKey)
}

// TestSafeTensors_F32 checks that single-precision tensors are widened.
func TestSafeTensors_F32(t *testing.T) {
	header := []byte(`{"w":{"dtype":"F32","shape":[2],"data_offsets":[0,8]}}`)
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(header))))
	buf.Write(header)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []float32{0.5, -3}))

	got, meta, err := ReadSafeTensors(&buf)
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Equal(t, []float64{0.5, -3}, got["w"].Data())
}

func TestSafeTensors_Corrupt(t *testing.T) {
	tests := []struct {
		name   string
		header string
		body   []byte
		want   error
	}{
		{"short data", `{"w":{"dtype":"F64","shape":[2],"data_offsets":[0,16]}}`, make([]byte, 8), ErrCorrupt},
		{"size mismatch", `{"w":{"dtype":"F64","shape":[3],"data_offsets":[0,16]}}`, make([]byte, 16), ErrCorrupt},
		{"dtype", `{"w":{"dtype":"BF16","shape":[1],"data_offsets":[0,2]}}`, make([]byte, 2), ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(tt.header))))
			buf.WriteString(tt.header)
			buf.Write(tt.body)

			_, _, err := ReadSafeTensors(&buf)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(maxHeaderSize+1)))
	_, _, err := ReadSafeTensors(&buf)
	assert.Equal(t, ErrHeaderTooLarge, errors.Cause(err))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	src := newNet(t, 1)
	dst := newNet(t, 2)
	meta := Metadata{Step: 5000, Filters: 2, NumL: 2, Channels: 1, Architecture: nn.ArchRefineNet, Dataset: "mnist"}

	path := Path(ModelDir(t.TempDir(), 2, "mnist", 2), 5000)
	require.NoError(t, Save(path, src, meta))

	got, err := Load(path, dst)
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	x := tensor.Rand(tensor.Shape{1, 8, 8, 1}, rand.New(rand.NewSource(1)))
	assert.True(t, src.Score(x, []int32{1}).Equal(dst.Score(x, []int32{1})))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.safetensors"), newNet(t, 1))
	assert.ErrorIs(t, err, ErrNotFound)

	two, err := nn.NewRefineNet(nn.RefineNetConfig{Architecture: nn.ArchRefineNetTwoResidual, Channels: 1, Filters: 2, NumL: 2})
	require.NoError(t, err)
	path := Path(dir, 1)
	require.NoError(t, Save(path, two, Metadata{Step: 1}))

	_, err = Load(path, newNet(t, 1))
	assert.ErrorIs(t, err, ErrArchitecture)
}

func TestModelDirAndPath(t *testing.T) {
	dir := ModelDir("saved_models", 128, "cifar10", 10)
	assert.Equal(t, filepath.Join("saved_models", "refinenet128_cifar10_L10"), dir)
	assert.Equal(t, filepath.Join(dir, "ckpt-42.safetensors"), Path(dir, 42))
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()

	_, _, err := Latest(dir)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = Latest(filepath.Join(dir, "nope"))
	assert.ErrorIs(t, err, ErrNotFound)

	for _, name := range []string{"ckpt-900.safetensors", "ckpt-10000.safetensors", "ckpt-2000.safetensors", "ckpt-x.safetensors", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "ckpt-99999.safetensors"), 0o750))

	path, step, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, 10000, step)
	assert.Equal(t, filepath.Join(dir, "ckpt-10000.safetensors"), path)
}

func TestRestore(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(1)
	src := newNet(t, 1)
	dir := ModelDir(root, cfg.Filters, "mnist", cfg.NumL)
	meta := Metadata{Filters: 2, NumL: 2, Channels: 1, Architecture: nn.ArchRefineNet, Dataset: "mnist"}

	meta.Step = 100
	require.NoError(t, Save(Path(dir, 100), newNet(t, 9), meta))
	meta.Step = 200
	require.NoError(t, Save(Path(dir, 200), src, meta))

	cfg.Seed = 3
	net, got, err := Restore(root, "mnist", cfg)
	require.NoError(t, err)
	assert.Equal(t, 200, got.Step)
	x := tensor.Rand(tensor.Shape{1, 8, 8, 1}, rand.New(rand.NewSource(1)))
	assert.True(t, src.Score(x, []int32{0}).Equal(net.Score(x, []int32{0})))

	_, _, err = Restore(root, "cifar10", cfg)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestore_MetadataMismatch(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(1)
	dir := ModelDir(root, cfg.Filters, "mnist", cfg.NumL)
	require.NoError(t, Save(Path(dir, 1), newNet(t, 1), Metadata{Step: 1, Channels: 3}))

	_, _, err := Restore(root, "mnist", cfg)
	assert.ErrorIs(t, err, ErrArchitecture)
	assert.Contains(t, err.Error(), "channels")
}
