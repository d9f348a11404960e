package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/ncsn/internal/tensor"
)

const (
	metadataKey   = "__metadata__"
	maxHeaderSize = 100 * 1024 * 1024
)

// DType is a SafeTensors element type.
type DType string

// Supported dtypes.
const (
	F32 DType = "F32"
	F64 DType = "F64"
)

func (d DType) size() (int, error) {
	switch d {
	case F32:
		return 4, nil
	case F64:
		return 8, nil
	default:
		return 0, errors.Wrapf(ErrUnsupported, "%q", string(d))
	}
}

// TensorInfo describes one tensor in the header.
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Header is the JSON header of a SafeTensors file.
type Header struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

// MarshalJSON flattens tensors and metadata into one object.
func (h Header) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(h.Tensors)+1)
	if len(h.Metadata) > 0 {
		flat[metadataKey] = h.Metadata
	}
	for name, info := range h.Tensors {
		flat[name] = info
	}
	return json.Marshal(flat)
}

// UnmarshalJSON splits "__metadata__" from the tensor entries.
func (h *Header) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	h.Tensors = make(map[string]TensorInfo, len(raw))
	for key, value := range raw {
		if key == metadataKey {
			if err := json.Unmarshal(value, &h.Metadata); err != nil {
				return errors.Wrap(err, "unmarshal metadata")
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return errors.Wrapf(err, "unmarshal tensor %s", key)
		}
		h.Tensors[key] = info
	}
	return nil
}

// WriteSafeTensors writes tensors as F64 in alphabetical order.
func WriteSafeTensors(w io.Writer, tensors map[string]*tensor.Tensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := Header{Metadata: metadata, Tensors: make(map[string]TensorInfo, len(names))}
	var offset int64
	for _, name := range names {
		t := tensors[name]
		size := int64(t.NumElements() * 8)
		header.Tensors[name] = TensorInfo{
			DType:       F64,
			Shape:       t.Shape().Clone(),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal header")
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "write header size")
	}
	if _, err := w.Write(headerJSON); err != nil {
		return errors.Wrap(err, "write header")
	}

	for _, name := range names {
		data := tensors[name].Data()
		buf := make([]byte, 8*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return errors.Wrapf(err, "write tensor %s", name)
		}
	}
	return nil
}

// ReadSafeTensors reads every tensor and the metadata from r.
func ReadSafeTensors(r io.Reader) (map[string]*tensor.Tensor, map[string]string, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, errors.Wrap(err, "read header size")
	}
	if headerSize > maxHeaderSize {
		return nil, nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, nil, errors.Wrap(err, "read header")
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, errors.Wrap(err, "parse header")
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read tensor data")
	}

	tensors := make(map[string]*tensor.Tensor, len(header.Tensors))
	for name, info := range header.Tensors {
		t, err := decodeTensor(info, body)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "tensor %s", name)
		}
		tensors[name] = t
	}
	return tensors, header.Metadata, nil
}

func decodeTensor(info TensorInfo, body []byte) (*tensor.Tensor, error) {
	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	elemSize, err := info.DType.size()
	if err != nil {
		return nil, err
	}

	start, end := info.DataOffsets[0], info.DataOffsets[1]
	n := shape.NumElements()
	if start < 0 || end > int64(len(body)) || end-start != int64(n*elemSize) {
		return nil, errors.Wrapf(ErrCorrupt, "offsets [%d, %d] for %d x %s", start, end, n, info.DType)
	}
	raw := body[start:end]

	data := make([]float64, n)
	for i := range data {
		switch info.DType {
		case F64:
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		case F32:
			data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
		}
	}
	return tensor.New(data, shape), nil
}
