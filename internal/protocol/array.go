package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Uint32Array is a voxel or light buffer. On the wire it is
// base64(zstd(little-endian u32...)).
type Uint32Array []uint32

var (
	arrayEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	arrayDec, _ = zstd.NewReader(nil)
)

func EncodeArray(a []uint32) string {
	raw := make([]byte, 4*len(a))
	for i, v := range a {
		binary.LittleEndian.PutUint32(raw[4*i:], v)
	}
	return base64.StdEncoding.EncodeToString(arrayEnc.EncodeAll(raw, nil))
}

func DecodeArray(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}
	comp, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	raw, err := arrayDec.DecodeAll(comp, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("array byte length %d not a multiple of 4", len(raw))
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return out, nil
}

func (a Uint32Array) MarshalJSON() ([]byte, error) {
	return json.Marshal(EncodeArray(a))
}

func (a *Uint32Array) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	out, err := DecodeArray(s)
	if err != nil {
		return err
	}
	*a = out
	return nil
}
