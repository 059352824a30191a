// Package codec defines the Codec contract the dispatcher's host uses to
// turn wire bytes into wire.Frame values and back, plus the
// encoding/json implementation the broker uses by default.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/dsabroker/broker/internal/wire"
)

// Codec decodes one wire message into a Frame and encodes a Frame back
// into wire bytes. Implementations must tolerate either requests,
// responses, or both being absent.
type Codec interface {
	Decode(raw []byte) (*wire.Frame, error)
	Encode(f *wire.Frame) ([]byte, error)
}

// JSON is the default Codec, matching the broker's plain JSON batch-frame
// protocol.
type JSON struct{}

func (JSON) Decode(raw []byte) (*wire.Frame, error) {
	var f wire.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("codec: decoding frame: %w", err)
	}
	return &f, nil
}

func (JSON) Encode(f *wire.Frame) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding frame: %w", err)
	}
	return raw, nil
}
