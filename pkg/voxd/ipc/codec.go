package ipc

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Body encodings a client can negotiate in its hello. Both carry the
// identical message set; cbor is the compact default, json exists so
// shell tooling can speak the protocol without a CBOR stack.
const (
	EncodingCBOR = "cbor"
	EncodingJSON = "json"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding: sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical payload always produces
// identical bytes, which keeps golden tests stable.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored for forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// The device enum types (Channel, Fader, ...) implement
	// encoding.TextMarshaler; without this they would serialize as bare
	// integers and snapshot map keys would not survive the trip.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("ipc: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("ipc: CBOR decoder initialization failed: " + err.Error())
	}
}

// marshal encodes v to deterministic CBOR.
func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// unmarshal decodes CBOR data into v.
func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// bodyCodec is one negotiated message-body encoding.
type bodyCodec struct {
	name      string
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

var (
	codecCBOR = &bodyCodec{name: EncodingCBOR, marshal: marshal, unmarshal: unmarshal}
	codecJSON = &bodyCodec{name: EncodingJSON, marshal: json.Marshal, unmarshal: json.Unmarshal}
)

// codecForEncoding resolves a hello's encoding name. An empty name means
// the client predates negotiation and gets the compact default.
func codecForEncoding(name string) (*bodyCodec, error) {
	switch name {
	case "", EncodingCBOR:
		return codecCBOR, nil
	case EncodingJSON:
		return codecJSON, nil
	}
	return nil, fmt.Errorf("unknown encoding %q", name)
}
