package link

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter"
)

// Message types. Host requests carry the low range, stack requests 0x10+,
// and every reply sets the high bit of the request type.
const (
	msgRegister   uint8 = 0x01
	msgDeregister uint8 = 0x02
	msgUpdate     uint8 = 0x03
	msgReport     uint8 = 0x04
	msgPing       uint8 = 0x05

	msgRead    uint8 = 0x10
	msgWrite   uint8 = 0x11
	msgCommand uint8 = 0x12

	msgReplyFlag uint8 = 0x80
)

// Reply status codes.
const (
	statusOK         uint8 = 0x00
	statusNotHandled uint8 = 0x01
	statusFailure    uint8 = 0x02
)

func msgName(t uint8) string {
	switch t &^ msgReplyFlag {
	case msgRegister:
		return "register"
	case msgDeregister:
		return "deregister"
	case msgUpdate:
		return "update"
	case msgReport:
		return "report"
	case msgPing:
		return "ping"
	case msgRead:
		return "read"
	case msgWrite:
		return "write"
	case msgCommand:
		return "command"
	}
	return fmt.Sprintf("0x%02X", t)
}

// wireRegistration is the compact CBOR form of a bridge.Registration.
type wireRegistration struct {
	_              struct{} `cbor:",toarray"`
	Endpoint       uint16
	ParentEndpoint uint16
	Name           string
	Clusters       []uint16
	Attributes     []wireAttribute
	DeviceTypes    []uint32
}

type wireAttribute struct {
	_         struct{} `cbor:",toarray"`
	Cluster   uint16
	Attribute uint16
	Type      uint8
	Size      uint16
	Access    uint8
}

var regEncMode cbor.EncMode

func init() {
	var err error
	regEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}
}

func encodeRegistration(reg bridge.Registration) ([]byte, error) {
	w := wireRegistration{
		Endpoint:       reg.Endpoint,
		ParentEndpoint: reg.ParentEndpoint,
		Name:           reg.Name,
		Clusters:       reg.Clusters,
		DeviceTypes:    reg.DeviceTypes,
	}
	for _, a := range reg.Attributes {
		w.Attributes = append(w.Attributes, wireAttribute{
			Cluster:   a.ClusterID,
			Attribute: a.AttributeID,
			Type:      uint8(a.Type),
			Size:      a.Size,
			Access:    a.Access,
		})
	}
	return regEncMode.Marshal(w)
}

func decodeRegistration(data []byte) (bridge.Registration, error) {
	var w wireRegistration
	if err := cbor.Unmarshal(data, &w); err != nil {
		return bridge.Registration{}, fmt.Errorf("decode registration: %w", err)
	}
	reg := bridge.Registration{
		Endpoint:       w.Endpoint,
		ParentEndpoint: w.ParentEndpoint,
		Name:           w.Name,
		Clusters:       w.Clusters,
		DeviceTypes:    w.DeviceTypes,
	}
	for _, a := range w.Attributes {
		reg.Attributes = append(reg.Attributes, matter.AttributeDescriptor{
			ClusterID:   a.Cluster,
			AttributeID: a.Attribute,
			Type:        matter.WireType(a.Type),
			Size:        a.Size,
			Access:      a.Access,
		})
	}
	return reg, nil
}

// attrPath addresses one attribute; it prefixes update, report, read and
// write payloads.
type attrPath struct {
	Endpoint  uint16
	Cluster   uint16
	Attribute uint16
}

const attrPathSize = 6

func (p attrPath) append(b []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, p.Endpoint)
	b = binary.LittleEndian.AppendUint16(b, p.Cluster)
	return binary.LittleEndian.AppendUint16(b, p.Attribute)
}

func parseAttrPath(b []byte) (attrPath, []byte, error) {
	if len(b) < attrPathSize {
		return attrPath{}, nil, fmt.Errorf("attribute path: %d bytes: %w", len(b), matter.ErrTruncated)
	}
	return attrPath{
		Endpoint:  binary.LittleEndian.Uint16(b[0:2]),
		Cluster:   binary.LittleEndian.Uint16(b[2:4]),
		Attribute: binary.LittleEndian.Uint16(b[4:6]),
	}, b[attrPathSize:], nil
}

// unboundedMaxLen in a read request means the stack imposes no limit.
const unboundedMaxLen = 0xFFFF

// readRequest is path(6) | maxLen(2).
func parseReadRequest(b []byte) (attrPath, int, error) {
	p, rest, err := parseAttrPath(b)
	if err != nil {
		return p, 0, err
	}
	if len(rest) < 2 {
		return p, 0, fmt.Errorf("read max length: %w", matter.ErrTruncated)
	}
	maxLen := binary.LittleEndian.Uint16(rest)
	if maxLen == unboundedMaxLen {
		return p, bridge.UnboundedRead, nil
	}
	return p, int(maxLen), nil
}

// commandRequest is endpoint(2) | cluster(2) | command(1).
func parseCommandRequest(b []byte) (uint16, uint16, uint8, error) {
	if len(b) < 5 {
		return 0, 0, 0, fmt.Errorf("command: %d bytes: %w", len(b), matter.ErrTruncated)
	}
	return binary.LittleEndian.Uint16(b[0:2]), binary.LittleEndian.Uint16(b[2:4]), b[4], nil
}
