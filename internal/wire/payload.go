package wire

import (
	"encoding/binary"
	"fmt"
)

// Key is a fixed-width opaque key. EncodeKey builds one from a shorter
// byte slice by zero-padding it on the right.
type Key [KeySize]byte

// EncodeKey copies b into a Key, zero-padding on the right. It returns
// an error if b is longer than KeySize.
func EncodeKey(b []byte) (Key, error) {
	var k Key
	if len(b) > KeySize {
		return k, fmt.Errorf("%w: key length %d exceeds KeySize %d", ErrMalformedFrame, len(b), KeySize)
	}
	copy(k[:], b)
	return k, nil
}

// LocateReqPayload is the payload of a LOCATE_REQ message.
type LocateReqPayload struct {
	Key Key
}

func EncodeLocateReq(p LocateReqPayload) []byte {
	return append([]byte(nil), p.Key[:]...)
}

func DecodeLocateReq(b []byte) (LocateReqPayload, error) {
	if len(b) != KeySize {
		return LocateReqPayload{}, fmt.Errorf("%w: LOCATE_REQ payload length %d", ErrMalformedFrame, len(b))
	}
	var p LocateReqPayload
	copy(p.Key[:], b)
	return p, nil
}

// LocateRespPayload is the payload of a LOCATE_RESP message: a port
// followed by a NUL-terminated host string. Found is false when the
// coordinator dropped the request (key's primary is quiescing); such a
// reply carries only a zero port and no host.
type LocateRespPayload struct {
	Host  string
	Port  uint16
	Found bool
}

func EncodeLocateResp(p LocateRespPayload) []byte {
	if !p.Found {
		return []byte{0, 0}
	}
	buf := make([]byte, 2, 2+len(p.Host)+1)
	binary.BigEndian.PutUint16(buf, p.Port)
	buf = append(buf, []byte(p.Host)...)
	buf = append(buf, 0)
	return buf
}

func DecodeLocateResp(b []byte) (LocateRespPayload, error) {
	if len(b) < 2 {
		return LocateRespPayload{}, fmt.Errorf("%w: LOCATE_RESP payload too short", ErrMalformedFrame)
	}
	port := binary.BigEndian.Uint16(b[:2])
	rest := b[2:]
	if len(rest) == 0 {
		return LocateRespPayload{Found: false}, nil
	}
	if rest[len(rest)-1] != 0 {
		return LocateRespPayload{}, fmt.Errorf("%w: LOCATE_RESP host not NUL-terminated", ErrMalformedFrame)
	}
	return LocateRespPayload{Host: string(rest[:len(rest)-1]), Port: port, Found: true}, nil
}

// OperationReqPayload is the payload of an OPERATION_REQ message.
type OperationReqPayload struct {
	Value []byte
	Key   Key
	Op    Op
}

func EncodeOperationReq(p OperationReqPayload) []byte {
	buf := make([]byte, 1+KeySize, 1+KeySize+len(p.Value))
	buf[0] = byte(p.Op)
	copy(buf[1:], p.Key[:])
	buf = append(buf, p.Value...)
	return buf
}

func DecodeOperationReq(b []byte) (OperationReqPayload, error) {
	if len(b) < 1+KeySize {
		return OperationReqPayload{}, fmt.Errorf("%w: OPERATION_REQ payload too short", ErrMalformedFrame)
	}
	var p OperationReqPayload
	p.Op = Op(b[0])
	copy(p.Key[:], b[1:1+KeySize])
	if len(b) > 1+KeySize {
		p.Value = append([]byte(nil), b[1+KeySize:]...)
	}
	return p, nil
}

// OperationRespPayload is the payload of an OPERATION_RESP message.
type OperationRespPayload struct {
	Value  []byte
	Status Status
}

func EncodeOperationResp(p OperationRespPayload) []byte {
	buf := make([]byte, 1, 1+len(p.Value))
	buf[0] = byte(p.Status)
	buf = append(buf, p.Value...)
	return buf
}

func DecodeOperationResp(b []byte) (OperationRespPayload, error) {
	if len(b) < 1 {
		return OperationRespPayload{}, fmt.Errorf("%w: OPERATION_RESP payload empty", ErrMalformedFrame)
	}
	p := OperationRespPayload{Status: Status(b[0])}
	if len(b) > 1 {
		p.Value = append([]byte(nil), b[1:]...)
	}
	return p, nil
}

// ServerCtrlReqPayload is the payload of a SERVER_CTRL_REQ message.
// Port/Host are only meaningful for kinds that carry a locator
// (SET_SECONDARY, UPDATE_PRIMARY, UPDATE_SECONDARY).
type ServerCtrlReqPayload struct {
	Host string
	Kind CtrlKind
	Port uint16
}

func EncodeServerCtrlReq(p ServerCtrlReqPayload) []byte {
	buf := make([]byte, 3, 3+len(p.Host)+1)
	buf[0] = byte(p.Kind)
	binary.BigEndian.PutUint16(buf[1:], p.Port)
	buf = append(buf, []byte(p.Host)...)
	buf = append(buf, 0)
	return buf
}

func DecodeServerCtrlReq(b []byte) (ServerCtrlReqPayload, error) {
	if len(b) < 3 {
		return ServerCtrlReqPayload{}, fmt.Errorf("%w: SERVER_CTRL_REQ payload too short", ErrMalformedFrame)
	}
	p := ServerCtrlReqPayload{Kind: CtrlKind(b[0]), Port: binary.BigEndian.Uint16(b[1:3])}
	rest := b[3:]
	if len(rest) > 0 {
		if rest[len(rest)-1] != 0 {
			return ServerCtrlReqPayload{}, fmt.Errorf("%w: SERVER_CTRL_REQ host not NUL-terminated", ErrMalformedFrame)
		}
		p.Host = string(rest[:len(rest)-1])
	}
	return p, nil
}

// ServerCtrlRespPayload is the payload of a SERVER_CTRL_RESP message.
type ServerCtrlRespPayload struct {
	Status Status
}

func EncodeServerCtrlResp(p ServerCtrlRespPayload) []byte {
	return []byte{byte(p.Status)}
}

func DecodeServerCtrlResp(b []byte) (ServerCtrlRespPayload, error) {
	if len(b) < 1 {
		return ServerCtrlRespPayload{}, fmt.Errorf("%w: SERVER_CTRL_RESP payload empty", ErrMalformedFrame)
	}
	return ServerCtrlRespPayload{Status: Status(b[0])}, nil
}

// MServerCtrlReqPayload is the payload of a MSERVER_CTRL_REQ message
// (node reporting to the coordinator).
type MServerCtrlReqPayload struct {
	Kind     MCtrlKind
	ServerID uint16
}

func EncodeMServerCtrlReq(p MServerCtrlReqPayload) []byte {
	buf := make([]byte, 3)
	buf[0] = byte(p.Kind)
	binary.BigEndian.PutUint16(buf[1:], p.ServerID)
	return buf
}

func DecodeMServerCtrlReq(b []byte) (MServerCtrlReqPayload, error) {
	if len(b) < 3 {
		return MServerCtrlReqPayload{}, fmt.Errorf("%w: MSERVER_CTRL_REQ payload too short", ErrMalformedFrame)
	}
	return MServerCtrlReqPayload{Kind: MCtrlKind(b[0]), ServerID: binary.BigEndian.Uint16(b[1:3])}, nil
}
