package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello")
	if err := WriteFrame(&buf, OperationReq, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	typ, got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if typ != OperationReq {
		t.Errorf("type = %v, want %v", typ, OperationReq)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, MServerCtrlReq, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	typ, got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if typ != MServerCtrlReq {
		t.Errorf("type = %v, want %v", typ, MServerCtrlReq)
	}
	if len(got) != 0 {
		t.Errorf("payload = %v, want empty", got)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, OperationReq, []byte("abcdef")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:HeaderSize+2])
	_, _, err := ReadFrame(truncated)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestWriteFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	big := make([]byte, MaxMsgLen)
	if err := WriteFrame(&buf, OperationReq, big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestEncodeDecodeOperationReq(t *testing.T) {
	key, err := EncodeKey([]byte("short-key"))
	if err != nil {
		t.Fatalf("EncodeKey: %v", err)
	}
	want := OperationReqPayload{Op: OpPut, Key: key, Value: []byte("value")}
	got, err := DecodeOperationReq(EncodeOperationReq(want))
	if err != nil {
		t.Fatalf("DecodeOperationReq: %v", err)
	}
	if got.Op != want.Op || got.Key != want.Key || !bytes.Equal(got.Value, want.Value) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestEncodeDecodeLocateResp(t *testing.T) {
	want := LocateRespPayload{Host: "10.0.0.1", Port: 9090, Found: true}
	got, err := DecodeLocateResp(EncodeLocateResp(want))
	if err != nil {
		t.Fatalf("DecodeLocateResp: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	dropped, err := DecodeLocateResp(EncodeLocateResp(LocateRespPayload{Found: false}))
	if err != nil {
		t.Fatalf("DecodeLocateResp(dropped): %v", err)
	}
	if dropped.Found {
		t.Errorf("expected Found=false for dropped locate response")
	}
}

func TestEncodeKeyTooLong(t *testing.T) {
	_, err := EncodeKey(make([]byte, KeySize+1))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}
