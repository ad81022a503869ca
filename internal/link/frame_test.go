package link

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter"
)

func TestCRC16Kermit(t *testing.T) {
	if got := crc16([]byte("123456789")); got != 0x2189 {
		t.Errorf("crc16: got 0x%04X, want 0x2189", got)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		f    frame
	}{
		{"empty payload", frame{Type: msgPing, Seq: 1}},
		{"payload", frame{Type: msgUpdate, Seq: 200, Payload: []byte{0x02, 0x00, 0x06, 0x00, 0x00, 0x00, 0x01}}},
		{"signature in payload", frame{Type: msgWrite, Seq: 7, Payload: []byte{frameSig0, frameSig1, frameSig0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := encodeFrame(tt.f)
			if err != nil {
				t.Fatal(err)
			}
			got, err := readFrame(bufio.NewReader(bytes.NewReader(data)))
			if err != nil {
				t.Fatalf("readFrame: %v", err)
			}
			if got.Type != tt.f.Type || got.Seq != tt.f.Seq || !bytes.Equal(got.Payload, tt.f.Payload) {
				t.Errorf("got %+v, want %+v", got, tt.f)
			}
		})
	}
}

func TestReadFrameSkipsGarbage(t *testing.T) {
	data, _ := encodeFrame(frame{Type: msgPing, Seq: 9})
	stream := append([]byte{0x00, frameSig0, 0x13, 0xFF}, data...)
	got, err := readFrame(bufio.NewReader(bytes.NewReader(stream)))
	if err != nil {
		t.Fatal(err)
	}
	if got.Seq != 9 {
		t.Errorf("seq: got %d, want 9", got.Seq)
	}
}

func TestReadFrameCRCErrors(t *testing.T) {
	data, _ := encodeFrame(frame{Type: msgRead, Seq: 3, Payload: []byte{1, 2, 3}})

	badHeader := append([]byte(nil), data...)
	badHeader[4] ^= 0xFF
	if _, err := readFrame(bufio.NewReader(bytes.NewReader(badHeader))); !errors.Is(err, ErrFrameCRC) {
		t.Errorf("header: got %v, want ErrFrameCRC", err)
	}

	badBody := append([]byte(nil), data...)
	badBody[len(badBody)-1] ^= 0xFF
	if _, err := readFrame(bufio.NewReader(bytes.NewReader(badBody))); !errors.Is(err, ErrFrameCRC) {
		t.Errorf("body: got %v, want ErrFrameCRC", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	data, _ := encodeFrame(frame{Type: msgRead, Seq: 3, Payload: []byte{1, 2, 3}})
	_, err := readFrame(bufio.NewReader(bytes.NewReader(data[:len(data)-2])))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestEncodeFrameTooLarge(t *testing.T) {
	_, err := encodeFrame(frame{Type: msgUpdate, Payload: make([]byte, maxPayloadSize+1)})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestRegistrationCodec(t *testing.T) {
	d, err := bridge.Build(bridge.ArchetypeComposedTemperature, "Porch Temp", 11, 10)
	if err != nil {
		t.Fatal(err)
	}
	reg := d.Registration()
	data, err := encodeRegistration(reg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeRegistration(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Endpoint != 11 || got.ParentEndpoint != 10 || got.Name != "Porch Temp" {
		t.Errorf("header: got %d/%d/%q", got.Endpoint, got.ParentEndpoint, got.Name)
	}
	if len(got.Attributes) != len(reg.Attributes) {
		t.Fatalf("attributes: got %d, want %d", len(got.Attributes), len(reg.Attributes))
	}
	for i := range reg.Attributes {
		if got.Attributes[i] != reg.Attributes[i] {
			t.Errorf("attribute %d: got %+v, want %+v", i, got.Attributes[i], reg.Attributes[i])
		}
	}
	if len(got.DeviceTypes) != 1 || got.DeviceTypes[0] != matter.DeviceTypeTempSensor {
		t.Errorf("device types: got %v", got.DeviceTypes)
	}
}

func TestParseRequests(t *testing.T) {
	req := attrPath{4, 0x0402, 0x0001}.append(nil)
	req = append(req, 0x10, 0x00)
	p, maxLen, err := parseReadRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	if p.Endpoint != 4 || p.Cluster != 0x0402 || p.Attribute != 0x0001 || maxLen != 16 {
		t.Errorf("read: got %+v max %d", p, maxLen)
	}

	unbounded := append(attrPath{4, 0x0402, 0x0001}.append(nil), 0xFF, 0xFF)
	if _, maxLen, _ := parseReadRequest(unbounded); maxLen != bridge.UnboundedRead {
		t.Errorf("unbounded: got %d", maxLen)
	}

	if _, _, err := parseReadRequest(req[:7]); !errors.Is(err, matter.ErrTruncated) {
		t.Errorf("short read: got %v", err)
	}

	ep, cluster, cmd, err := parseCommandRequest([]byte{0x02, 0x00, 0x06, 0x00, 0x02})
	if err != nil || ep != 2 || cluster != 0x0006 || cmd != 2 {
		t.Errorf("command: got %d 0x%04X %d %v", ep, cluster, cmd, err)
	}
	if _, _, _, err := parseCommandRequest([]byte{0x02}); !errors.Is(err, matter.ErrTruncated) {
		t.Errorf("short command: got %v", err)
	}
}
