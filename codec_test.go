package xsvc

import "testing"

type samplePayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := JSONCodec{}
	in := samplePayload{Name: "disk-monitor", Count: 7}

	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	msg := NewMessage(KindData, PriorityNormal, "producer", b)
	out, err := DecodeJSON[samplePayload](msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestCodecRegistry(t *testing.T) {
	if _, err := NewCodec("json"); err != nil {
		t.Fatalf("json codec missing: %v", err)
	}
	if _, err := NewCodec("protobuf"); err == nil {
		t.Fatal("unregistered codec resolved")
	}
	if err := RegisterCodec("", func() Codec { return JSONCodec{} }); err == nil {
		t.Fatal("empty codec name accepted")
	}
	if err := RegisterCodec("custom", nil); err == nil {
		t.Fatal("nil factory accepted")
	}

	if err := RegisterCodec("custom", func() Codec { return JSONCodec{} }); err != nil {
		t.Fatalf("register custom: %v", err)
	}
	c, err := NewCodec("custom")
	if err != nil {
		t.Fatalf("resolve custom: %v", err)
	}
	if c.Name() != "json" {
		t.Fatalf("custom codec name = %q", c.Name())
	}
}
