// internal/codec/codec_test.go
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tamzrod/plc-db-sync/internal/layout"
)

// helper to build the tank demo map quickly
func tankMap() *layout.Map {
	b := layout.NewBuilder()
	b.Add(layout.Field{Name: "Power", Type: layout.Bool, Offset: 0, Bit: 0})
	b.Add(layout.Field{Name: "Pump_On", Type: layout.Bool, Offset: 0, Bit: 1})
	b.Add(layout.Field{Name: "Alarm", Type: layout.Bool, Offset: 0, Bit: 7})
	b.Add(layout.Field{Name: "Valve", Type: layout.Byte, Offset: 1})
	b.Add(layout.Field{Name: "Level", Type: layout.Int, Offset: 2})
	b.Add(layout.Field{Name: "Status", Type: layout.Word, Offset: 4})
	b.Add(layout.Field{Name: "Flow", Type: layout.Real, Offset: 6})
	b.Add(layout.Field{Name: "Counter", Type: layout.DInt, Offset: 10})
	b.Add(layout.Field{Name: "Raw", Type: layout.DWord, Offset: 14})
	b.Add(layout.Field{Name: "Runtime", Type: layout.Time, Offset: 18})
	return b.Build()
}

// ---- decode ----

func TestDecode_BigEndian(t *testing.T) {
	m := tankMap()
	frame := make([]byte, m.Length)
	frame[0] = 0b1000_0010 // Pump_On, Alarm
	frame[1] = 25
	frame[2], frame[3] = 0xFF, 0x38 // -200
	frame[4], frame[5] = 0x12, 0x34
	frame[6], frame[7], frame[8], frame[9] = 0x41, 0x48, 0x00, 0x00 // 12.5
	frame[10], frame[11], frame[12], frame[13] = 0x00, 0x01, 0x00, 0x00
	frame[14], frame[15], frame[16], frame[17] = 0xDE, 0xAD, 0xBE, 0xEF
	frame[18], frame[19], frame[20], frame[21] = 0xFF, 0xFF, 0xFF, 0xFF

	s := Decode(frame, m)

	check := func(name string, want any) {
		t.Helper()
		v, ok := s.Get(name)
		if !ok {
			t.Fatalf("%s missing", name)
		}
		if v.Interface() != want {
			t.Fatalf("%s: got=%v (%T) want=%v (%T)", name, v.Interface(), v.Interface(), want, want)
		}
	}

	check("Power", false)
	check("Pump_On", true)
	check("Alarm", true)
	check("Valve", uint8(25))
	check("Level", int16(-200))
	check("Status", uint16(0x1234))
	check("Flow", 12.5)
	check("Counter", int32(65536))
	check("Raw", uint32(0xDEADBEEF))
	check("Runtime", int32(-1))
}

func TestDecode_RealRoundedToFourDecimals(t *testing.T) {
	b := layout.NewBuilder()
	b.Add(layout.Field{Name: "r", Type: layout.Real, Offset: 0})
	m := b.Build()

	frame, err := Apply(make([]byte, 4), m, Changes{"r": 0.1})
	if err != nil {
		t.Fatalf("Apply err=%v", err)
	}
	v, _ := Decode(frame, m).Get("r")
	if v.F != 0.1 {
		t.Fatalf("float32 noise not rounded: %v", v.F)
	}
}

func TestDecode_ShortFrameMarksUnavailable(t *testing.T) {
	m := tankMap()
	s := Decode(make([]byte, 8), m)

	if v, _ := s.Get("Flow"); !v.Unavailable {
		t.Fatalf("Flow (6..9) must be unavailable in an 8 byte frame")
	}
	if v, _ := s.Get("Status"); v.Unavailable {
		t.Fatalf("Status (4..5) must decode")
	}
	if v, _ := s.Get("Counter"); v.Interface() != nil {
		t.Fatalf("unavailable must surface as nil")
	}
}

// ---- encode ----

func TestApply_RoundTripAllTypes(t *testing.T) {
	m := tankMap()

	cases := []struct {
		name string
		in   any
		want any
	}{
		{"Power", true, true},
		{"Valve", 200, uint8(200)},
		{"Level", -32768, int16(-32768)},
		{"Level", 32767, int16(32767)},
		{"Status", 65535, uint16(65535)},
		{"Flow", -3.25, -3.25},
		{"Flow", 1234.5678, 1234.5677}, // float32 precision, then 4 decimals
		{"Counter", int64(-2147483648), int32(-2147483648)},
		{"Raw", uint32(4000000000), uint32(4000000000)},
		{"Runtime", 86400000, int32(86400000)},
	}

	for _, c := range cases {
		frame, err := Apply(make([]byte, m.Length), m, Changes{c.name: c.in})
		if err != nil {
			t.Fatalf("%s=%v: Apply err=%v", c.name, c.in, err)
		}
		v, _ := Decode(frame, m).Get(c.name)
		if v.Interface() != c.want {
			t.Fatalf("%s: got=%v want=%v", c.name, v.Interface(), c.want)
		}
	}
}

func TestApply_BoolLeavesSiblingBits(t *testing.T) {
	m := tankMap()
	frame := make([]byte, m.Length)
	frame[0] = 0b1000_0001 // Power, Alarm

	out, err := Apply(frame, m, Changes{"Pump_On": true})
	if err != nil {
		t.Fatalf("Apply err=%v", err)
	}
	if out[0] != 0b1000_0011 {
		t.Fatalf("byte 0: got=%08b want=10000011", out[0])
	}

	out, err = Apply(out, m, Changes{"Power": false})
	if err != nil {
		t.Fatalf("Apply err=%v", err)
	}
	s := Decode(out, m)
	for name, want := range map[string]bool{"Power": false, "Pump_On": true, "Alarm": true} {
		if v, _ := s.Get(name); v.B != want {
			t.Fatalf("%s: got=%v want=%v", name, v.B, want)
		}
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	m := tankMap()
	frame := make([]byte, m.Length)

	out, err := Apply(frame, m, Changes{"Level": 7})
	if err != nil {
		t.Fatalf("Apply err=%v", err)
	}
	if !bytes.Equal(frame, make([]byte, m.Length)) {
		t.Fatalf("input frame was mutated")
	}
	if out[3] != 7 {
		t.Fatalf("patched copy missing value")
	}
}

func TestApply_UnknownNamesIgnored(t *testing.T) {
	m := tankMap()
	frame := make([]byte, m.Length)

	out, err := Apply(frame, m, Changes{"NoSuchField": 1})
	if err != nil {
		t.Fatalf("unknown names must be ignored, got %v", err)
	}
	if !bytes.Equal(out, frame) {
		t.Fatalf("frame changed for unknown name")
	}
}

func TestApply_OutOfRangeAbortsEverything(t *testing.T) {
	m := tankMap()
	frame := make([]byte, m.Length)

	out, err := Apply(frame, m, Changes{"Valve": 7, "Level": 40000})
	var ee *EncodeError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EncodeError, got %v", err)
	}
	if ee.Field != "Level" {
		t.Fatalf("error field: got=%s want=Level", ee.Field)
	}
	if out != nil {
		t.Fatalf("no frame may be returned on error")
	}
	if frame[1] != 0 {
		t.Fatalf("input frame mutated on error")
	}
}

func TestApply_RejectsFractionalInteger(t *testing.T) {
	m := tankMap()
	if _, err := Apply(make([]byte, m.Length), m, Changes{"Level": 1.5}); err == nil {
		t.Fatalf("expected error for 1.5 into Int")
	}
}

func TestApply_JSONNumbers(t *testing.T) {
	m := tankMap()

	changes, err := DecodeChanges([]byte(`{"Pump_On":true,"Valve":25,"Flow":12.5,"Raw":4294967295}`))
	if err != nil {
		t.Fatalf("DecodeChanges err=%v", err)
	}
	frame, err := Apply(make([]byte, m.Length), m, changes)
	if err != nil {
		t.Fatalf("Apply err=%v", err)
	}
	s := Decode(frame, m)
	if v, _ := s.Get("Raw"); v.U != 4294967295 {
		t.Fatalf("Raw: got=%d", v.U)
	}
	if v, _ := s.Get("Flow"); v.F != 12.5 {
		t.Fatalf("Flow: got=%v", v.F)
	}
}

// ---- snapshot ----

func TestSnapshot_JSONCompactInMapOrder(t *testing.T) {
	b := layout.NewBuilder()
	b.Add(layout.Field{Name: "z", Type: layout.Bool, Offset: 0})
	b.Add(layout.Field{Name: "a", Type: layout.Int, Offset: 2})
	b.Add(layout.Field{Name: "r", Type: layout.Real, Offset: 4})
	b.Add(layout.Field{Name: "far", Type: layout.Int, Offset: 100})
	m := b.Build()

	frame, err := Apply(make([]byte, 8), m, Changes{"z": true, "a": -5, "r": 3})
	if err != nil {
		t.Fatalf("Apply err=%v", err)
	}

	got, err := json.Marshal(Decode(frame, m))
	if err != nil {
		t.Fatalf("marshal err=%v", err)
	}
	want := `{"z":true,"a":-5,"r":3.0,"far":null}`
	if string(got) != want {
		t.Fatalf("got=%s want=%s", got, want)
	}
}

func TestSnapshot_Equal(t *testing.T) {
	m := tankMap()
	a := Decode(make([]byte, m.Length), m)
	b := Decode(make([]byte, m.Length), m)
	if !a.Equal(b) {
		t.Fatalf("identical frames must decode equal")
	}

	frame, _ := Apply(make([]byte, m.Length), m, Changes{"Alarm": true})
	if a.Equal(Decode(frame, m)) {
		t.Fatalf("changed bit must not compare equal")
	}
}

func TestParseSnapshot_OrderAndPadding(t *testing.T) {
	payload := append([]byte(`{"b":1,"a":true,"c":null}`), 0, 0, 0, 0)

	p, err := ParseSnapshot(payload)
	if err != nil {
		t.Fatalf("ParseSnapshot err=%v", err)
	}
	if len(p) != 3 || p[0].Name != "b" || p[2].Name != "c" {
		t.Fatalf("order not preserved: %+v", p)
	}
	if v, _ := p.Get("a"); v != true {
		t.Fatalf("a: got=%v", v)
	}
	if v, _ := p.Get("b"); v != json.Number("1") {
		t.Fatalf("b: got=%v", v)
	}
	sub := p.Pick("a", "missing")
	if len(sub) != 1 {
		t.Fatalf("Pick: got=%v", sub)
	}
}

func TestParseSnapshot_TornPayload(t *testing.T) {
	if _, err := ParseSnapshot([]byte(`{"a":1,"b":`)); err == nil {
		t.Fatalf("expected error for torn payload")
	}
}
