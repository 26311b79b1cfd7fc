package codec

import (
	"testing"

	"github.com/paramhub/paramhub/internal/ptype"
)

func TestSQLRoundTrip(t *testing.T) {
	values := []ptype.Value{
		ptype.BoolValue(true),
		ptype.BoolValue(false),
		ptype.Int32Value(-42),
		ptype.Uint32Value(42),
		ptype.Int64Value(-9000000000),
		ptype.Uint64Value(9000000000),
		ptype.Float32Value(3.5),
		ptype.Float64Value(2.718281828),
		ptype.StringValue("hello"),
		ptype.PathValue("/etc/paramhub/asset.bin"),
		ptype.BlobValue([]byte{0x00, 0x01, 0xff}),
		ptype.EnumValue(3),
	}

	for _, v := range values {
		t.Run(v.Kind.String(), func(t *testing.T) {
			raw, err := ToSQL(v)
			if err != nil {
				t.Fatalf("ToSQL: %v", err)
			}
			got, err := FromSQL(v.Kind, raw)
			if err != nil {
				t.Fatalf("FromSQL: %v", err)
			}
			if !got.Equal(v) {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, v)
			}
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	values := []ptype.Value{
		ptype.BoolValue(true),
		ptype.Int32Value(256),
		ptype.Uint32Value(2048),
		ptype.Float64Value(4.5),
		ptype.StringValue("ABC-123"),
		ptype.BlobValue([]byte("calibration-data")),
		ptype.EnumValue(1),
	}

	for _, v := range values {
		t.Run(v.Kind.String(), func(t *testing.T) {
			wire, err := ToJSON(v)
			if err != nil {
				t.Fatalf("ToJSON: %v", err)
			}
			got, err := FromJSON(v.Kind, wire)
			if err != nil {
				t.Fatalf("FromJSON: %v", err)
			}
			if !got.Equal(v) {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, v)
			}
		})
	}
}

func TestFromJSONAcceptsNumericString(t *testing.T) {
	got, err := FromJSON(ptype.KindInt32, "100")
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if got.I32 != 100 {
		t.Errorf("got %d, want 100", got.I32)
	}
}
