package normalize

import (
	"testing"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sysDescr = "1.3.6.1.2.1.1.1.0"

func TestFromPDU(t *testing.T) {
	t.Run("octet_string", func(t *testing.T) {
		item := FromPDU(gosnmp.SnmpPDU{Name: "." + sysDescr, Type: gosnmp.OctetString, Value: []byte("router")})
		assert.Equal(t, sysDescr, item.OID)
		assert.Equal(t, "OctetString", item.Type)
		assert.Equal(t, KindBytes, item.Kind)
	})

	t.Run("no_such_object", func(t *testing.T) {
		item := FromPDU(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.99.0", Type: gosnmp.NoSuchObject})
		assert.Equal(t, KindItemError, item.Kind)
		assert.Equal(t, "NoSuchObject: 1.3.6.1.2.1.99.0", item.Err)
	})

	t.Run("null", func(t *testing.T) {
		item := FromPDU(gosnmp.SnmpPDU{Name: sysDescr, Type: gosnmp.Null})
		assert.Equal(t, KindAbsent, item.Kind)
	})

	t.Run("object_identifier_value", func(t *testing.T) {
		item := FromPDU(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.1.2.0", Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.4.1.8072"})
		assert.Equal(t, KindText, item.Kind)
		assert.Equal(t, "1.3.6.1.4.1.8072", item.Value)
	})

	t.Run("counter", func(t *testing.T) {
		item := FromPDU(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.2.2.1.10.1", Type: gosnmp.Counter32, Value: uint(42)})
		assert.Equal(t, KindText, item.Kind)
		assert.Equal(t, "42", Normalize(item).String())
	})
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		item      Item
		wantValue string
		wantError string
	}{
		{"item_error", NewItemError(sysDescr, "NoSuchInstance: "+sysDescr), "", "NoSuchInstance: " + sysDescr},
		{"bytes", NewItem(sysDescr, "OctetString", []byte("Linux box")), "Linux box", ""},
		{"invalid_utf8", NewItem(sysDescr, "OctetString", []byte{0x66, 0xff}), "f\uFFFD", ""},
		{"absent", NewItem(sysDescr, "Null", nil), NullValue, ""},
		{"integer", NewItem(sysDescr, "Integer", 7), "7", ""},
		{"string", NewItem(sysDescr, "IpAddress", "10.0.0.1"), "10.0.0.1", ""},
		{"structured", NewItem(sysDescr, "", map[string]int{"a": 1}), `{"a":1}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Normalize(tt.item)
			assert.Equal(t, sysDescr, result.OID)
			if tt.wantError != "" {
				assert.True(t, result.HasError())
				assert.Equal(t, tt.wantError, result.Error)
				assert.Nil(t, result.Value)
				return
			}
			require.NotNil(t, result.Value)
			assert.Equal(t, tt.wantValue, *result.Value)
			assert.False(t, result.HasError())
		})
	}
}

func TestNormalizeAllPreservesOrder(t *testing.T) {
	items := []Item{
		NewItem("1.1", "Integer", 1),
		NewItemError("1.2", "NoSuchObject: 1.2"),
		NewItem("1.3", "Integer", 3),
	}
	results := NormalizeAll(items)
	require.Len(t, results, 3)
	assert.Equal(t, "1.1", results[0].OID)
	assert.Equal(t, "1.2", results[1].OID)
	assert.Equal(t, "1.3", results[2].OID)
}

func TestNormalizeBulk(t *testing.T) {
	x := NewItem(sysDescr, "OctetString", []byte("x"))

	t.Run("unwrap_once_idempotence", func(t *testing.T) {
		double := NormalizeBulk([][]Item{{x}})
		single := NormalizeBulk([]Item{x})
		assert.Equal(t, single, double)
		assert.False(t, single.NoData)
		require.Len(t, single.Results, 1)
		assert.Equal(t, "x", single.Results[0].String())
	})

	t.Run("untyped_nesting", func(t *testing.T) {
		double := NormalizeBulk([]any{[]any{x}})
		single := NormalizeBulk([]any{x})
		assert.Equal(t, single, double)
	})

	t.Run("only_one_level", func(t *testing.T) {
		triple := NormalizeBulk([]any{[]any{[]any{x}}})
		assert.True(t, triple.NoData)
	})

	t.Run("empty", func(t *testing.T) {
		bulk := NormalizeBulk([]Item{})
		assert.True(t, bulk.NoData)
		assert.NotNil(t, bulk.Results)
		assert.Empty(t, bulk.Results)
	})

	t.Run("nil", func(t *testing.T) {
		bulk := NormalizeBulk(nil)
		assert.True(t, bulk.NoData)
		assert.NotNil(t, bulk.Results)
		assert.Empty(t, bulk.Results)
	})

	t.Run("nested_empty", func(t *testing.T) {
		assert.True(t, NormalizeBulk([][]Item{{}}).NoData)
	})
}

type unmarshalable struct {
	Ch chan int
}

func TestFormatTrapValue(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want string
	}{
		{"octet_string", FromPDU(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.2.2.1.2.1", Type: gosnmp.OctetString, Value: []byte("eth0")}), "eth0"},
		{"opaque_bytes", FromPDU(gosnmp.SnmpPDU{Name: ".1.3.6.1.4.1.1.1", Type: gosnmp.Opaque, Value: []byte{0xde, 0xad}}), "dead"},
		{"structured", NewItem("1.3.6.1.4.1.1.2", "", []uint32{1, 2}), "[1,2]"},
		{"structured_failure", NewItem("1.3.6.1.4.1.1.3", "", unmarshalable{Ch: make(chan int)}), ComplexValue},
		{"absent", FromPDU(gosnmp.SnmpPDU{Name: ".1.3.6.1.4.1.1.4", Type: gosnmp.Null}), UndefinedValue},
		{"time_ticks", FromPDU(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(12345)}), "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatTrapValue(tt.item)
			require.NotNil(t, result.Value)
			assert.Equal(t, tt.want, *result.Value)
		})
	}

	t.Run("item_error", func(t *testing.T) {
		result := FormatTrapValue(NewItemError("1.3.6.1.4.1.1.5", "EndOfMibView: 1.3.6.1.4.1.1.5"))
		assert.Nil(t, result.Value)
		assert.Equal(t, "EndOfMibView: 1.3.6.1.4.1.1.5", result.Error)
	})
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "Counter64", TypeName(gosnmp.Counter64))
	assert.Equal(t, "IpAddress", TypeName(gosnmp.IPAddress))
	assert.Equal(t, "Unknown(0xFF)", TypeName(gosnmp.Asn1BER(0xff)))
}
