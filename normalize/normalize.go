// Package normalize converts raw SNMP variable bindings into uniform result records.
//
// Protocol clients hand back values in several shapes: typed scalars, binary
// octet strings, absent values, per-item error markers and, for bulk requests,
// sometimes an extra level of nesting. This package is the single place where
// those shapes are downgraded to display strings.
//
// Basic Usage:
//
//	item := normalize.FromPDU(pdu)
//	result := normalize.Normalize(item)
//
//	bulk := normalize.NormalizeBulk(items)
//	if bulk.NoData {
//		// valid empty response, not an error
//	}
package normalize

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/gosnmp/gosnmp"
)

// Kind tags the shape of a raw value at the protocol boundary.
type Kind int

const (
	// KindText is a scalar rendered with its canonical string form.
	KindText Kind = iota
	// KindBytes is a binary payload.
	KindBytes
	// KindStructured is a non-scalar value (slice, map, struct).
	KindStructured
	// KindAbsent is a null or missing value.
	KindAbsent
	// KindItemError marks a per-item protocol failure (noSuchObject and friends).
	KindItemError
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindStructured:
		return "structured"
	case KindAbsent:
		return "absent"
	case KindItemError:
		return "item_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Placeholders used when a value cannot be shown as-is.
const (
	NullValue      = "null"
	UndefinedValue = "undefined"
	ComplexValue   = "[Complex Object]"
)

// Item is a raw variable binding as delivered by the protocol collaborator.
type Item struct {
	OID   string
	Type  string
	Kind  Kind
	Value any

	// Err describes the item-level failure when Kind is KindItemError.
	Err string

	// octet is true when the binding was tagged as an OctetString.
	octet bool
}

// Result is the normalized form of a variable binding.
//
// Exactly one of Value or Error is meaningful. Error carries a per-item
// protocol failure, never a transport failure.
type Result struct {
	OID   string  `json:"oid"`
	Type  string  `json:"type,omitempty"`
	Value *string `json:"value,omitempty"`
	Error string  `json:"error,omitempty"`
}

// HasError reports whether the result carries an item-level error.
func (r Result) HasError() bool {
	return r.Error != ""
}

// String returns the value, or the empty string when there is none.
func (r Result) String() string {
	if r.Value == nil {
		return ""
	}
	return *r.Value
}

// Bulk is the outcome of normalizing a bulk response.
type Bulk struct {
	Results []Result
	// NoData is set when the response was empty or absent.
	NoData bool
}

// FromPDU builds an Item from a gosnmp variable binding.
func FromPDU(pdu gosnmp.SnmpPDU) Item {
	oid := TrimOID(pdu.Name)
	item := Item{
		OID:   oid,
		Type:  TypeName(pdu.Type),
		Value: pdu.Value,
		octet: pdu.Type == gosnmp.OctetString,
	}

	switch {
	case IsItemError(pdu.Type):
		item.Kind = KindItemError
		item.Err = fmt.Sprintf("%s: %s", item.Type, oid)
		item.Value = nil
	case pdu.Type == gosnmp.Null || pdu.Value == nil:
		item.Kind = KindAbsent
	case pdu.Type == gosnmp.ObjectIdentifier:
		item.Kind = KindText
		if s, ok := pdu.Value.(string); ok {
			item.Value = TrimOID(s)
		}
	default:
		item.Kind = kindOf(pdu.Value)
	}

	return item
}

// FromPDUs converts a slice of variable bindings preserving order.
func FromPDUs(pdus []gosnmp.SnmpPDU) []Item {
	items := make([]Item, 0, len(pdus))
	for _, pdu := range pdus {
		items = append(items, FromPDU(pdu))
	}
	return items
}

// NewItem builds an Item from an arbitrary Go value, classifying it by shape.
func NewItem(oid, typ string, value any) Item {
	item := Item{OID: TrimOID(oid), Type: typ, Value: value, octet: typ == "OctetString"}
	if value == nil {
		item.Kind = KindAbsent
		return item
	}
	item.Kind = kindOf(value)
	return item
}

// NewItemError builds an item-level error marker.
func NewItemError(oid, description string) Item {
	return Item{OID: TrimOID(oid), Kind: KindItemError, Err: description}
}

// Normalize applies the query-path rules to a single item:
// item error, binary payload, absent value, canonical string.
func Normalize(item Item) Result {
	result := Result{OID: item.OID, Type: item.Type}

	switch item.Kind {
	case KindItemError:
		result.Type = ""
		result.Error = item.Err
		return result
	case KindBytes:
		result.Value = ptr(decodeText(item.Value))
	case KindAbsent:
		result.Value = ptr(NullValue)
	default:
		if item.Value == nil {
			result.Value = ptr(NullValue)
			return result
		}
		result.Value = ptr(canonical(item.Value))
	}

	return result
}

// NormalizeAll normalizes items in order.
func NormalizeAll(items []Item) []Result {
	results := make([]Result, 0, len(items))
	for _, item := range items {
		results = append(results, Normalize(item))
	}
	return results
}

// NormalizeBulk normalizes a bulk response, unwrapping exactly one level of
// nesting when the first element is itself a list of items. A nil or empty
// response yields NoData with an empty, non-nil result slice.
func NormalizeBulk(raw any) Bulk {
	items := unwrapBulk(raw)
	if len(items) == 0 {
		return Bulk{Results: []Result{}, NoData: true}
	}
	return Bulk{Results: NormalizeAll(items)}
}

// FormatTrapValue applies the trap-path value rules to a single item.
func FormatTrapValue(item Item) Result {
	result := Result{OID: item.OID, Type: item.Type}

	switch item.Kind {
	case KindItemError:
		result.Type = ""
		result.Error = item.Err
	case KindAbsent:
		result.Value = ptr(UndefinedValue)
	case KindBytes:
		if item.octet {
			result.Value = ptr(decodeText(item.Value))
		} else {
			b, _ := item.Value.([]byte)
			result.Value = ptr(hex.EncodeToString(b))
		}
	case KindStructured:
		result.Value = ptr(structured(item.Value))
	default:
		if item.Value == nil {
			result.Value = ptr(UndefinedValue)
			return result
		}
		result.Value = ptr(canonical(item.Value))
	}

	return result
}

// TrimOID strips the leading dot gosnmp puts on object identifiers.
func TrimOID(oid string) string {
	return strings.TrimPrefix(oid, ".")
}

// IsItemError reports whether the ASN.1 type is an item-level exception.
func IsItemError(t gosnmp.Asn1BER) bool {
	return t == gosnmp.NoSuchObject || t == gosnmp.NoSuchInstance || t == gosnmp.EndOfMibView
}

// TypeName returns the display name of an ASN.1 type tag.
func TypeName(t gosnmp.Asn1BER) string {
	switch t {
	case gosnmp.Integer:
		return "Integer"
	case gosnmp.BitString:
		return "BitString"
	case gosnmp.OctetString:
		return "OctetString"
	case gosnmp.Null:
		return "Null"
	case gosnmp.ObjectIdentifier:
		return "OID"
	case gosnmp.ObjectDescription:
		return "ObjectDescription"
	case gosnmp.IPAddress:
		return "IpAddress"
	case gosnmp.Counter32:
		return "Counter32"
	case gosnmp.Gauge32:
		return "Gauge32"
	case gosnmp.TimeTicks:
		return "TimeTicks"
	case gosnmp.Opaque:
		return "Opaque"
	case gosnmp.NsapAddress:
		return "NsapAddress"
	case gosnmp.Counter64:
		return "Counter64"
	case gosnmp.Uinteger32:
		return "Unsigned32"
	case gosnmp.OpaqueFloat:
		return "OpaqueFloat"
	case gosnmp.OpaqueDouble:
		return "OpaqueDouble"
	case gosnmp.NoSuchObject:
		return "NoSuchObject"
	case gosnmp.NoSuchInstance:
		return "NoSuchInstance"
	case gosnmp.EndOfMibView:
		return "EndOfMibView"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(t))
	}
}

func unwrapBulk(raw any) []Item {
	switch v := raw.(type) {
	case nil:
		return nil
	case []Item:
		return v
	case [][]Item:
		if len(v) == 0 {
			return nil
		}
		return v[0]
	case []any:
		if len(v) == 0 {
			return nil
		}
		if inner, ok := v[0].([]Item); ok {
			return inner
		}
		if inner, ok := v[0].([]any); ok {
			return collectItems(inner)
		}
		return collectItems(v)
	default:
		return nil
	}
}

func collectItems(values []any) []Item {
	items := make([]Item, 0, len(values))
	for _, value := range values {
		if item, ok := value.(Item); ok {
			items = append(items, item)
		}
	}
	return items
}

func kindOf(value any) Kind {
	switch value.(type) {
	case []byte:
		return KindBytes
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return KindText
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		return KindStructured
	default:
		return KindText
	}
}

func decodeText(value any) string {
	switch v := value.(type) {
	case []byte:
		return strings.ToValidUTF8(string(v), "\uFFFD")
	case string:
		return v
	default:
		return canonical(v)
	}
}

func canonical(value any) string {
	if kindOf(value) == KindStructured {
		return structured(value)
	}
	return fmt.Sprint(value)
}

func structured(value any) string {
	b, err := json.Marshal(value)
	if err != nil {
		return ComplexValue
	}
	return string(b)
}

func ptr(s string) *string {
	return &s
}
