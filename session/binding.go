package session

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"
)

// SetType is a value type accepted by SET requests.
type SetType string

// Supported SET types. "string" is an alias for "octetstring".
const (
	TypeInteger     SetType = "integer"
	TypeString      SetType = "string"
	TypeOctetString SetType = "octetstring"
	TypeOID         SetType = "oid"
	TypeIPAddress   SetType = "ipaddress"
)

var oidPattern = regexp.MustCompile(`^\.?[0-9]+(\.[0-9]+)*$`)

// ParseSetType maps a case-insensitive type name to a SetType.
func ParseSetType(name string) (SetType, error) {
	switch t := SetType(strings.ToLower(strings.TrimSpace(name))); t {
	case TypeInteger, TypeString, TypeOctetString, TypeOID, TypeIPAddress:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, name)
	}
}

// Binding is a single variable binding to write with SET.
type Binding struct {
	OID   string
	Type  SetType
	Value any
}

// NewBinding validates the type and value eagerly so callers can reject a
// request before any session is opened.
func NewBinding(oid, typeName string, value any) (Binding, error) {
	t, err := ParseSetType(typeName)
	if err != nil {
		return Binding{}, err
	}
	b := Binding{OID: oid, Type: t, Value: value}
	if _, err := b.PDU(); err != nil {
		return Binding{}, err
	}
	return b, nil
}

// PDU encodes the binding as a gosnmp variable binding.
func (b Binding) PDU() (gosnmp.SnmpPDU, error) {
	pdu := gosnmp.SnmpPDU{Name: b.OID}

	switch b.Type {
	case TypeInteger:
		n, err := toInt(b.Value)
		if err != nil {
			return pdu, fmt.Errorf("%w: %s for integer: %v", ErrInvalidValue, b.OID, err)
		}
		pdu.Type = gosnmp.Integer
		pdu.Value = n

	case TypeString, TypeOctetString:
		s, ok := toText(b.Value)
		if !ok {
			return pdu, fmt.Errorf("%w: %s for octetstring: unsupported %T", ErrInvalidValue, b.OID, b.Value)
		}
		pdu.Type = gosnmp.OctetString
		pdu.Value = s

	case TypeOID:
		s, ok := b.Value.(string)
		if !ok || !oidPattern.MatchString(s) {
			return pdu, fmt.Errorf("%w: %s for oid: %v", ErrInvalidValue, b.OID, b.Value)
		}
		pdu.Type = gosnmp.ObjectIdentifier
		pdu.Value = s

	case TypeIPAddress:
		s, ok := b.Value.(string)
		ip := net.ParseIP(s)
		if !ok || ip == nil || ip.To4() == nil {
			return pdu, fmt.Errorf("%w: %s for ipaddress: %v", ErrInvalidValue, b.OID, b.Value)
		}
		pdu.Type = gosnmp.IPAddress
		pdu.Value = ip.To4().String()

	default:
		return pdu, fmt.Errorf("%w: %q", ErrInvalidType, b.Type)
	}

	return pdu, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, fmt.Errorf("out of range: %d", n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, fmt.Errorf("not a 32-bit integer: %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, err
		}
		return toInt(i)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 32)
		if err != nil {
			return 0, err
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("unsupported %T", v)
	}
}

func toText(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64, int, int64, bool:
		return fmt.Sprint(s), true
	default:
		return "", false
	}
}
