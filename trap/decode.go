package trap

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosnmp/gosnmp"

	"github.com/geekxflood/snmpgateway/mib"
	"github.com/geekxflood/snmpgateway/normalize"
)

// Errors reported for packets that cannot be recorded.
var (
	ErrNilPacket          = errors.New("nil packet")
	ErrUnsupportedVersion = errors.New("unsupported SNMP version")
)

// Record is a decoded notification. It is immutable once recorded.
type Record struct {
	ID            string             `json:"id"`
	Timestamp     time.Time          `json:"timestamp"`
	SourceAddress string             `json:"sourceAddress"`
	SourcePort    int                `json:"sourcePort"`
	Version       string             `json:"version"`
	Community     string             `json:"community"`
	PDUType       string             `json:"pduType"`
	EnterpriseID  string             `json:"enterpriseId,omitempty"`
	TrapOID       string             `json:"trapOid,omitempty"`
	TrapName      string             `json:"trapName,omitempty"`
	Varbinds      []normalize.Result `json:"varbinds"`
}

// Translator resolves OIDs to symbolic names.
type Translator interface {
	Translate(oid string) (string, bool)
}

// decoder turns gosnmp packets into Records.
type decoder struct {
	translator Translator
	now        func() time.Time
}

func (d decoder) decode(pkt *gosnmp.SnmpPacket, addr *net.UDPAddr) (Record, error) {
	if pkt == nil {
		return Record{}, ErrNilPacket
	}

	version, ok := versionString(pkt.Version)
	if !ok {
		return Record{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, pkt.Version)
	}

	record := Record{
		ID:        uuid.NewString(),
		Timestamp: d.now(),
		Version:   version,
		Community: pkt.Community,
		PDUType:   pduTypeString(pkt.PDUType),
		Varbinds:  make([]normalize.Result, 0, len(pkt.Variables)),
	}
	if record.Community == "" {
		record.Community = "unknown"
	}
	if addr != nil {
		record.SourceAddress = addr.IP.String()
		record.SourcePort = addr.Port
	}

	if pkt.Version == gosnmp.Version1 {
		record.EnterpriseID = normalize.TrimOID(pkt.Enterprise)
		record.TrapOID = v1TrapOID(pkt)
	} else {
		record.TrapOID = extractTrapOID(pkt.Variables)
	}

	if record.TrapOID != "" && d.translator != nil {
		if name, ok := d.translator.Translate(record.TrapOID); ok {
			record.TrapName = name
		}
	}

	for _, pdu := range pkt.Variables {
		record.Varbinds = append(record.Varbinds, normalize.FormatTrapValue(normalize.FromPDU(pdu)))
	}

	return record, nil
}

// extractTrapOID returns the value of snmpTrapOID.0 when present.
func extractTrapOID(vars []gosnmp.SnmpPDU) string {
	for _, v := range vars {
		if normalize.TrimOID(v.Name) != mib.OIDSnmpTrapOID {
			continue
		}
		switch value := v.Value.(type) {
		case string:
			return normalize.TrimOID(value)
		case []byte:
			return normalize.TrimOID(string(value))
		default:
			return normalize.TrimOID(fmt.Sprint(value))
		}
	}
	return ""
}

// v1TrapOID maps a v1 generic/specific trap to its v2 notification OID:
// generic 0-5 map to snmpTraps.<generic+1>, enterprise-specific traps to
// <enterprise>.0.<specific>.
func v1TrapOID(pkt *gosnmp.SnmpPacket) string {
	if pkt.GenericTrap >= 0 && pkt.GenericTrap < 6 {
		return fmt.Sprintf("%s.%d", mib.OIDSnmpTraps, pkt.GenericTrap+1)
	}
	enterprise := strings.Trim(pkt.Enterprise, ".")
	if enterprise == "" {
		return ""
	}
	return fmt.Sprintf("%s.0.%d", enterprise, pkt.SpecificTrap)
}

func versionString(v gosnmp.SnmpVersion) (string, bool) {
	switch v {
	case gosnmp.Version1:
		return "v1", true
	case gosnmp.Version2c:
		return "v2c", true
	case gosnmp.Version3:
		return "v3", true
	default:
		return "", false
	}
}

func pduTypeString(t gosnmp.PDUType) string {
	switch t {
	case gosnmp.Trap:
		return "Trap"
	case gosnmp.SNMPv2Trap:
		return "TrapV2"
	case gosnmp.InformRequest:
		return "InformRequest"
	case gosnmp.Report:
		return "Report"
	case gosnmp.GetResponse:
		return "GetResponse"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(t))
	}
}
