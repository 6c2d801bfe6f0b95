package mib

// Well-known object identifiers.
const (
	OIDSysUpTime   = "1.3.6.1.2.1.1.3.0"
	OIDSnmpTrapOID = "1.3.6.1.6.3.1.1.4.1.0"
	OIDSnmpTraps   = "1.3.6.1.6.3.1.1.5"
)

// builtin seeds every translator with the registration tree roots, the
// system and interfaces groups, and the generic traps.
var builtin = map[string]string{
	"1":                      "iso",
	"1.3":                    "org",
	"1.3.6":                  "dod",
	"1.3.6.1":                "internet",
	"1.3.6.1.1":              "directory",
	"1.3.6.1.2":              "mgmt",
	"1.3.6.1.2.1":            "mib-2",
	"1.3.6.1.3":              "experimental",
	"1.3.6.1.4":              "private",
	"1.3.6.1.4.1":            "enterprises",
	"1.3.6.1.5":              "security",
	"1.3.6.1.6":              "snmpV2",
	"1.3.6.1.6.3":            "snmpModules",
	"1.3.6.1.6.3.1":          "snmpMIB",
	"1.3.6.1.6.3.1.1":        "snmpMIBObjects",
	"1.3.6.1.6.3.1.1.4":      "snmpTrap",
	"1.3.6.1.6.3.1.1.4.1":    "snmpTrapOID",
	"1.3.6.1.6.3.1.1.4.3":    "snmpTrapEnterprise",
	OIDSnmpTraps:             "snmpTraps",
	"1.3.6.1.6.3.1.1.5.1":    "coldStart",
	"1.3.6.1.6.3.1.1.5.2":    "warmStart",
	"1.3.6.1.6.3.1.1.5.3":    "linkDown",
	"1.3.6.1.6.3.1.1.5.4":    "linkUp",
	"1.3.6.1.6.3.1.1.5.5":    "authenticationFailure",
	"1.3.6.1.6.3.1.1.5.6":    "egpNeighborLoss",
	"1.3.6.1.2.1.1":          "system",
	"1.3.6.1.2.1.1.1":        "sysDescr",
	"1.3.6.1.2.1.1.2":        "sysObjectID",
	"1.3.6.1.2.1.1.3":        "sysUpTime",
	"1.3.6.1.2.1.1.4":        "sysContact",
	"1.3.6.1.2.1.1.5":        "sysName",
	"1.3.6.1.2.1.1.6":        "sysLocation",
	"1.3.6.1.2.1.1.7":        "sysServices",
	"1.3.6.1.2.1.2":          "interfaces",
	"1.3.6.1.2.1.2.1":        "ifNumber",
	"1.3.6.1.2.1.2.2":        "ifTable",
	"1.3.6.1.2.1.2.2.1":      "ifEntry",
	"1.3.6.1.2.1.2.2.1.1":    "ifIndex",
	"1.3.6.1.2.1.2.2.1.2":    "ifDescr",
	"1.3.6.1.2.1.2.2.1.3":    "ifType",
	"1.3.6.1.2.1.2.2.1.5":    "ifSpeed",
	"1.3.6.1.2.1.2.2.1.7":    "ifAdminStatus",
	"1.3.6.1.2.1.2.2.1.8":    "ifOperStatus",
	"1.3.6.1.2.1.2.2.1.10":   "ifInOctets",
	"1.3.6.1.2.1.2.2.1.16":   "ifOutOctets",
	"1.3.6.1.2.1.31.1.1.1.1": "ifName",
}
