package model

import (
	"fmt"
	"strconv"
)

// Protocol identifies the remote protocol a connection uses.
type Protocol string

const (
	ProtocolRDP    Protocol = "RDP"
	ProtocolVNC    Protocol = "VNC"
	ProtocolSSH1   Protocol = "SSH1"
	ProtocolSSH2   Protocol = "SSH2"
	ProtocolTelnet Protocol = "Telnet"
	ProtocolRlogin Protocol = "Rlogin"
	ProtocolRAW    Protocol = "RAW"
	ProtocolHTTP   Protocol = "HTTP"
	ProtocolHTTPS  Protocol = "HTTPS"
)

// DefaultPort returns the well-known port for the protocol, or 0.
func (p Protocol) DefaultPort() int {
	switch p {
	case ProtocolRDP:
		return 3389
	case ProtocolVNC:
		return 5900
	case ProtocolSSH1, ProtocolSSH2:
		return 22
	case ProtocolTelnet:
		return 23
	case ProtocolRlogin:
		return 513
	case ProtocolHTTP:
		return 80
	case ProtocolHTTPS:
		return 443
	}
	return 0
}

// Properties is the fixed set of values every node carries. Containers use
// the same shape so folder-level defaults can flow to their descendants.
type Properties struct {
	// General
	Description string
	Icon        string
	Panel       string

	// Connection
	Hostname                string
	Port                    int
	Protocol                Protocol
	Username                string
	Password                string
	Domain                  string
	CredentialID            string
	PuttySession            string
	SSHOptions              string
	SSHTunnelConnectionName string
	OpeningCommand          string

	// Protocol
	UseConsoleSession       bool
	RDPAuthenticationLevel  string
	RDPMinutesToIdleTimeout int
	LoadBalanceInfo         string
	RenderingEngine         string
	UseCredSsp              bool
	UseVMID                 bool
	VMID                    string

	// Gateway
	RDGatewayUsageMethod              string
	RDGatewayHostname                 string
	RDGatewayUseConnectionCredentials string
	RDGatewayUsername                 string
	RDGatewayPassword                 string
	RDGatewayDomain                   string

	// Appearance
	Resolution               string
	AutomaticResize          bool
	Colors                   string
	CacheBitmaps             bool
	DisplayWallpaper         bool
	DisplayThemes            bool
	EnableFontSmoothing      bool
	EnableDesktopComposition bool

	// Redirect
	RedirectKeys       bool
	RedirectDiskDrives string
	RedirectPrinters   bool
	RedirectClipboard  bool
	RedirectPorts      bool
	RedirectSmartCards bool
	RedirectSound      string
	SoundQuality       string

	// Miscellaneous
	PreExtApp  string
	PostExtApp string
	MacAddress string
	UserField  string
	ExtApp     string

	// VNC
	VNCCompression   string
	VNCEncoding      string
	VNCAuthMode      string
	VNCProxyType     string
	VNCProxyIP       string
	VNCProxyPort     int
	VNCProxyUsername string
	VNCProxyPassword string
	VNCColors        string
	VNCSmartSizeMode string
	VNCViewOnly      bool
}

// DefaultProperties returns the values a freshly created node starts with.
func DefaultProperties() Properties {
	return Properties{
		Icon:                              "mRemoteNG",
		Panel:                             "General",
		Port:                              ProtocolRDP.DefaultPort(),
		Protocol:                          ProtocolRDP,
		RDPAuthenticationLevel:            "NoAuth",
		RenderingEngine:                   "EdgeChromium",
		UseCredSsp:                        true,
		RDGatewayUsageMethod:              "Never",
		RDGatewayUseConnectionCredentials: "Yes",
		Resolution:                        "FitToWindow",
		Colors:                            "Colors16Bit",
		CacheBitmaps:                      true,
		RedirectDiskDrives:                "None",
		RedirectSound:                     "DoNotPlay",
		SoundQuality:                      "Dynamic",
		VNCCompression:                    "CompNone",
		VNCEncoding:                       "EncHextile",
		VNCAuthMode:                       "AuthVNC",
		VNCProxyType:                      "ProxyNone",
		VNCColors:                         "ColNormal",
		VNCSmartSizeMode:                  "SmartSAspect",
	}
}

// InheritanceFlags holds one flag per inheritable property. A true flag
// means the value comes from the parent's effective value.
type InheritanceFlags struct {
	Description bool
	Icon        bool
	Panel       bool

	Port                    bool
	Protocol                bool
	Username                bool
	Password                bool
	Domain                  bool
	CredentialID            bool
	PuttySession            bool
	SSHOptions              bool
	SSHTunnelConnectionName bool
	OpeningCommand          bool

	UseConsoleSession       bool
	RDPAuthenticationLevel  bool
	RDPMinutesToIdleTimeout bool
	LoadBalanceInfo         bool
	RenderingEngine         bool
	UseCredSsp              bool
	UseVMID                 bool
	VMID                    bool

	RDGatewayUsageMethod              bool
	RDGatewayHostname                 bool
	RDGatewayUseConnectionCredentials bool
	RDGatewayUsername                 bool
	RDGatewayPassword                 bool
	RDGatewayDomain                   bool

	Resolution               bool
	AutomaticResize          bool
	Colors                   bool
	CacheBitmaps             bool
	DisplayWallpaper         bool
	DisplayThemes            bool
	EnableFontSmoothing      bool
	EnableDesktopComposition bool

	RedirectKeys       bool
	RedirectDiskDrives bool
	RedirectPrinters   bool
	RedirectClipboard  bool
	RedirectPorts      bool
	RedirectSmartCards bool
	RedirectSound      bool
	SoundQuality       bool

	PreExtApp  bool
	PostExtApp bool
	MacAddress bool
	UserField  bool
	ExtApp     bool

	VNCCompression   bool
	VNCEncoding      bool
	VNCAuthMode      bool
	VNCProxyType     bool
	VNCProxyIP       bool
	VNCProxyPort     bool
	VNCProxyUsername bool
	VNCProxyPassword bool
	VNCColors        bool
	VNCSmartSizeMode bool
	VNCViewOnly      bool
}

// SetAll sets every flag to v.
func (f *InheritanceFlags) SetAll(v bool) {
	for _, p := range propertyTable {
		if p.inherit != nil {
			*p.inherit(f) = v
		}
	}
}

// Everything reports whether every flag is set.
func (f *InheritanceFlags) Everything() bool {
	for _, p := range propertyTable {
		if p.inherit != nil && !*p.inherit(f) {
			return false
		}
	}
	return true
}

// Any reports whether at least one flag is set.
func (f *InheritanceFlags) Any() bool {
	for _, p := range propertyTable {
		if p.inherit != nil && *p.inherit(f) {
			return true
		}
	}
	return false
}

// ValueType is the storage type of a property value.
type ValueType int

const (
	TypeString ValueType = iota
	TypeInt
	TypeBool
)

// Property describes one field of Properties and, when inheritable, its
// matching field in InheritanceFlags. Serializers iterate the table in
// order so both records stay in lockstep.
type Property struct {
	Name string
	Type ValueType
	// Sensitive values are encrypted at rest.
	Sensitive bool

	str     func(*Properties) *string
	num     func(*Properties) *int
	flag    func(*Properties) *bool
	inherit func(*InheritanceFlags) *bool
}

// Inheritable reports whether the property has an inheritance flag.
func (p Property) Inheritable() bool {
	return p.inherit != nil
}

// Get returns the stored value as string, int or bool.
func (p Property) Get(props *Properties) any {
	switch p.Type {
	case TypeInt:
		return *p.num(props)
	case TypeBool:
		return *p.flag(props)
	default:
		return *p.str(props)
	}
}

// Set stores v, which must match the property's type.
func (p Property) Set(props *Properties, v any) error {
	switch p.Type {
	case TypeInt:
		n, ok := v.(int)
		if !ok {
			return fmt.Errorf("property %s: want int, got %T", p.Name, v)
		}
		*p.num(props) = n
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("property %s: want bool, got %T", p.Name, v)
		}
		*p.flag(props) = b
	default:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("property %s: want string, got %T", p.Name, v)
		}
		*p.str(props) = s
	}
	return nil
}

// Copy copies the property's value from src to dst.
func (p Property) Copy(dst, src *Properties) {
	switch p.Type {
	case TypeInt:
		*p.num(dst) = *p.num(src)
	case TypeBool:
		*p.flag(dst) = *p.flag(src)
	default:
		*p.str(dst) = *p.str(src)
	}
}

// Format renders the value in the text form used by the XML and SQL
// backends. Booleans are written as "True"/"False".
func (p Property) Format(props *Properties) string {
	switch p.Type {
	case TypeInt:
		return strconv.Itoa(*p.num(props))
	case TypeBool:
		return FormatBool(*p.flag(props))
	default:
		return *p.str(props)
	}
}

// Parse stores the text form s. An empty string resets ints and bools to
// their zero value.
func (p Property) Parse(props *Properties, s string) error {
	switch p.Type {
	case TypeInt:
		if s == "" {
			*p.num(props) = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("property %s: %w", p.Name, err)
		}
		*p.num(props) = n
	case TypeBool:
		b, err := ParseBool(s)
		if err != nil {
			return fmt.Errorf("property %s: %w", p.Name, err)
		}
		*p.flag(props) = b
	default:
		*p.str(props) = s
	}
	return nil
}

// Inherited reports the property's flag in f. Non-inheritable properties
// always report false.
func (p Property) Inherited(f *InheritanceFlags) bool {
	if p.inherit == nil {
		return false
	}
	return *p.inherit(f)
}

// SetInherited sets the property's flag in f. It is a no-op for
// non-inheritable properties.
func (p Property) SetInherited(f *InheritanceFlags, v bool) {
	if p.inherit != nil {
		*p.inherit(f) = v
	}
}

// FormatBool renders b as "True" or "False".
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// ParseBool accepts any casing of true/false and treats "" as false.
func ParseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

// AllProperties returns the property table in serialization order.
func AllProperties() []Property {
	out := make([]Property, len(propertyTable))
	copy(out, propertyTable)
	return out
}

// LookupProperty finds a property by name.
func LookupProperty(name string) (Property, bool) {
	p, ok := propertyIndex[name]
	return p, ok
}

func stringProp(name string, get func(*Properties) *string, inh func(*InheritanceFlags) *bool) Property {
	return Property{Name: name, Type: TypeString, str: get, inherit: inh}
}

func secretProp(name string, get func(*Properties) *string, inh func(*InheritanceFlags) *bool) Property {
	return Property{Name: name, Type: TypeString, Sensitive: true, str: get, inherit: inh}
}

func intProp(name string, get func(*Properties) *int, inh func(*InheritanceFlags) *bool) Property {
	return Property{Name: name, Type: TypeInt, num: get, inherit: inh}
}

func boolProp(name string, get func(*Properties) *bool, inh func(*InheritanceFlags) *bool) Property {
	return Property{Name: name, Type: TypeBool, flag: get, inherit: inh}
}

var propertyTable = []Property{
	stringProp("Description", func(p *Properties) *string { return &p.Description }, func(f *InheritanceFlags) *bool { return &f.Description }),
	stringProp("Icon", func(p *Properties) *string { return &p.Icon }, func(f *InheritanceFlags) *bool { return &f.Icon }),
	stringProp("Panel", func(p *Properties) *string { return &p.Panel }, func(f *InheritanceFlags) *bool { return &f.Panel }),

	stringProp("Hostname", func(p *Properties) *string { return &p.Hostname }, nil),
	intProp("Port", func(p *Properties) *int { return &p.Port }, func(f *InheritanceFlags) *bool { return &f.Port }),
	{
		Name:    "Protocol",
		Type:    TypeString,
		str:     func(p *Properties) *string { return (*string)(&p.Protocol) },
		inherit: func(f *InheritanceFlags) *bool { return &f.Protocol },
	},
	stringProp("Username", func(p *Properties) *string { return &p.Username }, func(f *InheritanceFlags) *bool { return &f.Username }),
	secretProp("Password", func(p *Properties) *string { return &p.Password }, func(f *InheritanceFlags) *bool { return &f.Password }),
	stringProp("Domain", func(p *Properties) *string { return &p.Domain }, func(f *InheritanceFlags) *bool { return &f.Domain }),
	stringProp("CredentialId", func(p *Properties) *string { return &p.CredentialID }, func(f *InheritanceFlags) *bool { return &f.CredentialID }),
	stringProp("PuttySession", func(p *Properties) *string { return &p.PuttySession }, func(f *InheritanceFlags) *bool { return &f.PuttySession }),
	stringProp("SSHOptions", func(p *Properties) *string { return &p.SSHOptions }, func(f *InheritanceFlags) *bool { return &f.SSHOptions }),
	stringProp("SSHTunnelConnectionName", func(p *Properties) *string { return &p.SSHTunnelConnectionName }, func(f *InheritanceFlags) *bool { return &f.SSHTunnelConnectionName }),
	stringProp("OpeningCommand", func(p *Properties) *string { return &p.OpeningCommand }, func(f *InheritanceFlags) *bool { return &f.OpeningCommand }),

	boolProp("ConnectToConsole", func(p *Properties) *bool { return &p.UseConsoleSession }, func(f *InheritanceFlags) *bool { return &f.UseConsoleSession }),
	stringProp("RDPAuthenticationLevel", func(p *Properties) *string { return &p.RDPAuthenticationLevel }, func(f *InheritanceFlags) *bool { return &f.RDPAuthenticationLevel }),
	intProp("RDPMinutesToIdleTimeout", func(p *Properties) *int { return &p.RDPMinutesToIdleTimeout }, func(f *InheritanceFlags) *bool { return &f.RDPMinutesToIdleTimeout }),
	stringProp("LoadBalanceInfo", func(p *Properties) *string { return &p.LoadBalanceInfo }, func(f *InheritanceFlags) *bool { return &f.LoadBalanceInfo }),
	stringProp("RenderingEngine", func(p *Properties) *string { return &p.RenderingEngine }, func(f *InheritanceFlags) *bool { return &f.RenderingEngine }),
	boolProp("UseCredSsp", func(p *Properties) *bool { return &p.UseCredSsp }, func(f *InheritanceFlags) *bool { return &f.UseCredSsp }),
	boolProp("UseVmId", func(p *Properties) *bool { return &p.UseVMID }, func(f *InheritanceFlags) *bool { return &f.UseVMID }),
	stringProp("VmId", func(p *Properties) *string { return &p.VMID }, func(f *InheritanceFlags) *bool { return &f.VMID }),

	stringProp("RDGatewayUsageMethod", func(p *Properties) *string { return &p.RDGatewayUsageMethod }, func(f *InheritanceFlags) *bool { return &f.RDGatewayUsageMethod }),
	stringProp("RDGatewayHostname", func(p *Properties) *string { return &p.RDGatewayHostname }, func(f *InheritanceFlags) *bool { return &f.RDGatewayHostname }),
	stringProp("RDGatewayUseConnectionCredentials", func(p *Properties) *string { return &p.RDGatewayUseConnectionCredentials }, func(f *InheritanceFlags) *bool { return &f.RDGatewayUseConnectionCredentials }),
	stringProp("RDGatewayUsername", func(p *Properties) *string { return &p.RDGatewayUsername }, func(f *InheritanceFlags) *bool { return &f.RDGatewayUsername }),
	secretProp("RDGatewayPassword", func(p *Properties) *string { return &p.RDGatewayPassword }, func(f *InheritanceFlags) *bool { return &f.RDGatewayPassword }),
	stringProp("RDGatewayDomain", func(p *Properties) *string { return &p.RDGatewayDomain }, func(f *InheritanceFlags) *bool { return &f.RDGatewayDomain }),

	stringProp("Resolution", func(p *Properties) *string { return &p.Resolution }, func(f *InheritanceFlags) *bool { return &f.Resolution }),
	boolProp("AutomaticResize", func(p *Properties) *bool { return &p.AutomaticResize }, func(f *InheritanceFlags) *bool { return &f.AutomaticResize }),
	stringProp("Colors", func(p *Properties) *string { return &p.Colors }, func(f *InheritanceFlags) *bool { return &f.Colors }),
	boolProp("CacheBitmaps", func(p *Properties) *bool { return &p.CacheBitmaps }, func(f *InheritanceFlags) *bool { return &f.CacheBitmaps }),
	boolProp("DisplayWallpaper", func(p *Properties) *bool { return &p.DisplayWallpaper }, func(f *InheritanceFlags) *bool { return &f.DisplayWallpaper }),
	boolProp("DisplayThemes", func(p *Properties) *bool { return &p.DisplayThemes }, func(f *InheritanceFlags) *bool { return &f.DisplayThemes }),
	boolProp("EnableFontSmoothing", func(p *Properties) *bool { return &p.EnableFontSmoothing }, func(f *InheritanceFlags) *bool { return &f.EnableFontSmoothing }),
	boolProp("EnableDesktopComposition", func(p *Properties) *bool { return &p.EnableDesktopComposition }, func(f *InheritanceFlags) *bool { return &f.EnableDesktopComposition }),

	boolProp("RedirectKeys", func(p *Properties) *bool { return &p.RedirectKeys }, func(f *InheritanceFlags) *bool { return &f.RedirectKeys }),
	stringProp("RedirectDiskDrives", func(p *Properties) *string { return &p.RedirectDiskDrives }, func(f *InheritanceFlags) *bool { return &f.RedirectDiskDrives }),
	boolProp("RedirectPrinters", func(p *Properties) *bool { return &p.RedirectPrinters }, func(f *InheritanceFlags) *bool { return &f.RedirectPrinters }),
	boolProp("RedirectClipboard", func(p *Properties) *bool { return &p.RedirectClipboard }, func(f *InheritanceFlags) *bool { return &f.RedirectClipboard }),
	boolProp("RedirectPorts", func(p *Properties) *bool { return &p.RedirectPorts }, func(f *InheritanceFlags) *bool { return &f.RedirectPorts }),
	boolProp("RedirectSmartCards", func(p *Properties) *bool { return &p.RedirectSmartCards }, func(f *InheritanceFlags) *bool { return &f.RedirectSmartCards }),
	stringProp("RedirectSound", func(p *Properties) *string { return &p.RedirectSound }, func(f *InheritanceFlags) *bool { return &f.RedirectSound }),
	stringProp("SoundQuality", func(p *Properties) *string { return &p.SoundQuality }, func(f *InheritanceFlags) *bool { return &f.SoundQuality }),

	stringProp("PreExtApp", func(p *Properties) *string { return &p.PreExtApp }, func(f *InheritanceFlags) *bool { return &f.PreExtApp }),
	stringProp("PostExtApp", func(p *Properties) *string { return &p.PostExtApp }, func(f *InheritanceFlags) *bool { return &f.PostExtApp }),
	stringProp("MacAddress", func(p *Properties) *string { return &p.MacAddress }, func(f *InheritanceFlags) *bool { return &f.MacAddress }),
	stringProp("UserField", func(p *Properties) *string { return &p.UserField }, func(f *InheritanceFlags) *bool { return &f.UserField }),
	stringProp("ExtApp", func(p *Properties) *string { return &p.ExtApp }, func(f *InheritanceFlags) *bool { return &f.ExtApp }),

	stringProp("VNCCompression", func(p *Properties) *string { return &p.VNCCompression }, func(f *InheritanceFlags) *bool { return &f.VNCCompression }),
	stringProp("VNCEncoding", func(p *Properties) *string { return &p.VNCEncoding }, func(f *InheritanceFlags) *bool { return &f.VNCEncoding }),
	stringProp("VNCAuthMode", func(p *Properties) *string { return &p.VNCAuthMode }, func(f *InheritanceFlags) *bool { return &f.VNCAuthMode }),
	stringProp("VNCProxyType", func(p *Properties) *string { return &p.VNCProxyType }, func(f *InheritanceFlags) *bool { return &f.VNCProxyType }),
	stringProp("VNCProxyIP", func(p *Properties) *string { return &p.VNCProxyIP }, func(f *InheritanceFlags) *bool { return &f.VNCProxyIP }),
	intProp("VNCProxyPort", func(p *Properties) *int { return &p.VNCProxyPort }, func(f *InheritanceFlags) *bool { return &f.VNCProxyPort }),
	stringProp("VNCProxyUsername", func(p *Properties) *string { return &p.VNCProxyUsername }, func(f *InheritanceFlags) *bool { return &f.VNCProxyUsername }),
	secretProp("VNCProxyPassword", func(p *Properties) *string { return &p.VNCProxyPassword }, func(f *InheritanceFlags) *bool { return &f.VNCProxyPassword }),
	stringProp("VNCColors", func(p *Properties) *string { return &p.VNCColors }, func(f *InheritanceFlags) *bool { return &f.VNCColors }),
	stringProp("VNCSmartSizeMode", func(p *Properties) *string { return &p.VNCSmartSizeMode }, func(f *InheritanceFlags) *bool { return &f.VNCSmartSizeMode }),
	boolProp("VNCViewOnly", func(p *Properties) *bool { return &p.VNCViewOnly }, func(f *InheritanceFlags) *bool { return &f.VNCViewOnly }),
}

var propertyIndex = func() map[string]Property {
	m := make(map[string]Property, len(propertyTable))
	for _, p := range propertyTable {
		m[p.Name] = p
	}
	return m
}()
