package tds

// Token identifies the leading byte of a tokenized response stream entry
// (MS-TDS 2.2.7).
type Token byte

const (
	TokenAltMetadata Token = 0x88
	TokenAltRow      Token = 0xD3
	TokenColMetadata Token = 0x81
	TokenColInfo     Token = 0xA5
	TokenDone        Token = 0xFD
	TokenDoneProc    Token = 0xFE
	TokenDoneInProc  Token = 0xFF
	TokenEnvChange   Token = 0xE3
	TokenError       Token = 0xAA
	TokenFeatureExtAck Token = 0xAE
	TokenFedAuthInfo Token = 0xEE
	TokenInfo        Token = 0xAB
	TokenLoginAck    Token = 0xAD
	TokenNBCRow      Token = 0xD2
	TokenOffset      Token = 0x78
	TokenOrder       Token = 0xA9
	TokenReturnStatus Token = 0x79
	TokenReturnValue Token = 0xAC
	TokenRow         Token = 0xD1
	TokenSSPI        Token = 0xED
	TokenTabName     Token = 0xA4
)

// DONE/DONEPROC/DONEINPROC status bits (MS-TDS 2.2.7.6).
const (
	DoneFinal       uint16 = 0x0000
	DoneMore        uint16 = 0x0001
	DoneError       uint16 = 0x0002
	DoneInTrans     uint16 = 0x0004
	DoneCount       uint16 = 0x0010
	DoneAttention   uint16 = 0x0020
	DoneServerError uint16 = 0x0100
)

// Done carries a decoded DONE/DONEPROC/DONEINPROC token.
type Done struct {
	Status     uint16
	CurCmd     uint16
	RowCount   uint64
	IsFinal    bool
	HasCount   bool
	HasError   bool
	IsAttnAck  bool
}

// EnvChangeType identifies the ENVCHANGE token's sub-type (MS-TDS 2.2.7.9).
type EnvChangeType byte

const (
	EnvChangeDatabase       EnvChangeType = 1
	EnvChangeLanguage       EnvChangeType = 2
	EnvChangeCharset        EnvChangeType = 3
	EnvChangePacketSize     EnvChangeType = 4
	EnvChangeCollation      EnvChangeType = 7
	EnvChangeBeginTrans     EnvChangeType = 8
	EnvChangeCommitTrans    EnvChangeType = 9
	EnvChangeRollbackTrans  EnvChangeType = 10
	EnvChangeEnlistDTC      EnvChangeType = 11
	EnvChangeDefectTrans    EnvChangeType = 12
	EnvChangeRealTimeLog    EnvChangeType = 13
	EnvChangePromoteTrans   EnvChangeType = 15
	EnvChangeTransManagerAddr EnvChangeType = 16
	EnvChangeTransEnded     EnvChangeType = 17
	EnvChangeResetConnAck   EnvChangeType = 18
	EnvChangeUserName       EnvChangeType = 19
	EnvChangeRouting        EnvChangeType = 20
)

// EnvChange carries one decoded ENVCHANGE token entry. NewValue/OldValue hold
// the raw B_VARBYTE payload (collation, transaction descriptor, ...);
// NewValueString/OldValueString additionally hold the UTF-16LE-decoded text
// for the string-valued sub-types (DATABASE, LANGUAGE, CHARSET, USERNAME).
type EnvChange struct {
	Type           EnvChangeType
	NewValue       []byte
	OldValue       []byte
	NewValueString string
	OldValueString string
	// Routing fields, populated only when Type == EnvChangeRouting.
	RouteProtocol byte
	RoutePort     uint16
	RouteServer   string
}

// SQLError carries a decoded ERROR or INFO token (MS-TDS 2.2.7.10/2.2.7.17).
// Spec.md §7's ServerError wraps this.
type SQLError struct {
	Number     int32
	State      byte
	Class      byte
	Message    string
	ServerName string
	ProcName   string
	LineNumber int32
}

// LoginAck carries a decoded LOGINACK token (MS-TDS 2.2.7.13).
type LoginAck struct {
	Interface   byte
	TDSVersion  uint32
	ProgName    string
	MajorVer    byte
	MinorVer    byte
	BuildNumHi  byte
	BuildNumLo  byte
}

// FedAuthInfoOpt identifies a FEDAUTHINFO option id (MS-TDS 2.2.7.12).
type FedAuthInfoOpt byte

const (
	FedAuthInfoSTSURL FedAuthInfoOpt = 0x01
	FedAuthInfoSPN    FedAuthInfoOpt = 0x02
)

// FedAuthInfo carries the decoded STSURL/SPN pair the server returns when
// federated authentication is required.
type FedAuthInfo struct {
	STSURL string
	SPN    string
}
