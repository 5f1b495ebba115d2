package tds

// EventKind identifies which token a parsed Event carries.
type EventKind int

const (
	EventColMetadata EventKind = iota
	EventRow
	EventDone
	EventDoneProc
	EventDoneInProc
	EventError
	EventInfo
	EventEnvChange
	EventLoginAck
	EventOrder
	EventReturnStatus
	EventFedAuthInfo
)

// Event is one decoded entry from a tokenized response stream.
type Event struct {
	Kind          EventKind
	Columns       []Column
	Row           []any
	Done          Done
	SQLError      SQLError
	EnvChange     EnvChange
	LoginAck      LoginAck
	Order         []uint16
	ReturnStatus  int32
	FedAuthInfo   FedAuthInfo
}

// Parser decodes a reassembled TABULAR_RESULT payload token-by-token. It
// retains the most recent COLMETADATA so subsequent ROW/NBCROW tokens know
// how to decode their values.
type Parser struct {
	c       cursor
	columns []Column
}

// NewParser creates a Parser over a fully reassembled response payload.
func NewParser(payload []byte) *Parser {
	return &Parser{c: cursor{b: payload}}
}

// Columns returns the column set established by the most recent COLMETADATA
// token, or nil if none has been seen yet.
func (p *Parser) Columns() []Column { return p.columns }

// Next decodes the next token in the stream. It returns (Event{}, false, nil)
// when the stream is exhausted.
func (p *Parser) Next() (Event, bool, error) {
	if p.c.remaining() == 0 {
		return Event{}, false, nil
	}
	tokByte, err := p.c.byte()
	if err != nil {
		return Event{}, false, err
	}
	tok := Token(tokByte)

	switch tok {
	case TokenColMetadata:
		cols, err := p.parseColMetadata()
		if err != nil {
			return Event{}, false, err
		}
		p.columns = cols
		return Event{Kind: EventColMetadata, Columns: cols}, true, nil

	case TokenRow:
		vals, err := p.parseRow()
		if err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventRow, Row: vals}, true, nil

	case TokenNBCRow:
		vals, err := p.parseNBCRow()
		if err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventRow, Row: vals}, true, nil

	case TokenDone, TokenDoneProc, TokenDoneInProc:
		d, err := p.parseDone()
		if err != nil {
			return Event{}, false, err
		}
		kind := EventDone
		if tok == TokenDoneProc {
			kind = EventDoneProc
		} else if tok == TokenDoneInProc {
			kind = EventDoneInProc
		}
		return Event{Kind: kind, Done: d}, true, nil

	case TokenError, TokenInfo:
		e, err := p.parseSQLError()
		if err != nil {
			return Event{}, false, err
		}
		kind := EventError
		if tok == TokenInfo {
			kind = EventInfo
		}
		return Event{Kind: kind, SQLError: e}, true, nil

	case TokenEnvChange:
		ec, err := p.parseEnvChange()
		if err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventEnvChange, EnvChange: ec}, true, nil

	case TokenLoginAck:
		la, err := p.parseLoginAck()
		if err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventLoginAck, LoginAck: la}, true, nil

	case TokenOrder:
		ord, err := p.parseOrder()
		if err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventOrder, Order: ord}, true, nil

	case TokenReturnStatus:
		v, err := p.c.int32()
		if err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventReturnStatus, ReturnStatus: v}, true, nil

	case TokenFedAuthInfo:
		length, err := p.c.uint32()
		if err != nil {
			return Event{}, false, err
		}
		body, err := p.c.bytes(int(length))
		if err != nil {
			return Event{}, false, err
		}
		info, err := DecodeFedAuthInfo(body)
		if err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventFedAuthInfo, FedAuthInfo: info}, true, nil

	default:
		return Event{}, false, &ProtocolError{Reason: "unexpected or unhandled token id"}
	}
}

func (p *Parser) parseColMetadata() ([]Column, error) {
	count, err := p.c.uint16()
	if err != nil {
		return nil, err
	}
	if count == 0xFFFF {
		return nil, nil // NoMetaData sentinel: no columns follow
	}
	cols := make([]Column, count)
	for i := range cols {
		col, err := p.parseColumnEntry(i)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return cols, nil
}

func (p *Parser) parseColumnEntry(ordinal int) (Column, error) {
	// UserType (4 bytes) then Flags (2 bytes) precede the type token.
	if _, err := p.c.uint32(); err != nil {
		return Column{}, err
	}
	flagBits, err := p.c.uint16()
	if err != nil {
		return Column{}, err
	}
	typeByte, err := p.c.byte()
	if err != nil {
		return Column{}, err
	}
	typeID := TypeID(typeByte)

	info, err := p.parseTypeInfo(typeID)
	if err != nil {
		return Column{}, err
	}

	name, err := p.c.bVarChar()
	if err != nil {
		return Column{}, err
	}

	col := Column{
		Name:        name,
		Ordinal:     ordinal,
		SQLTypeName: typeID.SQLTypeName(),
		Type:        info,
		Flags:       ColumnFlags(flagBits),
		IsNullable:  ColumnFlags(flagBits)&ColFlagNullable != 0,
		IsIdentity:  ColumnFlags(flagBits)&ColFlagIdentity != 0,
		IsComputed:  ColumnFlags(flagBits)&ColFlagComputed != 0,
	}
	isUnicode := typeID == TypeNVarChar || typeID == TypeNChar
	deriveCollationTraits(&col, isUnicode)
	return col, nil
}

// parseTypeInfo reads the type-specific metadata following the type byte:
// fixed types have none, variable types carry a length, DECIMAL/NUMERIC carry
// precision+scale, string types carry a trailing collation.
func (p *Parser) parseTypeInfo(id TypeID) (TypeInfo, error) {
	info := TypeInfo{ID: id}

	switch id {
	case TypeTinyInt, TypeBit, TypeSmallInt, TypeInt, TypeBigInt, TypeReal, TypeFloat,
		TypeMoney, TypeSmallMoney, TypeDate:
		info.MaxLength = fixedLength(id)
		info.Kind = mapHostKind(id, info.MaxLength)
		return info, nil

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		n, err := p.c.byte()
		if err != nil {
			return info, err
		}
		info.MaxLength = int(n)
		info.Kind = mapHostKind(id, info.MaxLength)
		if info.Kind == HostUnknown {
			return info, &UnsupportedTypeError{TypeID: id}
		}
		return info, nil

	case TypeDecimal, TypeNumeric:
		n, err := p.c.byte()
		if err != nil {
			return info, err
		}
		prec, err := p.c.byte()
		if err != nil {
			return info, err
		}
		scale, err := p.c.byte()
		if err != nil {
			return info, err
		}
		info.MaxLength = int(n)
		info.Precision = prec
		info.Scale = scale
		info.Kind = HostDecimal
		return info, nil

	case TypeTime, TypeDateTime2, TypeDateTimeO:
		scale, err := p.c.byte()
		if err != nil {
			return info, err
		}
		info.Scale = scale
		info.Kind = mapHostKind(id, 0)
		return info, nil

	case TypeDateTime, TypeSmallDT:
		info.MaxLength = fixedLength(id)
		info.Kind = mapHostKind(id, 0)
		return info, nil

	case TypeVarChar, TypeNVarChar, TypeVarBinary:
		ln, err := p.c.uint16()
		if err != nil {
			return info, err
		}
		if ln == plpMaxLen {
			info.IsPLP = true
			info.MaxLength = -1
		} else {
			info.MaxLength = int(ln)
		}
		if id == TypeVarChar || id == TypeNVarChar {
			coll, err := p.c.bytes(5)
			if err != nil {
				return info, err
			}
			copy(info.Collation[:], coll)
		}
		info.Kind = mapHostKind(id, info.MaxLength)
		return info, nil

	case TypeChar, TypeNChar:
		ln, err := p.c.uint16()
		if err != nil {
			return info, err
		}
		info.MaxLength = int(ln)
		coll, err := p.c.bytes(5)
		if err != nil {
			return info, err
		}
		copy(info.Collation[:], coll)
		info.Kind = HostString
		return info, nil

	case TypeBinary:
		ln, err := p.c.uint16()
		if err != nil {
			return info, err
		}
		info.MaxLength = int(ln)
		info.Kind = HostBytes
		return info, nil

	case TypeGUID:
		n, err := p.c.byte()
		if err != nil {
			return info, err
		}
		info.MaxLength = int(n)
		info.Kind = HostUUID
		return info, nil

	default:
		return info, &UnsupportedTypeError{TypeID: id}
	}
}

func fixedLength(id TypeID) int {
	switch id {
	case TypeTinyInt:
		return 1
	case TypeBit:
		return 1
	case TypeSmallInt:
		return 2
	case TypeInt:
		return 4
	case TypeBigInt:
		return 8
	case TypeReal:
		return 4
	case TypeFloat:
		return 8
	case TypeMoney:
		return 8
	case TypeSmallMoney:
		return 4
	case TypeDate:
		return 3
	case TypeDateTime:
		return 8
	case TypeSmallDT:
		return 4
	default:
		return 0
	}
}

func (p *Parser) parseRow() ([]any, error) {
	vals := make([]any, len(p.columns))
	for i, col := range p.columns {
		v, err := p.decodeValue(col.Type, false)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (p *Parser) parseNBCRow() ([]any, error) {
	n := len(p.columns)
	bitmapLen := (n + 7) / 8
	bitmap, err := p.c.bytes(bitmapLen)
	if err != nil {
		return nil, err
	}
	vals := make([]any, n)
	for i, col := range p.columns {
		isNull := bitmap[i/8]&(1<<uint(i%8)) != 0
		if isNull {
			vals[i] = nil
			continue
		}
		v, err := p.decodeValue(col.Type, true)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (p *Parser) parseDone() (Done, error) {
	status, err := p.c.uint16()
	if err != nil {
		return Done{}, err
	}
	curCmd, err := p.c.uint16()
	if err != nil {
		return Done{}, err
	}
	rowCount, err := p.c.uint64()
	if err != nil {
		return Done{}, err
	}
	return Done{
		Status:    status,
		CurCmd:    curCmd,
		RowCount:  rowCount,
		IsFinal:   status&DoneMore == 0,
		HasCount:  status&DoneCount != 0,
		HasError:  status&DoneError != 0,
		IsAttnAck: status&DoneAttention != 0,
	}, nil
}

func (p *Parser) parseSQLError() (SQLError, error) {
	if _, err := p.c.uint16(); err != nil { // token length, unused: fields are self-delimiting
		return SQLError{}, err
	}
	number, err := p.c.int32()
	if err != nil {
		return SQLError{}, err
	}
	state, err := p.c.byte()
	if err != nil {
		return SQLError{}, err
	}
	class, err := p.c.byte()
	if err != nil {
		return SQLError{}, err
	}
	message, err := p.c.usVarChar()
	if err != nil {
		return SQLError{}, err
	}
	server, err := p.c.bVarChar()
	if err != nil {
		return SQLError{}, err
	}
	proc, err := p.c.bVarChar()
	if err != nil {
		return SQLError{}, err
	}
	line, err := p.c.int32()
	if err != nil {
		return SQLError{}, err
	}
	return SQLError{
		Number:     number,
		State:      state,
		Class:      class,
		Message:    message,
		ServerName: server,
		ProcName:   proc,
		LineNumber: line,
	}, nil
}

func (p *Parser) parseEnvChange() (EnvChange, error) {
	length, err := p.c.uint16()
	if err != nil {
		return EnvChange{}, err
	}
	body, err := p.c.bytes(int(length))
	if err != nil {
		return EnvChange{}, err
	}
	sub := cursor{b: body}
	typByte, err := sub.byte()
	if err != nil {
		return EnvChange{}, err
	}
	ec := EnvChange{Type: EnvChangeType(typByte)}

	if ec.Type == EnvChangeRouting {
		// ROUTING carries a differently-shaped body: a 2-byte data length, a
		// 1-byte protocol, a 2-byte port, then a US_VARCHAR server name.
		if _, err := sub.uint16(); err != nil {
			return ec, err
		}
		proto, err := sub.byte()
		if err != nil {
			return ec, err
		}
		port, err := sub.uint16()
		if err != nil {
			return ec, err
		}
		server, err := sub.usVarChar()
		if err != nil {
			return ec, err
		}
		ec.RouteProtocol = proto
		ec.RoutePort = port
		ec.RouteServer = server
		return ec, nil
	}

	// Every non-routing sub-type carries new/old values as B_VARBYTE
	// (1-byte length + raw bytes); string sub-types interpret those bytes as
	// UTF-16LE.
	if sub.remaining() > 0 {
		newLen, err := sub.byte()
		if err != nil {
			return ec, err
		}
		newVal, err := sub.bytes(int(newLen))
		if err != nil {
			return ec, err
		}
		ec.NewValue = newVal
	}
	if sub.remaining() > 0 {
		oldLen, err := sub.byte()
		if err != nil {
			return ec, err
		}
		oldVal, err := sub.bytes(int(oldLen))
		if err != nil {
			return ec, err
		}
		ec.OldValue = oldVal
	}

	switch ec.Type {
	case EnvChangeDatabase, EnvChangeLanguage, EnvChangeCharset, EnvChangeUserName:
		if len(ec.NewValue) > 0 {
			if s, err := decodeUTF16LEString(ec.NewValue); err == nil {
				ec.NewValueString = s
			}
		}
		if len(ec.OldValue) > 0 {
			if s, err := decodeUTF16LEString(ec.OldValue); err == nil {
				ec.OldValueString = s
			}
		}
	}
	return ec, nil
}

func (p *Parser) parseLoginAck() (LoginAck, error) {
	if _, err := p.c.uint16(); err != nil { // token length
		return LoginAck{}, err
	}
	iface, err := p.c.byte()
	if err != nil {
		return LoginAck{}, err
	}
	tdsVer, err := p.c.uint32()
	if err != nil {
		return LoginAck{}, err
	}
	prog, err := p.c.bVarChar()
	if err != nil {
		return LoginAck{}, err
	}
	maj, err := p.c.byte()
	if err != nil {
		return LoginAck{}, err
	}
	min, err := p.c.byte()
	if err != nil {
		return LoginAck{}, err
	}
	bhi, err := p.c.byte()
	if err != nil {
		return LoginAck{}, err
	}
	blo, err := p.c.byte()
	if err != nil {
		return LoginAck{}, err
	}
	return LoginAck{
		Interface:  iface,
		TDSVersion: tdsVer,
		ProgName:   prog,
		MajorVer:   maj,
		MinorVer:   min,
		BuildNumHi: bhi,
		BuildNumLo: blo,
	}, nil
}

func (p *Parser) parseOrder() ([]uint16, error) {
	length, err := p.c.uint16()
	if err != nil {
		return nil, err
	}
	count := int(length) / 2
	out := make([]uint16, count)
	for i := range out {
		v, err := p.c.uint16()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
