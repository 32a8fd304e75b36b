package icrypto

import (
	"encoding/binary"
)

const (
	aadAuditDetails = "AUDITDETAILS"
)

// AADAuditDetails binds sealed audit details to the entry they belong to,
// so a details blob cannot be replayed under another model or record.
func AADAuditDetails(eventID, model string, recordID int64, ver int) []byte {
	return buildAAD(aadAuditDetails, eventID, model, uint64(recordID), ver)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, v)
			res = append(res, b...)
		case int:
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(v))
			res = append(res, b...)
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(data)))
	b = append(b, l...)
	b = append(b, data...)
	return b
}
