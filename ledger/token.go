package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const tokenFormatVersionCurrent = 1

const (
	flagUsed    = 0x01
	flagRevoked = 0x02
)

// Token defines a public type used by warden APIs.
//
// Token instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Token struct {
	// Hash keys the record in Redis. It is never part of the encoded value.
	Hash [32]byte

	ID          string
	UserID      string
	Family      string
	Fingerprint string
	UserAgent   string
	IP          string

	IssuedAt  time.Time
	ExpiresAt time.Time

	Used    bool
	Revoked bool
}

// Active reports whether the record can still redeem a refresh at now.
func (t *Token) Active(now time.Time) bool {
	return !t.Used && !t.Revoked && t.ExpiresAt.After(now)
}

// Encode serializes a token record into the binary value format.
//
// Layout (version 1): version byte, flags byte, issuedAt and expiresAt as
// big-endian unix seconds, then length-prefixed ID, UserID, Family,
// Fingerprint, UserAgent, IP. The fixed 18-byte header lets the store's Lua
// scripts read flags and expiry without parsing the variable tail.
func Encode(t *Token) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenFormatVersionCurrent)

	var flags byte
	if t.Used {
		flags |= flagUsed
	}
	if t.Revoked {
		flags |= flagRevoked
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, uint64(t.IssuedAt.Unix())); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint64(t.ExpiresAt.Unix())); err != nil {
		return nil, err
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"id", t.ID},
		{"userID", t.UserID},
		{"family", t.Family},
		{"fingerprint", t.Fingerprint},
		{"userAgent", t.UserAgent},
		{"ip", t.IP},
	} {
		if len(field.value) > 255 {
			return nil, errors.New(field.name + " too long")
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	return buf.Bytes(), nil
}

// Decode parses the binary value format. The caller supplies the record's
// key hash separately since it is not part of the value.
func Decode(data []byte) (*Token, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenFormatVersionCurrent {
		return nil, errors.New("invalid token record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if flags&^(flagUsed|flagRevoked) != 0 {
		return nil, errors.New("invalid token record flags")
	}

	t := &Token{
		Used:    flags&flagUsed != 0,
		Revoked: flags&flagRevoked != 0,
	}

	var issuedAt, expiresAt uint64
	if err := binary.Read(reader, binary.BigEndian, &issuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}
	t.IssuedAt = time.Unix(int64(issuedAt), 0).UTC()
	t.ExpiresAt = time.Unix(int64(expiresAt), 0).UTC()

	for _, target := range []*string{
		&t.ID,
		&t.UserID,
		&t.Family,
		&t.Fingerprint,
		&t.UserAgent,
		&t.IP,
	} {
		fieldLen, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		raw := make([]byte, fieldLen)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*target = string(raw)
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in token record")
	}

	return t, nil
}
