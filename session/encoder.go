package session

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/tokutei-learning/tokutei/backend"
)

const snapshotFormatVersionCurrent = 1

const (
	flagAuthenticated byte = 1 << iota
	flagUser
	flagProfile
)

// ErrInvalidVersion is returned by Decode for records written by an unknown
// format version.
var ErrInvalidVersion = errors.New("invalid snapshot version")

// Encode serializes s:
//
//	version u8 | flags u8 | access u16+bytes | refresh u16+bytes |
//	expiresAt i64 | savedAt i64 | [user u32+json] | [profile u32+json]
func Encode(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(snapshotFormatVersionCurrent)

	var flags byte
	if s.IsAuthenticated {
		flags |= flagAuthenticated
	}
	if s.User != nil {
		flags |= flagUser
	}
	if s.Profile != nil {
		flags |= flagProfile
	}
	buf.WriteByte(flags)

	if err := writeShort(&buf, s.AccessToken, "access token"); err != nil {
		return nil, err
	}
	if err := writeShort(&buf, s.RefreshToken, "refresh token"); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, unixNano(s.ExpiresAt)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, unixNano(s.SavedAt)); err != nil {
		return nil, err
	}

	if s.User != nil {
		if err := writeJSON(&buf, s.User); err != nil {
			return nil, fmt.Errorf("encode user: %w", err)
		}
	}
	if s.Profile != nil {
		if err := writeJSON(&buf, s.Profile); err != nil {
			return nil, fmt.Errorf("encode profile: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Snapshot, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != snapshotFormatVersionCurrent {
		return nil, ErrInvalidVersion
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s := &Snapshot{IsAuthenticated: flags&flagAuthenticated != 0}

	if s.AccessToken, err = readShort(reader); err != nil {
		return nil, err
	}
	if s.RefreshToken, err = readShort(reader); err != nil {
		return nil, err
	}

	var expiresAt, savedAt int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &savedAt); err != nil {
		return nil, err
	}
	s.ExpiresAt = fromUnixNano(expiresAt)
	s.SavedAt = fromUnixNano(savedAt)

	if flags&flagUser != 0 {
		var u backend.User
		if err := readJSON(reader, &u); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		s.User = &u
	}
	if flags&flagProfile != 0 {
		var p backend.Profile
		if err := readJSON(reader, &p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		s.Profile = &p
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in snapshot")
	}
	return s, nil
}

func writeShort(buf *bytes.Buffer, s, what string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%s too long", what)
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readShort(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

func readJSON(r *bytes.Reader, v any) error {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return err
	}
	if int64(n) > int64(r.Len()) {
		return io.ErrUnexpectedEOF
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
