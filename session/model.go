package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const recordVersionV1 = 1

const (
	flagActive        = 1 << 0
	flagTwoFactorDone = 1 << 1
)

// DeviceInfo is the typed client descriptor attached to a session. It is
// serialized only at the storage edge.
type DeviceInfo struct {
	UserAgent string
	Platform  string
}

// Record is a durable session row.
type Record struct {
	SessionID     string
	IdentityID    string
	IP            string
	Device        DeviceInfo
	Active        bool
	TwoFactorDone bool
	CreatedAt     int64
	ExpiresAt     int64
	LastSeenAt    int64
}

// Expired reports whether the record's expiry has lapsed at now.
func (r *Record) Expired(now time.Time) bool {
	return now.Unix() >= r.ExpiresAt
}

// Live reports whether the record is active and unexpired at now.
func (r *Record) Live(now time.Time) bool {
	return r.Active && !r.Expired(now)
}

func encodeRecord(r *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)

	var flags byte
	if r.Active {
		flags |= flagActive
	}
	if r.TwoFactorDone {
		flags |= flagTwoFactorDone
	}
	buf.WriteByte(flags)

	for _, ts := range []int64{r.CreatedAt, r.ExpiresAt, r.LastSeenAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	for _, s := range []string{r.SessionID, r.IdentityID, r.IP, r.Device.UserAgent, r.Device.Platform} {
		if len(s) > 65535 {
			return nil, errors.New("session field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid session record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	r := &Record{
		Active:        flags&flagActive != 0,
		TwoFactorDone: flags&flagTwoFactorDone != 0,
	}

	for _, ts := range []*int64{&r.CreatedAt, &r.ExpiresAt, &r.LastSeenAt} {
		if err := binary.Read(reader, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	for _, s := range []*string{&r.SessionID, &r.IdentityID, &r.IP, &r.Device.UserAgent, &r.Device.Platform} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*s = string(raw)
	}

	return r, nil
}
