package reader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestParseUIDResponse(t *testing.T) {
	uid, ok := ParseUIDResponse([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0x90, 0x00})
	require.True(t, ok)
	assert.Equal(t, "AABBCCDD", uid)

	_, ok = ParseUIDResponse([]byte{0x6A, 0x81})
	assert.False(t, ok)

	_, ok = ParseUIDResponse([]byte{0x90, 0x00})
	assert.False(t, ok, "empty payload is not a uid")

	_, ok = ParseUIDResponse([]byte{0x01, 0x02, 0x63, 0x00})
	assert.False(t, ok)
}

func TestNormalizeUID(t *testing.T) {
	uid, err := NormalizeUID(" aa:bb:cc:dd ")
	require.NoError(t, err)
	assert.Equal(t, "AABBCCDD", uid)

	for _, bad := range []string{"", "ABC", "ZZZZZZZZ"} {
		_, err := NormalizeUID(bad)
		assert.Error(t, err, bad)
	}
}

func TestPreferContactless(t *testing.T) {
	names := []string{"ACS ACR122U 01 00", "Broadcom Corp Contactless SmartCard 0", "Broadcom Corp Contacted SmartCard 0"}
	assert.Equal(t, []string{"Broadcom Corp Contactless SmartCard 0"}, preferContactless(names))

	plain := []string{"b reader", "a reader"}
	assert.Equal(t, []string{"a reader", "b reader"}, preferContactless(plain))
}

func TestVirtualReader(t *testing.T) {
	ctx := context.Background()
	v := NewVirtual()

	res, err := v.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, StatusNoCard, res[0].Status)

	require.NoError(t, v.Tap("aabbccdd"))
	assert.Error(t, v.Tap("xyz"))
	v.Fail(errors.New("usb unplugged"))

	res, err = v.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res[0].Status)

	res, err = v.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{ReaderID: VirtualID, Status: StatusCard, UID: "AABBCCDD"}, res[0])

	res, err = v.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusNoCard, res[0].Status)
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(Config{Type: "bluetooth"})
	assert.Error(t, err)

	r, err := New(Config{Type: "virtual"})
	require.NoError(t, err)
	assert.IsType(t, &Virtual{}, r)
}

type fakePort struct {
	serial.Port
	chunks [][]byte
	err    error
	closed bool
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) Read(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if len(p.chunks) == 0 {
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	p.chunks = p.chunks[1:]
	return n, nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestSerialReadsLines(t *testing.T) {
	port := &fakePort{chunks: [][]byte{[]byte("2297"), []byte("951A\r\n"), []byte("garbage\n")}}
	s := NewSerial("/dev/ttyFAKE", 0)
	s.open = func(string, *serial.Mode) (serial.Port, error) { return port, nil }
	ctx := context.Background()

	res, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusNoCard, res[0].Status, "partial line")

	res, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{ReaderID: "/dev/ttyFAKE", Status: StatusCard, UID: "2297951A"}, res[0])

	res, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusNoCard, res[0].Status, "invalid line ignored")
}

func TestSerialReopensAfterFailure(t *testing.T) {
	opens := 0
	broken := &fakePort{err: errors.New("device gone")}
	s := NewSerial("/dev/ttyFAKE", 9600)
	s.open = func(string, *serial.Mode) (serial.Port, error) {
		opens++
		if opens == 1 {
			return nil, errors.New("busy")
		}
		return broken, nil
	}
	ctx := context.Background()

	res, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res[0].Status)

	res, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res[0].Status)
	assert.True(t, broken.closed)
	assert.Nil(t, s.port)
	assert.Equal(t, 2, opens)
}
