package source_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/vhftag/tagfinder/internal/record"
	"github.com/vhftag/tagfinder/internal/record/source"
	"github.com/vhftag/tagfinder/internal/timeutil"
)

// fakePort is an in-memory SerialPorter stub, used so tests never open
// real hardware.
type fakePort struct {
	*bytes.Reader
}

func (fakePort) Write(p []byte) (int, error) { return len(p), nil }
func (fakePort) Close() error                { return nil }

func TestPortDecodesRecords(t *testing.T) {
	data := "p1,0.0,0.0,-60,-90\np1,0.2,0.0,-60,-90\n"
	factory := func(name string, mode *serial.Mode) (source.SerialPorter, error) {
		return fakePort{bytes.NewReader([]byte(data))}, nil
	}

	p, err := source.Open("/dev/fake0", factory)
	require.NoError(t, err)
	defer p.Close()

	rec, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, record.Pulse, rec.Kind)

	_, err = p.Next()
	require.NoError(t, err)

	_, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	factory := func(name string, mode *serial.Mode) (source.SerialPorter, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("device busy")
		}
		return fakePort{bytes.NewReader(nil)}, nil
	}
	clk := timeutil.NewMockClock(time.Unix(0, 0))

	p, err := source.OpenWithRetry("/dev/fake0", factory, 5, time.Second, 10*time.Second, clk)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clk.Sleeps())
}

func TestOpenWithRetryExhaustsAttempts(t *testing.T) {
	factory := func(name string, mode *serial.Mode) (source.SerialPorter, error) {
		return nil, errors.New("no such device")
	}
	clk := timeutil.NewMockClock(time.Unix(0, 0))

	_, err := source.OpenWithRetry("/dev/fake0", factory, 3, time.Second, 10*time.Second, clk)
	assert.Error(t, err)
}
