package nic

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exok/internal/pci"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	f := pci.NewFunc(0, 3, 0, VendorIntel, DeviceE1000, 128*1024)
	dev, err := Attach(f, logrus.New())
	require.NoError(t, err)
	t.Cleanup(dev.Close)
	return dev
}

func TestDeviceAttachEnablesFunc(t *testing.T) {
	dev := newTestDevice(t)
	assert.True(t, dev.Func.Enabled())
}

func TestDeviceTrySendIsDrainedInBackground(t *testing.T) {
	dev := newTestDevice(t)
	n := dev.TrySend([]byte("ping"))
	require.Equal(t, 4, n)

	select {
	case payload := <-dev.Sent:
		assert.Equal(t, []byte("ping"), payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for background drain")
	}
}

func TestDeviceInjectThenTryRecv(t *testing.T) {
	dev := newTestDevice(t)
	require.True(t, dev.Inject([]byte("inbound")))

	buf := make([]byte, 32)
	n := dev.TryRecv(buf)
	assert.Equal(t, 7, n)
	assert.Equal(t, []byte("inbound"), buf[:n])
}

func TestDeviceTryRecvEmptyReturnsZero(t *testing.T) {
	dev := newTestDevice(t)
	buf := make([]byte, 32)
	assert.Equal(t, 0, dev.TryRecv(buf))
}
