package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeviceRegistry(t *testing.T) {
	created := 0
	var evicted []string

	r := newDeviceRegistry(2, time.Hour, func(id string) *device {
		created++
		return &device{id: id}
	}, func(d *device) {
		evicted = append(evicted, d.id)
	})

	a, isNew := r.get("a")
	assert.True(t, isNew)
	again, isNew := r.get("a")
	assert.False(t, isNew)
	assert.Same(t, a, again)

	r.get("b")
	r.get("c")
	assert.Equal(t, 3, created)
	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, 2, r.len())

	_, ok := r.lookup("a")
	assert.False(t, ok, "lookup never creates")
	_, ok = r.lookup("c")
	assert.True(t, ok)
}

func TestDeviceRegistry_Expiry(t *testing.T) {
	r := newDeviceRegistry(10, 20*time.Millisecond, func(id string) *device {
		return &device{id: id}
	}, nil)

	first, _ := r.get("a")
	time.Sleep(50 * time.Millisecond)

	second, isNew := r.get("a")
	assert.True(t, isNew)
	assert.NotSame(t, first, second)
}

func TestDeviceTakeSignedIn(t *testing.T) {
	d := &device{}
	assert.False(t, d.takeSignedIn())

	d.signedIn.Store(true)
	assert.True(t, d.takeSignedIn())
	assert.False(t, d.takeSignedIn())
}

func TestDeviceNamespace(t *testing.T) {
	assert.Equal(t, "device:abc:", DeviceNamespace("abc"))
}
