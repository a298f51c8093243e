package popup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_DeliversURL(t *testing.T) {
	window := NewWindow(time.Second)

	errs := make(chan error, 1)
	go func() {
		errs <- window.Open(context.Background(), "https://github.com/login/oauth/authorize?state=abc")
	}()

	select {
	case url := <-window.URLs():
		assert.Equal(t, "https://github.com/login/oauth/authorize?state=abc", url)
	case <-time.After(time.Second):
		t.Fatal("url not delivered")
	}
	require.NoError(t, <-errs)
}

func TestWindow_NoViewer(t *testing.T) {
	window := NewWindow(10 * time.Millisecond)

	err := window.Open(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, ErrNoViewer)
}

func TestWindow_ContextCancelled(t *testing.T) {
	window := NewWindow(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := window.Open(ctx, "https://example.com")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWindow_DefaultHandoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, NewWindow(0).handoff)
}

func TestOpenerFunc(t *testing.T) {
	var got string
	opener := OpenerFunc(func(_ context.Context, url string) error {
		got = url
		return nil
	})

	require.NoError(t, opener.Open(context.Background(), "https://example.com/consent"))
	assert.Equal(t, "https://example.com/consent", got)
}
