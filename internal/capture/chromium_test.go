package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureRequiresURLAndOutput(t *testing.T) {
	err := CapturePreviewPNG(context.Background(), Options{OutputPath: "/tmp/x.png"})
	assert.ErrorIs(t, err, ErrNoURL)

	err = CapturePreviewPNG(context.Background(), Options{URL: "http://127.0.0.1/preview/comebacks"})
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{URL: "http://x", OutputPath: "out.png", Height: 1000}
	require.NoError(t, o.normalize())
	assert.Equal(t, DefaultWidth, o.Width)
	assert.Equal(t, 1000, o.Height)
	assert.Equal(t, DefaultTimeout, o.Timeout)

	o = Options{URL: "http://x", OutputPath: "out.png", Timeout: time.Second}
	require.NoError(t, o.normalize())
	assert.Equal(t, time.Second, o.Timeout)
}
