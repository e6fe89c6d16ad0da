package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conduit/pkg/providers"
)

func TestBridge_AccumulatesDeltasInOrder(t *testing.T) {
	src := make(chan providers.StreamDelta, 4)
	src <- providers.StreamDelta{Text: "hel"}
	src <- providers.StreamDelta{Text: "lo "}
	src <- providers.StreamDelta{Text: "world"}
	close(src)

	bridge := NewBridge()
	go bridge.Run(context.Background(), src)

	var frames []string
	for f := range bridge.Frames() {
		frames = append(frames, f.Delta)
	}
	assert.Equal(t, []string{"hel", "lo ", "world"}, frames)

	text, partial, err := bridge.Accumulated()
	require.NoError(t, err)
	assert.False(t, partial)
	assert.Equal(t, "hello world", text)
}

func TestBridge_ContinuesAccumulatingAfterConsumerStopsReading(t *testing.T) {
	src := make(chan providers.StreamDelta, 8)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		src <- providers.StreamDelta{Text: s}
	}
	close(src)

	bridge := NewBridge()
	go bridge.Run(context.Background(), src)

	// Consumer reads only the first frame, then stops — accumulation
	// must still finish.
	<-bridge.Frames()

	text, _, err := bridge.Accumulated()
	require.NoError(t, err)
	assert.Equal(t, "abcde", text)
}

func TestBridge_ProviderErrorMarksPartial(t *testing.T) {
	src := make(chan providers.StreamDelta, 2)
	src <- providers.StreamDelta{Text: "partial text"}
	src <- providers.StreamDelta{Err: assert.AnError}
	close(src)

	bridge := NewBridge()
	go bridge.Run(context.Background(), src)

	for range bridge.Frames() {
	}

	text, partial, err := bridge.Accumulated()
	assert.True(t, partial)
	assert.Error(t, err)
	assert.Equal(t, "partial text", text)
}

func TestBridge_CancellationDrainsWithoutFurtherFrames(t *testing.T) {
	src := make(chan providers.StreamDelta, 8)
	ctx, cancel := context.WithCancel(context.Background())

	bridge := NewBridge()
	go bridge.Run(ctx, src)

	src <- providers.StreamDelta{Text: "before-cancel"}
	<-bridge.Frames()

	cancel()
	time.Sleep(10 * time.Millisecond)
	src <- providers.StreamDelta{Text: "after-cancel"}
	close(src)

	_, partial, err := bridge.Accumulated()
	assert.True(t, partial)
	assert.Error(t, err)
}
