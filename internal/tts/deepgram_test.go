package tts

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// This is a smoke test for Render without an API key; it should error quickly
func TestDeepgram_Render_NoKey(t *testing.T) {
	d := NewDeepgramClient("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := d.Render(ctx, "hello", "en")
	assert.Error(t, err)
}

func TestDeepgram_Render_EmptyText(t *testing.T) {
	_, err := NewDeepgramClient("key", "").Render(context.Background(), "", "en")
	assert.ErrorIs(t, err, ErrEmptyAudio)
}

func TestPCMToWAV(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	wav := PCMToWAV(pcm, 24000, 16, 1)
	require.Len(t, wav, 48)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(40), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, wav[44:])
}
