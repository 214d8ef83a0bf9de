// Package tonegen is a synthetic frame source for the demo command: it
// drives a dispatcher.Dispatcher with a procedurally generated 440 Hz tone
// and a matching GOP-structured video stream, so the demo has something to
// fan out without needing a real encoder or capture device.
package tonegen

import (
	"context"
	"encoding/binary"
	"log"
	"math"
	"time"

	"ringcast/internal/dispatcher"
)

const (
	audioFrameInterval   = 20 * time.Millisecond
	videoFrameInterval   = time.Second / 30 // 30 fps
	sampleRate           = 48000
	samplesPerAudioFrame = sampleRate * int(audioFrameInterval/time.Millisecond) / 1000
	toneHz               = 440.0
	gopLength            = 30 // key-frame every gopLength video frames
)

// Run feeds disp with audio and video frames until ctx is cancelled. It
// runs two independent tickers, matching real producers where audio and
// video are sampled on different clocks.
func Run(ctx context.Context, disp *dispatcher.Dispatcher, name string) {
	log.Printf("[%s] starting synthetic producer", name)
	defer log.Printf("[%s] stopped", name)

	audioTicker := time.NewTicker(audioFrameInterval)
	defer audioTicker.Stop()
	videoTicker := time.NewTicker(videoFrameInterval)
	defer videoTicker.Stop()

	var audioPTS, videoPTS uint64
	var sampleIdx int
	var videoFrameCount int

	for {
		select {
		case <-ctx.Done():
			return
		case <-audioTicker.C:
			disp.InputData(dispatcher.Frame{
				Kind:    dispatcher.Audio,
				PTS:     audioPTS,
				Payload: synthesizeTone(sampleIdx, samplesPerAudioFrame),
			})
			sampleIdx += samplesPerAudioFrame
			audioPTS += uint64(audioFrameInterval.Milliseconds())
		case <-videoTicker.C:
			keyFrame := videoFrameCount%gopLength == 0
			disp.InputData(dispatcher.Frame{
				Kind:     dispatcher.Video,
				PTS:      videoPTS,
				KeyFrame: keyFrame,
				Payload:  synthesizeVideoPayload(videoFrameCount, keyFrame),
			})
			videoFrameCount++
			videoPTS += uint64(videoFrameInterval.Milliseconds())
		}
	}
}

// synthesizeTone generates n little-endian int16 PCM samples of a toneHz
// sine wave starting at sample offset start.
func synthesizeTone(start, n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(start+i) / float64(sampleRate)
		v := math.Sin(2 * math.Pi * toneHz * t)
		sample := int16(v * 32767 * 0.5)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// synthesizeVideoPayload produces a deterministic placeholder payload that
// distinguishes key-frames from inter-frames and carries the frame index,
// so a receiving demo client can sanity-check ordering without a real
// decoder.
func synthesizeVideoPayload(frameIdx int, keyFrame bool) []byte {
	out := make([]byte, 5)
	if keyFrame {
		out[0] = 1
	}
	binary.BigEndian.PutUint32(out[1:], uint32(frameIdx))
	return out
}
