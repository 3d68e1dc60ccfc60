package demux

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/esplay/internal/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type delivery struct {
	data []byte
	meta media.FrameMetadata
}

// client records demuxer callbacks.
type client struct {
	mu       sync.Mutex
	configs  chan media.DemuxerConfigs
	data     chan delivery
	seeks    chan time.Duration
	duration chan time.Duration
	ranges   []media.RangeSet
	order    []string
}

func newClient() *client {
	return &client{
		configs:  make(chan media.DemuxerConfigs, 1),
		data:     make(chan delivery, 1024),
		seeks:    make(chan time.Duration, 8),
		duration: make(chan time.Duration, 1),
	}
}

func (c *client) record(ev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append(c.order, ev)
}

func (c *client) OnConfigsAvailable(configs media.DemuxerConfigs) {
	c.configs <- configs
}

func (c *client) OnDataAvailable(buf *media.Ownership, meta media.FrameMetadata) {
	c.record("data")
	var data []byte
	if buf != nil {
		if b := buf.Take(); b != nil {
			data = b.Bytes()
			b.Release()
		}
	}
	c.data <- delivery{data: data, meta: meta}
}

func (c *client) OnSeekDone(actual time.Duration) {
	c.record("seek")
	c.seeks <- actual
}

func (c *client) OnDurationChanged(d time.Duration) {
	c.duration <- d
}

func (c *client) OnBufferedRangesChanged(ranges media.RangeSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ranges = append(c.ranges, ranges)
}

func (c *client) lastRange() media.RangeSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ranges) == 0 {
		return media.RangeSet{}
	}
	return c.ranges[len(c.ranges)-1]
}

func writeStream(t *testing.T, opts GenerateOptions) (string, GeneratedStream) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.ts")
	f, err := os.Create(path)
	require.NoError(t, err)
	gen, err := Generate(f, opts)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return path, gen
}

func startDemuxer(t *testing.T, path string) (*TSDemuxer, *client, media.DemuxerConfigs) {
	t.Helper()
	d := NewTSDemuxer(path, TSDemuxerConfig{Logger: testLogger()})
	c := newClient()
	require.NoError(t, d.Initialize(c))
	t.Cleanup(func() { _ = d.Close() })

	select {
	case configs := <-c.configs:
		return d, c, configs
	case <-time.After(5 * time.Second):
		t.Fatal("configs never announced")
		return nil, nil, media.DemuxerConfigs{}
	}
}

func next(t *testing.T, d *TSDemuxer, c *client, st media.StreamType) delivery {
	t.Helper()
	d.RequestDemuxerData(st)
	select {
	case got := <-c.data:
		return got
	case <-time.After(5 * time.Second):
		t.Fatalf("no %s data delivered", st)
		return delivery{}
	}
}

func waitSeek(t *testing.T, c *client) time.Duration {
	t.Helper()
	select {
	case actual := <-c.seeks:
		return actual
	case <-time.After(5 * time.Second):
		t.Fatal("seek never completed")
		return 0
	}
}

func drain(t *testing.T, d *TSDemuxer, c *client, st media.StreamType) []media.FrameMetadata {
	t.Helper()
	var metas []media.FrameMetadata
	for i := 0; i < 10000; i++ {
		got := next(t, d, c, st)
		if got.meta.EndOfStream {
			assert.Nil(t, got.data)
			return metas
		}
		assert.Equal(t, got.meta.Size, len(got.data))
		metas = append(metas, got.meta)
	}
	t.Fatal("stream never ended")
	return nil
}

func TestGenerate_Validation(t *testing.T) {
	var buf bytes.Buffer
	_, err := Generate(&buf, GenerateOptions{})
	assert.Error(t, err)

	_, err = Generate(&buf, GenerateOptions{Duration: time.Second})
	assert.Error(t, err, "no tracks")

	gen, err := Generate(&buf, DefaultGenerateOptions())
	require.NoError(t, err)
	assert.Equal(t, 50, gen.VideoFrames)
	assert.Equal(t, []time.Duration{0, time.Second}, gen.KeyFrames)
	assert.NotZero(t, buf.Len())
	assert.Zero(t, buf.Len()%188, "whole TS packets")
}

func TestTSDemuxer_Configs(t *testing.T) {
	path, gen := writeStream(t, DefaultGenerateOptions())
	_, _, configs := startDemuxer(t, path)

	require.NotNil(t, configs.Video)
	assert.Equal(t, "h264", configs.Video.Codec)
	assert.Equal(t, gen.Width, configs.Video.Width)
	assert.Equal(t, gen.Height, configs.Video.Height)
	assert.NotEmpty(t, configs.Video.CodecData)

	require.NotNil(t, configs.Audio)
	assert.Equal(t, "aac", configs.Audio.Codec)
	assert.Equal(t, 48000, configs.Audio.SampleRate)
	assert.Equal(t, 2, configs.Audio.ChannelCount)
}

func TestTSDemuxer_DeliversAllFrames(t *testing.T) {
	path, gen := writeStream(t, DefaultGenerateOptions())
	d, c, _ := startDemuxer(t, path)

	video := drain(t, d, c, media.StreamVideo)
	require.Len(t, video, gen.VideoFrames)
	assert.Equal(t, time.Duration(0), video[0].Timestamp, "timestamps start at zero")
	assert.True(t, video[0].KeyFrame)
	assert.True(t, video[25].KeyFrame)
	assert.False(t, video[1].KeyFrame)
	for i := 1; i < len(video); i++ {
		assert.Greater(t, video[i].Timestamp, video[i-1].Timestamp)
		assert.Equal(t, 40*time.Millisecond, video[i].Duration)
	}
	assert.Equal(t, 40*time.Millisecond, video[0].Duration)

	audio := drain(t, d, c, media.StreamAudio)
	require.Len(t, audio, gen.AudioFrames)
	assert.Equal(t, media.FromTicks(1920), audio[0].Duration)

	last := c.lastRange()
	assert.Equal(t, time.Duration(0), last.Ranges()[0].Start)
	assert.GreaterOrEqual(t, last.End(), 2*time.Second)

	stats, err := d.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(gen.VideoFrames), stats.Delivered["video"])
}

func TestTSDemuxer_DurationScan(t *testing.T) {
	path, _ := writeStream(t, DefaultGenerateOptions())
	_, c, _ := startDemuxer(t, path)

	select {
	case d := <-c.duration:
		assert.InDelta(t, float64(2*time.Second), float64(d), float64(30*time.Millisecond))
	case <-time.After(5 * time.Second):
		t.Fatal("duration never reported")
	}
}

func TestTSDemuxer_SeekLandsOnKeyFrame(t *testing.T) {
	path, _ := writeStream(t, DefaultGenerateOptions())
	d, c, _ := startDemuxer(t, path)

	d.RequestDemuxerSeek(500 * time.Millisecond)
	assert.Equal(t, time.Second, waitSeek(t, c))

	v := next(t, d, c, media.StreamVideo)
	assert.Equal(t, time.Second, v.meta.Timestamp)
	assert.True(t, v.meta.KeyFrame)

	a := next(t, d, c, media.StreamAudio)
	assert.GreaterOrEqual(t, a.meta.Timestamp, time.Second)
	assert.Less(t, a.meta.Timestamp, time.Second+50*time.Millisecond)

	assert.Equal(t, time.Second, c.lastRange().Ranges()[0].Start)
}

func TestTSDemuxer_SeekPastLastKeyFrame(t *testing.T) {
	path, _ := writeStream(t, DefaultGenerateOptions())
	d, c, _ := startDemuxer(t, path)

	d.RequestDemuxerSeek(1500 * time.Millisecond)
	assert.Equal(t, time.Second, waitSeek(t, c), "falls back to the last key frame before the target")
}

func TestTSDemuxer_AudioOnlySeek(t *testing.T) {
	opts := DefaultGenerateOptions()
	opts.FrameRate = 0
	path, _ := writeStream(t, opts)
	d, c, configs := startDemuxer(t, path)
	assert.Nil(t, configs.Video)

	d.RequestDemuxerSeek(time.Second)
	actual := waitSeek(t, c)
	assert.GreaterOrEqual(t, actual, time.Second)
	assert.Less(t, actual, time.Second+25*time.Millisecond)

	a := next(t, d, c, media.StreamAudio)
	assert.Equal(t, actual, a.meta.Timestamp)
}

func TestTSDemuxer_DataBeforeSeekIsAnsweredFirst(t *testing.T) {
	path, _ := writeStream(t, DefaultGenerateOptions())
	d, c, _ := startDemuxer(t, path)

	d.RequestDemuxerData(media.StreamVideo)
	d.RequestDemuxerSeek(time.Second)
	waitSeek(t, c)
	<-c.data

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, []string{"data", "seek"}, c.order)
}

func TestTSDemuxer_FlowPaused(t *testing.T) {
	d := NewTSDemuxer("unused.ts", TSDemuxerConfig{Logger: testLogger()})
	assert.False(t, d.FlowPaused(media.StreamVideo))
	d.SetFlowPaused(media.StreamVideo, true)
	assert.True(t, d.FlowPaused(media.StreamVideo))
	assert.False(t, d.FlowPaused(media.StreamAudio))
	d.SetFlowPaused(media.StreamType(9), true)
	assert.NoError(t, d.Close(), "close before initialize")
}

func TestTSDemuxer_MissingFile(t *testing.T) {
	d := NewTSDemuxer(filepath.Join(t.TempDir(), "missing.ts"), TSDemuxerConfig{Logger: testLogger()})
	assert.Error(t, d.Initialize(newClient()))
}
