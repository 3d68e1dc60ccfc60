// Package demux provides the MPEG-TS file demuxer that feeds a pipeline
// controller, plus a synthetic stream generator used by tests and the
// generate command.
package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/esplay/internal/codec"
	"github.com/jmylchreest/esplay/internal/media"
	"github.com/jmylchreest/esplay/internal/observability"
	"github.com/jmylchreest/esplay/internal/player"
)

// ErrNoTracks is returned when a file carries no track the demuxer can feed.
var ErrNoTracks = errors.New("no supported tracks")

const (
	// defaultVideoDelta is used for the first video frame duration until a
	// second frame arrives (25 fps).
	defaultVideoDelta = media.Timescale / 25
	// rangeStep is how far parsing must advance before a new buffered
	// range is reported.
	rangeStep = 250 * time.Millisecond
)

// TSDemuxerConfig configures the TS demuxer.
type TSDemuxerConfig struct {
	Logger *slog.Logger
	// SkipDurationScan disables the background scan that finds the file
	// duration.
	SkipDurationScan bool
}

type queuedFrame struct {
	data []byte
	meta media.FrameMetadata
}

// TSDemuxer demuxes an MPEG-TS file for a pipeline controller. Requests are
// executed in order on a single worker, so data requested before a seek is
// delivered before that seek completes.
type TSDemuxer struct {
	path   string
	config TSDemuxerConfig
	logger *slog.Logger

	worker *player.Loop
	client player.DemuxerClient
	cancel context.CancelFunc
	scanWG sync.WaitGroup

	flowPaused [media.NumStreamTypes]atomic.Bool
	closeOnce  sync.Once

	// Worker state.
	file   *os.File
	reader *mpegts.Reader
	tracks *trackSet
	eof    bool

	basePTS     int64
	baseSet     bool
	lastVideo   *sample
	videoDelta  int64
	queues      [media.NumStreamTypes][]queuedFrame
	trackEnd    [media.NumStreamTypes]time.Duration
	eosQueued   [media.NumStreamTypes]bool
	rangeStart  time.Duration
	rangeEnd    time.Duration
	seekTarget  time.Duration
	seeking     bool
	seekHeld    []queuedFrame
	lastKeyAt   time.Duration
	haveLastKey bool
	delivered   [media.NumStreamTypes]uint64
}

// NewTSDemuxer creates a demuxer for the file at path. Nothing is opened
// until Initialize.
func NewTSDemuxer(path string, config TSDemuxerConfig) *TSDemuxer {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &TSDemuxer{
		path:       path,
		config:     config,
		logger:     observability.WithComponent(config.Logger, "demux"),
		worker:     player.NewLoop(),
		videoDelta: defaultVideoDelta,
	}
}

// Initialize opens the file and reads the program tables. Configs are
// announced from the worker once the first frames have been parsed.
func (d *TSDemuxer) Initialize(client player.DemuxerClient) error {
	if d.client != nil {
		return fmt.Errorf("demuxer already initialized")
	}
	if err := d.open(); err != nil {
		return err
	}
	if !d.tracks.has(media.StreamVideo) && !d.tracks.has(media.StreamAudio) {
		d.file.Close()
		return fmt.Errorf("opening %s: %w", d.path, ErrNoTracks)
	}
	d.client = client

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.worker.Run(ctx)
	d.worker.Post(d.announceConfigs)

	if !d.config.SkipDurationScan {
		d.scanWG.Add(1)
		go func() {
			defer d.scanWG.Done()
			d.scanDuration(ctx)
		}()
	}
	return nil
}

// RequestDemuxerData queues a request for the next frame of t.
func (d *TSDemuxer) RequestDemuxerData(t media.StreamType) {
	d.worker.Post(func() { d.deliver(t) })
}

// RequestDemuxerSeek queues a seek. Requests issued before it are answered
// first.
func (d *TSDemuxer) RequestDemuxerSeek(t time.Duration) {
	d.worker.Post(func() { d.seek(t) })
}

// SetFlowPaused records backpressure from the controller.
func (d *TSDemuxer) SetFlowPaused(t media.StreamType, paused bool) {
	if !t.Valid() {
		return
	}
	if d.flowPaused[t].Swap(paused) != paused {
		d.logger.Debug("flow control changed",
			slog.String("stream", t.String()),
			slog.Bool("paused", paused))
	}
}

// FlowPaused reports whether the controller has paused the flow of t.
func (d *TSDemuxer) FlowPaused(t media.StreamType) bool {
	return t.Valid() && d.flowPaused[t].Load()
}

// Close stops the worker and the duration scan and closes the file.
func (d *TSDemuxer) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.cancel == nil {
			return
		}
		d.cancel()
		d.worker.Stop()
		<-d.worker.Done()
		d.scanWG.Wait()
		if d.file != nil {
			err = d.file.Close()
			d.file = nil
		}
	})
	return err
}

func (d *TSDemuxer) open() error {
	f, err := os.Open(d.path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", d.path, err)
	}
	r := &mpegts.Reader{R: f}
	if err := r.Initialize(); err != nil {
		f.Close()
		return fmt.Errorf("initializing mpegts reader: %w", err)
	}
	r.OnDecodeError(func(err error) {
		d.logger.Debug("mpegts decode error", slog.String("error", err.Error()))
	})

	ts := newTrackSet(d.logger, d.onSample)
	ts.attach(r)

	if d.file != nil {
		d.file.Close()
	}
	d.file, d.reader, d.tracks = f, r, ts
	d.eof = false
	d.lastVideo = nil
	return nil
}

// readMore advances the reader by one step. It returns false once the file
// is exhausted.
func (d *TSDemuxer) readMore() bool {
	if d.eof {
		return false
	}
	err := d.reader.Read()
	if err == nil {
		return true
	}
	if !isEOF(err) {
		d.logger.Warn("mpegts read failed, treating as end of stream",
			slog.String("error", err.Error()))
	}
	d.finish()
	return false
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, astits.ErrNoMorePackets)
}

// finish flushes the held-back video frame and queues end-of-stream for every
// attached track.
func (d *TSDemuxer) finish() {
	d.eof = true
	if d.lastVideo != nil {
		last := *d.lastVideo
		last.duration = d.videoDelta
		d.lastVideo = nil
		d.enqueue(last)
	}
	end := d.rangeEnd
	for _, t := range media.StreamTypes {
		if !d.tracks.has(t) || d.eosQueued[t] {
			continue
		}
		d.eosQueued[t] = true
		d.queues[t] = append(d.queues[t], queuedFrame{
			meta: media.FrameMetadata{Type: t, Timestamp: d.trackEnd[t], EndOfStream: true},
		})
		end = max(end, d.trackEnd[t])
	}
	d.reportRange(end, true)
}

// onSample runs inside reader.Read on the worker.
func (d *TSDemuxer) onSample(s sample) {
	if !d.baseSet {
		d.basePTS = s.pts
		d.baseSet = true
	}
	if s.streamType != media.StreamVideo {
		d.enqueue(s)
		return
	}
	if prev := d.lastVideo; prev != nil {
		if delta := s.pts - prev.pts; delta > 0 {
			d.videoDelta = delta
		}
		prev.duration = d.videoDelta
		d.enqueue(*prev)
	}
	d.lastVideo = &s
}

func (d *TSDemuxer) timestamp(pts int64) time.Duration {
	ts := media.FromTicks(pts - d.basePTS)
	if ts < 0 {
		return 0
	}
	return ts
}

func (d *TSDemuxer) enqueue(s sample) {
	qf := queuedFrame{
		data: s.data,
		meta: media.FrameMetadata{
			Type:      s.streamType,
			Size:      len(s.data),
			Timestamp: d.timestamp(s.pts),
			Duration:  media.FromTicks(s.duration),
			KeyFrame:  s.keyFrame,
		},
	}
	if d.seeking && !d.admitSeekFrame(qf) {
		return
	}
	if s.streamType == media.StreamAudio && qf.meta.Timestamp < d.rangeStart {
		return
	}
	t := s.streamType
	d.queues[t] = append(d.queues[t], qf)
	if end := qf.meta.Timestamp + qf.meta.Duration; end > d.trackEnd[t] {
		d.trackEnd[t] = end
	}
	d.reportRange(d.parsedEnd(), false)
}

// admitSeekFrame filters frames while a seek looks for its landing point:
// the first video key frame at or after the target, or the first audio
// frame for audio-only files. Audio at or after the target is held until
// the landing point is known.
func (d *TSDemuxer) admitSeekFrame(qf queuedFrame) bool {
	ts := qf.meta.Timestamp
	hasVideo := d.tracks.has(media.StreamVideo)

	switch {
	case qf.meta.Type == media.StreamVideo && qf.meta.KeyFrame && ts < d.seekTarget:
		d.lastKeyAt, d.haveLastKey = ts, true
		return false
	case ts < d.seekTarget:
		return false
	case qf.meta.Type == media.StreamAudio && hasVideo:
		d.seekHeld = append(d.seekHeld, qf)
		return false
	case qf.meta.Type == media.StreamVideo && !qf.meta.KeyFrame:
		return false
	}

	d.seeking = false
	d.seekTarget = ts
	d.rangeStart, d.rangeEnd = ts, ts
	held := d.seekHeld
	d.seekHeld = nil
	for _, h := range held {
		if h.meta.Timestamp >= ts {
			d.queues[media.StreamAudio] = append(d.queues[media.StreamAudio], h)
			d.trackEnd[media.StreamAudio] = max(d.trackEnd[media.StreamAudio], h.meta.Timestamp+h.meta.Duration)
		}
	}
	return true
}

// parsedEnd is the point up to which every unfinished track has been parsed.
func (d *TSDemuxer) parsedEnd() time.Duration {
	end := time.Duration(-1)
	for _, t := range media.StreamTypes {
		if !d.tracks.has(t) || d.eosQueued[t] {
			continue
		}
		if end < 0 || d.trackEnd[t] < end {
			end = d.trackEnd[t]
		}
	}
	if end < 0 {
		return d.rangeEnd
	}
	return end
}

func (d *TSDemuxer) reportRange(end time.Duration, force bool) {
	if d.seeking || end < d.rangeStart {
		return
	}
	if !force && end-d.rangeEnd < rangeStep {
		return
	}
	d.rangeEnd = end
	d.client.OnBufferedRangesChanged(media.NewRangeSet(media.TimeRange{Start: d.rangeStart, End: end}))
}

// announceConfigs parses until every attached track has produced a frame,
// then reports the stream configurations.
func (d *TSDemuxer) announceConfigs() {
	var video *media.StreamConfig
	if d.tracks.has(media.StreamVideo) {
		video = d.discoverVideoConfig()
	}
	if d.tracks.has(media.StreamAudio) {
		for len(d.queues[media.StreamAudio]) == 0 && d.readMore() {
		}
	}

	configs := media.DemuxerConfigs{Video: video, Audio: d.tracks.audioStreamConfig()}
	attrs := []any{slog.String("path", d.path)}
	if video != nil {
		attrs = append(attrs,
			slog.String("video_codec", video.Codec),
			slog.Int("width", video.Width),
			slog.Int("height", video.Height))
	}
	if configs.Audio != nil {
		attrs = append(attrs,
			slog.String("audio_codec", configs.Audio.Codec),
			slog.Int("sample_rate", configs.Audio.SampleRate))
	}
	d.logger.Info("stream configs available", attrs...)
	d.client.OnConfigsAvailable(configs)
}

// discoverVideoConfig reads until an access unit carrying parameter sets is
// queued. Files without parameter sets get a config with unknown dimensions.
func (d *TSDemuxer) discoverVideoConfig() *media.StreamConfig {
	cfg := &media.StreamConfig{Type: media.StreamVideo, Codec: d.tracks.videoCodec.String()}
	scanned := 0
	for {
		q := d.queues[media.StreamVideo]
		for ; scanned < len(q); scanned++ {
			au, err := splitAnnexB(q[scanned].data)
			if err != nil {
				continue
			}
			params, err := codec.ExtractVideoParams(d.tracks.videoCodec, au)
			if err != nil {
				continue
			}
			cfg.Width, cfg.Height = params.Width, params.Height
			cfg.CodecData = joinAnnexB(params.ParameterSets)
			return cfg
		}
		if !d.readMore() {
			d.logger.Warn("no video parameter sets found",
				slog.String("codec", cfg.Codec))
			return cfg
		}
	}
}

// deliver answers one data request.
func (d *TSDemuxer) deliver(t media.StreamType) {
	if !t.Valid() || !d.tracks.has(t) {
		d.client.OnDataAvailable(nil, media.FrameMetadata{Type: t, EndOfStream: true})
		return
	}
	for len(d.queues[t]) == 0 && d.readMore() {
	}
	if len(d.queues[t]) == 0 {
		d.client.OnDataAvailable(nil, media.FrameMetadata{Type: t, Timestamp: d.trackEnd[t], EndOfStream: true})
		return
	}

	qf := d.queues[t][0]
	d.queues[t][0] = queuedFrame{}
	d.queues[t] = d.queues[t][1:]
	if qf.meta.EndOfStream {
		d.logger.Debug("end of stream", slog.String("stream", t.String()))
		d.client.OnDataAvailable(nil, qf.meta)
		return
	}
	d.delivered[t]++
	d.logger.Log(context.Background(), observability.LevelTrace, "delivering frame",
		slog.String("stream", t.String()),
		slog.Duration("pts", qf.meta.Timestamp),
		slog.Int("size", len(qf.data)))
	d.client.OnDataAvailable(media.NewOwnership(media.NewOwnedBuffer(qf.data)), qf.meta)
}

// seek reopens the file and parses forward to the landing point.
func (d *TSDemuxer) seek(target time.Duration) {
	start := time.Now()
	actual := d.seekTo(target)
	if d.seeking && d.haveLastKey {
		// Nothing to land on at or after the target; use the last key frame
		// before it.
		actual = d.seekTo(d.lastKeyAt)
	}
	if d.seeking {
		d.seeking = false
		d.seekHeld = nil
		actual = target
	}
	d.rangeStart = actual
	d.rangeEnd = actual
	d.reportRange(max(actual, d.parsedEnd()), true)

	d.logger.Debug("demuxer seek complete",
		slog.Duration("target", target),
		slog.Duration("actual", actual),
		slog.Duration("took", time.Since(start)))
	d.client.OnSeekDone(actual)
}

func (d *TSDemuxer) seekTo(target time.Duration) time.Duration {
	for i := range d.queues {
		d.queues[i] = nil
		d.trackEnd[i] = 0
		d.eosQueued[i] = false
	}
	d.seeking = true
	d.seekTarget = target
	d.seekHeld = nil
	d.haveLastKey = false

	if err := d.open(); err != nil {
		observability.WithError(d.logger, err).Error("reopening for seek failed")
		d.eof = true
		d.finish()
		return target
	}
	for d.seeking && d.readMore() {
	}
	return d.seekTarget
}

// scanDuration reads the whole file on its own reader and reports the
// duration of the longest track.
func (d *TSDemuxer) scanDuration(ctx context.Context) {
	f, err := os.Open(d.path)
	if err != nil {
		d.logger.Warn("duration scan failed", slog.String("error", err.Error()))
		return
	}
	defer f.Close()

	r := &mpegts.Reader{R: f}
	if err := r.Initialize(); err != nil {
		d.logger.Warn("duration scan failed", slog.String("error", err.Error()))
		return
	}
	r.OnDecodeError(func(error) {})

	var (
		base, videoLast, end int64
		baseSet              bool
		videoDelta           int64 = defaultVideoDelta
		haveVideo            bool
	)
	ts := newTrackSet(d.logger, func(s sample) {
		if !baseSet {
			base, baseSet = s.pts, true
		}
		if s.streamType == media.StreamVideo {
			if haveVideo && s.pts-videoLast > 0 {
				videoDelta = s.pts - videoLast
			}
			videoLast, haveVideo = s.pts, true
			end = max(end, s.pts+videoDelta)
			return
		}
		end = max(end, s.pts+s.duration)
	})
	ts.attach(r)

	for ctx.Err() == nil {
		if err := r.Read(); err != nil {
			if !isEOF(err) {
				d.logger.Debug("duration scan stopped early", slog.String("error", err.Error()))
			}
			break
		}
	}
	if ctx.Err() != nil || !baseSet {
		return
	}
	duration := media.FromTicks(end - base)
	d.logger.Debug("duration scan complete", slog.Duration("duration", duration))
	d.client.OnDurationChanged(duration)
}

// Stats is a snapshot of demuxer counters.
type Stats struct {
	Path       string            `json:"path"`
	Delivered  map[string]uint64 `json:"delivered"`
	FlowPaused map[string]bool   `json:"flow_paused"`
}

// Stats returns demuxer counters. It waits for the worker.
func (d *TSDemuxer) Stats(ctx context.Context) (Stats, error) {
	s := Stats{
		Path:       d.path,
		Delivered:  make(map[string]uint64),
		FlowPaused: make(map[string]bool),
	}
	for _, t := range media.StreamTypes {
		s.FlowPaused[t.String()] = d.FlowPaused(t)
	}
	err := d.worker.Do(ctx, func() {
		for _, t := range media.StreamTypes {
			s.Delivered[t.String()] = d.delivered[t]
		}
	})
	return s, err
}
