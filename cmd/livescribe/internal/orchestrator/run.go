package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/align"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/capture"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/quality"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/segmenter"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/speaker"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/transcript"
	"github.com/houzhh15/livescribe/pkg/logger"
	"github.com/houzhh15/livescribe/pkg/metrics"
)

type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdStop
)

type command struct {
	kind  commandKind
	reply chan error
}

// run 表示一次会话。原子字段以下的状态只归 loop 协程所有，
// capture 协程只访问 ring、stream 和原子字段。
type run struct {
	p       *Pipeline
	cfg     Config
	session *transcript.Session
	stream  capture.Stream
	logger  *slog.Logger

	segments *transcript.Dispatcher[transcript.Segment]
	events   *transcript.Dispatcher[Event]

	ring   *audio.Ring
	client *recognizer.Client
	sem    *semaphore.Weighted

	cmds        chan command
	results     chan recognizer.Result
	captureErr  chan error
	captureDone chan struct{}
	done        chan struct{}

	paused  atomic.Bool
	closing atomic.Bool

	procCtx    context.Context
	procCancel context.CancelFunc

	seg      *segmenter.Segmenter
	target   segmenter.Params
	reorder  *reorderBuffer
	aligner  *align.Aligner
	cleaner  *align.Cleaner
	speakers *speaker.Tracker
	quality  *quality.State
	meter    *audio.LevelMeter

	pending     []segmenter.Chunk
	chunks      map[uint64]segmenter.Chunk
	outstanding int

	stopping        bool
	captureFinished bool
	expired         bool
	drainTimer      *time.Timer

	lastOverflow uint64
	levelSeen    bool
	lastLevelAt  time.Duration
}

func newRun(p *Pipeline, session *transcript.Session, stream capture.Stream, log *slog.Logger) *run {
	cfg := p.cfg
	procCtx, procCancel := context.WithCancel(context.Background())
	seg := segmenter.New(cfg.Segmenter, cfg.VAD)
	return &run{
		p:           p,
		cfg:         cfg,
		session:     session,
		stream:      stream,
		logger:      log,
		segments:    p.segments,
		events:      p.events,
		ring:        audio.NewRing(cfg.ringCapacity()),
		client:      recognizer.NewClient(p.deps.Recognizer, cfg.Recognition, log),
		sem:         semaphore.NewWeighted(int64(cfg.Concurrency)),
		cmds:        make(chan command),
		results:     make(chan recognizer.Result, cfg.Concurrency),
		captureErr:  make(chan error, 1),
		captureDone: make(chan struct{}),
		done:        make(chan struct{}),
		procCtx:     procCtx,
		procCancel:  procCancel,
		seg:         seg,
		target:      seg.Params(),
		reorder:     newReorderBuffer(cfg.Concurrency),
		aligner:     align.New(cfg.Align),
		cleaner:     align.NewCleaner(cfg.Replacements),
		speakers:    speaker.New(cfg.Speaker),
		quality:     quality.NewState(cfg.QualityWindow),
		meter:       audio.NewLevelMeter(),
		chunks:      make(map[uint64]segmenter.Chunk),
	}
}

func (r *run) publish(ev Event) {
	ev.Time = time.Now()
	ev.SessionID = r.session.ID()
	r.events.Publish(ev)
}

// capture 把 stream 中的帧写入 ring，从不等待流水线其余部分。
// ring 满时丢弃最旧的帧，capture 结束时关闭 ring。
func (r *run) capture() {
	defer close(r.captureDone)
	defer r.ring.Close()
	for {
		f, err := r.stream.ReadFrame()
		if err != nil {
			if r.closing.Load() {
				return
			}
			r.captureErr <- err
			return
		}
		if r.paused.Load() {
			continue
		}
		if r.ring.Write(f) {
			metrics.RecordChunk("capture", "dropped")
		}
	}
}

// loop 是唯一的调度协程，切分、派发、重排序、对齐和输出都在这里完成，相关状态无需加锁。
func (r *run) loop() {
	for {
		r.dispatch()
		if r.stopping && r.captureFinished && len(r.pending) == 0 && r.outstanding == 0 {
			r.finish()
			return
		}

		var captureDone <-chan struct{}
		if r.stopping && !r.captureFinished {
			captureDone = r.captureDone
		}
		var drainC <-chan time.Time
		if r.drainTimer != nil && !r.expired {
			drainC = r.drainTimer.C
		}

		select {
		case <-r.ring.Ready():
			r.drainRing()
		case res := <-r.results:
			r.onResult(res)
		case cmd := <-r.cmds:
			cmd.reply <- r.onCommand(cmd.kind)
		case err := <-r.captureErr:
			switch {
			case r.stopping:
			case errors.Is(err, io.EOF):
				r.logger.Info("capture input ended")
				r.beginStop()
			default:
				r.fail(captureError(err))
				return
			}
		case <-captureDone:
			r.captureFinished = true
			r.drainRing()
			r.flush()
		case <-drainC:
			r.expire()
		}
	}
}

func (r *run) drainRing() {
	for {
		f, ok := r.ring.TryRead()
		if !ok {
			break
		}
		r.onFrame(f)
	}
	if n := r.ring.OverflowCount(); n > r.lastOverflow {
		dropped := n - r.lastOverflow
		r.lastOverflow = n
		metrics.RecordOverflow(int(dropped))
		r.logger.Warn("ring buffer overflow, frames dropped", "dropped", dropped, "overflow_count", n)
		r.publish(Event{Type: EventOverflow, OverflowCount: n, Dropped: dropped, Code: BUFFER_OVERFLOW})
	}
}

func (r *run) onFrame(f audio.Frame) {
	level, rms := r.meter.Observe(audio.RMS(f.Samples))
	if !r.levelSeen || f.Start-r.lastLevelAt >= r.cfg.LevelInterval {
		r.levelSeen = true
		r.lastLevelAt = f.Start
		r.publish(Event{Type: EventLevel, Level: level, RMS: rms})
	}
	if c, ok := r.seg.Push(f); ok {
		r.enqueue(c)
	}
}

func (r *run) flush() {
	if c, ok := r.seg.Flush(); ok {
		r.enqueue(c)
	}
}

func (r *run) enqueue(c segmenter.Chunk) {
	metrics.RecordChunk("segmenter", string(c.Reason))
	logger.LogChunkProcessing(r.logger, "segmenter", "cut", c.ID, c.Duration().Milliseconds(), "")
	r.pending = append(r.pending, c)
}

// dispatch 在并发池有空位时为待处理片段发起识别
func (r *run) dispatch() {
	for len(r.pending) > 0 && r.sem.TryAcquire(1) {
		c := r.pending[0]
		r.pending = r.pending[1:]
		r.outstanding++

		meta := c
		meta.Samples = nil
		r.chunks[c.ID] = meta

		if r.expired {
			r.onResult(abandoned(c.ID))
			continue
		}

		req := recognizer.Request{
			ChunkID:  c.ID,
			Samples:  c.Samples,
			Format:   c.Format,
			Language: r.cfg.Language,
		}
		if r.cfg.PromptFromTail {
			req.Prompt = r.aligner.Tail()
		}
		logger.LogChunkProcessing(r.logger, "recognizer", "start", c.ID, 0, "")
		go func() {
			r.results <- r.client.Recognize(r.procCtx, req)
		}()
	}
}

func abandoned(id uint64) recognizer.Result {
	return recognizer.Result{
		ChunkID: id,
		Failed:  true,
		Err:     fmt.Errorf("%w: chunk %d abandoned at stop", recognizer.ErrRecognitionTimeout, id),
	}
}

// onResult 保存 res，并按片段顺序输出所有已就绪的结果
func (r *run) onResult(res recognizer.Result) {
	if !r.reorder.put(res) {
		r.logger.Debug("discarding late recognition result", "chunk_id", res.ChunkID)
		return
	}
	for {
		next, ok := r.reorder.pop()
		if !ok {
			return
		}
		r.outstanding--
		r.sem.Release(1)
		r.emit(next)
	}
}

func (r *run) emit(res recognizer.Result) {
	c := r.chunks[res.ChunkID]
	delete(r.chunks, res.ChunkID)

	start, end := c.SpeechStart, c.SpeechEnd
	if end <= start {
		start, end = c.ReusedUntil, c.End
	}
	r.observe(res)
	heard := c.SpeechEnd > c.SpeechStart

	if res.Failed {
		if heard {
			r.speakers.Advance(c.SpeechEnd)
		}
		perr := NewRecognitionError(res.ChunkID, res.Err)
		reason := "recognition failed"
		if res.TimedOut() {
			reason = "recognition timed out"
		}
		r.publish(Event{Type: EventChunkFailed, ChunkID: res.ChunkID, Code: perr.Code, Message: perr.Error()})
		r.append(transcript.Segment{
			Kind:    transcript.KindGap,
			Start:   transcript.Timestamp(start),
			End:     transcript.Timestamp(end),
			ChunkID: res.ChunkID,
			Failure: reason,
		}, string(perr.Code))
		return
	}

	out := r.aligner.Merge(r.cleaner.Clean(res.Text), c.ReusedSpeech)
	switch {
	case out.Duplicate:
		metrics.RecordDedup("duplicate")
		r.logger.Debug("dropping repeated text", "chunk_id", res.ChunkID)
		r.publish(Event{Type: EventDuplicate, ChunkID: res.ChunkID})
	case out.DedupMiss:
		metrics.RecordDedup("miss")
		logger.LogChunkProcessing(r.logger, "aligner", "dedup_miss", res.ChunkID, 0, string(DEDUP_MISS))
		r.publish(Event{Type: EventDedupMiss, ChunkID: res.ChunkID, Code: DEDUP_MISS})
	case out.Overlap > 0:
		metrics.RecordDedup("merged")
	default:
		metrics.RecordDedup("none")
	}
	if out.Text == "" {
		if heard {
			r.speakers.Advance(c.SpeechEnd)
		}
		return
	}

	label, turn := r.speakers.Assign(speaker.Cue{
		Start: start,
		End:   end,
		RMS:   c.SpeechRMS,
		ZCR:   c.SpeechZCR,
		Text:  out.Text,
	})
	if turn {
		r.logger.Debug("speaker turn", "chunk_id", res.ChunkID, "speaker", label)
	}
	r.append(transcript.Segment{
		Kind:       transcript.KindSpeech,
		Speaker:    label,
		Text:       out.Text,
		Start:      transcript.Timestamp(start),
		End:        transcript.Timestamp(end),
		Confidence: res.Confidence,
		ChunkID:    res.ChunkID,
		DedupMiss:  out.DedupMiss,
	}, "")
}

func (r *run) append(seg transcript.Segment, code string) {
	out, err := r.session.Append(seg)
	if err != nil {
		r.logger.Error("failed to append segment", "chunk_id", seg.ChunkID, "error", err)
		return
	}
	r.segments.Publish(out)
	metrics.RecordSegment(string(out.Kind))
	logger.LogChunkProcessing(r.logger, "aligner", "emit", out.ChunkID, 0, code)
}

// observe 把识别结果计入质量窗口，参数变化从下一个片段起生效
func (r *run) observe(res recognizer.Result) {
	r.quality.Observe(quality.Observation{
		Confidence: res.Confidence,
		Latency:    res.Latency,
		Failed:     res.Failed,
		TimedOut:   res.TimedOut(),
	})
	if !r.cfg.AdaptQuality {
		return
	}
	snap := r.quality.Snapshot()
	next := quality.Adapt(snap, r.target, r.cfg.Quality)
	if next == r.target {
		return
	}
	r.logger.Info("segmenter parameters adapted",
		"silence_threshold", next.SilenceThreshold, "max_chunk_duration", next.MaxChunkDuration,
		"overlap_duration", next.OverlapDuration, "avg_confidence", snap.AvgConfidence,
		"avg_latency", snap.AvgLatency, "failure_rate", snap.FailureRate)
	r.target = next
	r.seg.SetParams(next)
	metrics.SetQualityParam("silence_threshold", next.SilenceThreshold.Seconds())
	metrics.SetQualityParam("max_chunk_duration", next.MaxChunkDuration.Seconds())
	metrics.SetQualityParam("overlap_duration", next.OverlapDuration.Seconds())
	params := next
	r.publish(Event{Type: EventParams, Params: &params})
}

func (r *run) onCommand(kind commandKind) error {
	st := r.p.State()
	switch kind {
	case cmdPause:
		if st != StateRecording {
			return NewInvalidStateError("pause", st)
		}
		r.paused.Store(true)
		r.drainRing()
		r.flush()
		r.transition(StatePaused)
	case cmdResume:
		if st != StatePaused {
			return NewInvalidStateError("resume", st)
		}
		r.paused.Store(false)
		r.transition(StateRecording)
	case cmdStop:
		if r.stopping {
			return nil
		}
		if st != StateRecording && st != StatePaused {
			return NewInvalidStateError("stop", st)
		}
		r.beginStop()
	}
	return nil
}

// ended 报告会话是否已结束
func (r *run) ended() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *run) transition(s State) {
	r.p.setState(s)
	r.publish(Event{Type: EventState, State: s})
	r.logger.Info("pipeline state changed", "state", s)
}

// beginStop 关闭输入并启动排空计时器。capture 协程退出后，已采集的帧仍会被切分。
func (r *run) beginStop() {
	if r.stopping {
		return
	}
	r.stopping = true
	r.transition(StateStopping)
	r.closing.Store(true)
	if err := r.stream.Close(); err != nil {
		r.logger.Warn("failed to close capture stream", "error", err)
	}
	r.drainTimer = time.NewTimer(r.client.Config().Timeout)
}

// expire 在排空超时时放弃所有未完成的片段，每个片段按顺序记为超时空缺
func (r *run) expire() {
	r.expired = true
	r.procCancel()
	ids := make([]uint64, 0, len(r.chunks))
	for id := range r.chunks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	r.logger.Warn("stop drain deadline reached, abandoning chunks", "outstanding", len(ids))
	for _, id := range ids {
		if _, ok := r.chunks[id]; ok {
			r.onResult(abandoned(id))
		}
	}
}

func (r *run) finish() {
	if r.drainTimer != nil {
		r.drainTimer.Stop()
	}
	r.procCancel()
	r.logger.Info("session stopped",
		"segments", r.session.Len(), "overflow_count", r.ring.OverflowCount())
	r.p.endRun(r, StateStopped, nil)
}

// fail 以 Errored 结束会话，已输出的片段仍可读取
func (r *run) fail(perr *PipelineError) {
	r.closing.Store(true)
	r.procCancel()
	if r.drainTimer != nil {
		r.drainTimer.Stop()
	}
	_ = r.stream.Close()
	r.ring.Close()
	r.logger.Error("session failed", "code", perr.Code, "error", perr.Cause)
	r.p.endRun(r, StateErrored, perr)
}
