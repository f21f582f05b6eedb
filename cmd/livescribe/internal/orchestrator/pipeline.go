// Package orchestrator 运行连续转写流水线。
// 采集写入环形缓冲，单个调度协程切分音频并把片段派发给有界的识别并发池，
// 识别结果按片段顺序经过文本对齐和说话人标注后写入会话转写。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/capture"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/transcript"
	"github.com/houzhh15/livescribe/pkg/logger"
	"github.com/houzhh15/livescribe/pkg/metrics"
)

// Deps 流水线依赖的组件
type Deps struct {
	Source     capture.Source
	Recognizer recognizer.Recognizer

	// Finalizer 在正常停止后接收会话，可选
	Finalizer transcript.Finalizer
	// OnError 在会话以 Errored 结束时调用一次，可选
	OnError func(sessionID string, err error)

	Logger *slog.Logger
}

// finalizeTimeout Finalizer 调用的超时时间
const finalizeTimeout = 30 * time.Second

// Pipeline 管理会话生命周期。同一时间只运行一个会话，
// 上一个会话 Stopped 或 Errored 后才能开始新会话。所有方法都可并发调用。
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	err      error
	session  *transcript.Session
	run      *run
	segments *transcript.Dispatcher[transcript.Segment]
	events   *transcript.Dispatcher[Event]
}

// New 校验配置并返回处于 Idle 状态的流水线
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if deps.Source == nil {
		return nil, errors.New("pipeline: capture source is required")
	}
	if deps.Recognizer == nil {
		return nil, errors.New("pipeline: recognizer is required")
	}
	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.OrDefault(deps.Logger).With("component", "pipeline"),
		state:    StateIdle,
		segments: transcript.NewDispatcher[transcript.Segment](),
		events:   transcript.NewDispatcher[Event](),
	}, nil
}

// State 返回当前生命周期状态
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err 返回 Errored 会话的错误原因，否则为 nil
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Session 返回当前或上一个会话，首次 Start 之前为 nil
func (p *Pipeline) Session() *transcript.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// OverflowCount 返回当前或上一个会话中环形缓冲丢弃的帧数
func (p *Pipeline) OverflowCount() uint64 {
	p.mu.Lock()
	r := p.run
	p.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.ring.OverflowCount()
}

// Subscribe 订阅正在运行会话的输出片段，没有会话运行时订阅下一个会话。
// 会话结束时通道关闭。
func (p *Pipeline) Subscribe() *transcript.Subscription[transcript.Segment] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.segments.Subscribe()
}

// SubscribeEvents 订阅会话事件，语义同 Subscribe
func (p *Pipeline) SubscribeEvents() *transcript.Subscription[Event] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events.Subscribe()
}

// Done 返回当前会话结束时关闭的通道，没有会话运行时通道已关闭
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.run.done
}

// Start 创建会话、打开采集源并开始录音，返回会话 ID。
// 设备无法打开时会话以 DEVICE_UNAVAILABLE 进入 Errored。
func (p *Pipeline) Start() (string, error) {
	p.mu.Lock()
	if !p.state.canStart() {
		st := p.state
		p.mu.Unlock()
		return "", NewInvalidStateError("start", st)
	}

	session := transcript.NewSession()
	p.session = session
	p.err = nil
	p.run = nil
	log := p.logger.With("session_id", session.ID())

	stream, err := p.deps.Source.Open()
	if err != nil {
		perr := NewDeviceUnavailableError(err)
		log.Error("failed to open capture source", "source", p.deps.Source.Name(), "error", err)
		session.Finalize()
		p.state = StateErrored
		p.err = perr
		p.events.Publish(Event{Type: EventState, Time: time.Now(), SessionID: session.ID(), State: StateErrored})
		p.events.Publish(Event{Type: EventError, Time: time.Now(), SessionID: session.ID(), Code: perr.Code, Message: perr.Error()})
		p.rotateDispatchersLocked()
		p.mu.Unlock()
		if p.deps.OnError != nil {
			p.deps.OnError(session.ID(), perr)
		}
		return session.ID(), perr
	}

	if p.cfg.ArchiveDir != "" {
		path := filepath.Join(p.cfg.ArchiveDir, session.ID()+".wav")
		archived, aerr := capture.WithArchive(stream, path, log)
		if aerr != nil {
			log.Warn("session archive disabled", "path", path, "error", aerr)
		} else {
			stream = archived
		}
	}

	r := newRun(p, session, stream, log)
	p.run = r
	p.state = StateRecording
	p.mu.Unlock()

	metrics.SessionStarted()
	r.publish(Event{Type: EventState, State: StateRecording})
	log.Info("recording started", "source", p.deps.Source.Name(), "recognizer", p.deps.Recognizer.Name(),
		"concurrency", p.cfg.Concurrency, "ring_frames", r.ring.Cap())

	go r.capture()
	go r.loop()
	return session.ID(), nil
}

// Pause 暂停读取新音频，已切出的片段继续识别
func (p *Pipeline) Pause() error {
	return p.command(cmdPause, "pause", StateRecording)
}

// Resume 在 Pause 之后恢复读取音频
func (p *Pipeline) Resume() error {
	return p.command(cmdResume, "resume", StatePaused)
}

// Stop 结束采集，排空已切出的片段，并等待会话结束或 ctx 超时。
// 排空时间受识别超时限制。已在停止中的会话（例如输入结束）直接等待。
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	r, st := p.run, p.state
	p.mu.Unlock()

	if r == nil || !stateIn(st, []State{StateRecording, StatePaused, StateStopping}) {
		return NewInvalidStateError("stop", st)
	}
	// 输入结束可能与 stop 请求同时发生，会话已结束时直接等待结果
	if err := p.command(cmdStop, "stop", StateRecording, StatePaused, StateStopping); err != nil && !r.ended() {
		return err
	}
	select {
	case <-r.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait 阻塞到当前会话结束并返回快照。Errored 会话返回已有的部分转写和错误原因。
func (p *Pipeline) Wait(ctx context.Context) (transcript.Snapshot, error) {
	p.mu.Lock()
	r, session, st := p.run, p.session, p.state
	p.mu.Unlock()

	if session == nil {
		return transcript.Snapshot{}, NewInvalidStateError("wait", st)
	}
	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return transcript.Snapshot{}, ctx.Err()
		}
	}
	return session.Snapshot(), p.Err()
}

func (p *Pipeline) command(kind commandKind, op string, allowed ...State) error {
	p.mu.Lock()
	r, st := p.run, p.state
	p.mu.Unlock()

	if r == nil || !stateIn(st, allowed) {
		return NewInvalidStateError(op, st)
	}
	reply := make(chan error, 1)
	select {
	case r.cmds <- command{kind: kind, reply: reply}:
	case <-r.done:
		return NewInvalidStateError(op, p.State())
	}
	return <-reply
}

func stateIn(s State, set []State) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// setState 记录调度协程做出的状态转换
func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// endRun 把流水线置为终止状态并释放订阅者。
// finalizer 和错误回调执行完毕后，终止状态才对外可见。
func (p *Pipeline) endRun(r *run, final State, cause error) {
	r.session.Finalize()
	metrics.SessionEnded()

	r.publish(Event{Type: EventState, State: final})
	if cause != nil {
		r.publish(Event{Type: EventError, Code: CodeOf(cause), Message: cause.Error()})
	}

	if final == StateStopped && p.deps.Finalizer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		if err := p.deps.Finalizer.Finalize(ctx, r.session.Snapshot()); err != nil {
			r.logger.Error("session finalizer failed", "error", err)
		}
		cancel()
	}
	if cause != nil && p.deps.OnError != nil {
		p.deps.OnError(r.session.ID(), cause)
	}

	p.mu.Lock()
	p.state = final
	p.err = cause
	p.rotateDispatchersLocked()
	p.mu.Unlock()
	close(r.done)
}

// rotateDispatchersLocked 关闭本会话的订阅流，并为下一个会话创建新的订阅流
func (p *Pipeline) rotateDispatchersLocked() {
	p.segments.Close()
	p.events.Close()
	p.segments = transcript.NewDispatcher[transcript.Segment]()
	p.events = transcript.NewDispatcher[Event]()
}
