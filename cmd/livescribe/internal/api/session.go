package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/orchestrator"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/transcript"
)

var errStopTimeout = errors.New("stop is still draining")

// SessionStatus is the GET /session payload.
type SessionStatus struct {
	SessionID     string             `json:"session_id,omitempty"`
	State         orchestrator.State `json:"state"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	Segments      int                `json:"segments"`
	Finalized     bool               `json:"finalized"`
	OverflowCount uint64             `json:"overflow_count"`
	Error         string             `json:"error,omitempty"`
	ErrorCode     string             `json:"error_code,omitempty"`
}

func (s *Server) status() SessionStatus {
	st := SessionStatus{
		State:         s.pipeline.State(),
		OverflowCount: s.pipeline.OverflowCount(),
	}
	if sess := s.pipeline.Session(); sess != nil {
		started := sess.StartedAt()
		st.SessionID = sess.ID()
		st.StartedAt = &started
		st.Segments = sess.Len()
		st.Finalized = sess.Finalized()
	}
	if err := s.pipeline.Err(); err != nil {
		st.Error = err.Error()
		st.ErrorCode = string(orchestrator.CodeOf(err))
	}
	return st
}

// handleStart 开始新会话
// POST /api/v1/session/start
func (s *Server) handleStart(c *gin.Context) {
	id, err := s.pipeline.Start()
	if err != nil {
		s.logger.Warn("start rejected", "session_id", id, "error", err)
		pipelineErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, s.status())
}

// handlePause 暂停录制
// POST /api/v1/session/pause
func (s *Server) handlePause(c *gin.Context) {
	if err := s.pipeline.Pause(); err != nil {
		pipelineErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, s.status())
}

// handleResume 恢复录制
// POST /api/v1/session/resume
func (s *Server) handleResume(c *gin.Context) {
	if err := s.pipeline.Resume(); err != nil {
		pipelineErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, s.status())
}

// handleStop 停止会话并等待排空
// POST /api/v1/session/stop
func (s *Server) handleStop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.stopTimeout)
	defer cancel()

	err := s.pipeline.Stop(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		pipelineErrorResponse(c, fmt.Errorf("%w: %w", errStopTimeout, err))
		return
	case orchestrator.CodeOf(err) == orchestrator.INVALID_STATE:
		pipelineErrorResponse(c, err)
		return
	}
	// a session that ended Errored still reports its status
	c.JSON(http.StatusOK, s.status())
}

// handleStatus 返回会话状态
// GET /api/v1/session
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

// handleSegments 返回序号大于 since 的片段
// GET /api/v1/session/segments?since=N
func (s *Server) handleSegments(c *gin.Context) {
	sess := s.pipeline.Session()
	if sess == nil {
		notFoundResponse(c, "session")
		return
	}
	var since uint64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequestResponse(c, "since must be a non-negative integer")
			return
		}
		since = v
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID(),
		"state":      s.pipeline.State(),
		"segments":   sess.Since(since),
	})
}

// handleTranscript 按格式渲染完整转写
// GET /api/v1/session/transcript?format=text|jsonl|srt
func (s *Server) handleTranscript(c *gin.Context) {
	sess := s.pipeline.Session()
	if sess == nil {
		notFoundResponse(c, "session")
		return
	}
	format, err := transcript.ParseFormat(c.DefaultQuery("format", string(transcript.FormatText)))
	if err != nil {
		badRequestResponse(c, err.Error())
		return
	}

	contentType := "text/plain; charset=utf-8"
	if format == transcript.FormatJSONL {
		contentType = "application/x-ndjson"
	}
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	w := transcript.NewWriter(c.Writer, format)
	for _, seg := range sess.Segments() {
		if err := w.Write(seg); err != nil {
			s.logger.Warn("transcript write failed", "session_id", sess.ID(), "error", err)
			return
		}
	}
}

// handleRecognizerStatus 返回识别后端健康状态
// GET /api/v1/recognizer/status
func (s *Server) handleRecognizerStatus(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"health_check": "disabled"})
		return
	}
	c.JSON(http.StatusOK, s.health.GetStatus())
}
