package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/capture"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer"
)

// ErrorCode 表示流水线错误类型代码
type ErrorCode string

const (
	// DEVICE_UNAVAILABLE 采集设备无法打开
	DEVICE_UNAVAILABLE ErrorCode = "DEVICE_UNAVAILABLE"

	// DEVICE_LOST 录制过程中采集设备断开
	DEVICE_LOST ErrorCode = "DEVICE_LOST"

	// RECOGNITION_TIMEOUT 识别调用超时（重试耗尽）
	RECOGNITION_TIMEOUT ErrorCode = "RECOGNITION_TIMEOUT"

	// RECOGNITION_FAILED 识别调用失败（重试耗尽或不可重试）
	RECOGNITION_FAILED ErrorCode = "RECOGNITION_FAILED"

	// DEDUP_MISS 预期存在重叠但未找到满足阈值的对齐，非错误信号
	DEDUP_MISS ErrorCode = "DEDUP_MISS"

	// BUFFER_OVERFLOW 环形缓冲区溢出丢帧，非致命
	BUFFER_OVERFLOW ErrorCode = "BUFFER_OVERFLOW"

	// INVALID_STATE 当前状态不允许该操作
	INVALID_STATE ErrorCode = "INVALID_STATE"

	// INTERNAL 未归类错误
	INTERNAL ErrorCode = "INTERNAL"
)

// PipelineError 表示流水线错误
type PipelineError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error 实现 error 接口
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现错误链支持
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError 创建新的流水线错误
func NewPipelineError(code ErrorCode, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewDeviceUnavailableError 创建设备不可用错误
func NewDeviceUnavailableError(cause error) *PipelineError {
	return NewPipelineError(DEVICE_UNAVAILABLE, "capture device could not be opened", cause)
}

// NewDeviceLostError 创建设备丢失错误
func NewDeviceLostError(cause error) *PipelineError {
	return NewPipelineError(DEVICE_LOST, "capture device lost during session", cause)
}

// NewInvalidStateError 创建状态非法错误
func NewInvalidStateError(op string, state State) *PipelineError {
	return NewPipelineError(INVALID_STATE, fmt.Sprintf("cannot %s while %s", op, state), nil)
}

// NewRecognitionError 根据识别结果创建超时或失败错误
func NewRecognitionError(chunkID uint64, cause error) *PipelineError {
	code := RECOGNITION_FAILED
	if errors.Is(cause, recognizer.ErrRecognitionTimeout) {
		code = RECOGNITION_TIMEOUT
	}
	return NewPipelineError(code, fmt.Sprintf("chunk %d not recognized", chunkID), cause)
}

// CodeOf 返回错误对应的错误码，无法识别时返回 INTERNAL
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	switch {
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return DEVICE_UNAVAILABLE
	case errors.Is(err, capture.ErrDeviceLost):
		return DEVICE_LOST
	case errors.Is(err, recognizer.ErrRecognitionTimeout):
		return RECOGNITION_TIMEOUT
	case errors.Is(err, recognizer.ErrRecognitionFailed):
		return RECOGNITION_FAILED
	}
	return INTERNAL
}

// captureError 将采集层错误归类为流水线错误
func captureError(err error) *PipelineError {
	if errors.Is(err, capture.ErrDeviceUnavailable) {
		return NewDeviceUnavailableError(err)
	}
	return NewDeviceLostError(err)
}
