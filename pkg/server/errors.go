package server

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind 错误类别枚举。API调用方按类别处置，不依赖错误文本。
type ErrorKind string

const (
	// ErrValidation 输入本身不合法（未知特征名、窗口颠倒等），在任何计算前被拒绝
	ErrValidation = ErrorKind("validation")
	// ErrInsufficientData 样本不足，附带实际数量供调用方决定等待还是放宽窗口
	ErrInsufficientData = ErrorKind("insufficient_data")
	// ErrQualityGate 拟合质量未达标。模型以非活跃状态落库，不是丢失
	ErrQualityGate = ErrorKind("quality_gate")
	// ErrNoActiveModel 组还没有活跃基线，属于"尚未接入"而不是系统故障
	ErrNoActiveModel = ErrorKind("no_active_model")
	// ErrNotFound 查询对象不存在
	ErrNotFound = ErrorKind("not_found")
	// ErrTransientStore 存储IO失败，后台任务下个周期重试
	ErrTransientStore = ErrorKind("transient_store")
)

// Error API层的结构化错误
type Error struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`

	// 类别相关的附加字段
	Feature         string  `json:"feature,omitempty"`
	SamplesFound    int     `json:"samplesFound,omitempty"`
	SamplesRequired int     `json:"samplesRequired,omitempty"`
	FitQuality      float64 `json:"fitQuality,omitempty"`
	Threshold       float64 `json:"threshold,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrValidation, Detail: fmt.Sprintf(format, args...)}
}

// NewUnknownFeatureError 未识别特征名错误，特征名回显在错误中
func NewUnknownFeatureError(name string, known []string) *Error {
	return &Error{
		Kind:    ErrValidation,
		Detail:  fmt.Sprintf("未识别的特征名%q，可用特征为%v", name, known),
		Feature: name,
	}
}

func NewInsufficientDataError(found, required int) *Error {
	return &Error{
		Kind:            ErrInsufficientData,
		Detail:          fmt.Sprintf("样本不足，找到%d条，需要%d条", found, required),
		SamplesFound:    found,
		SamplesRequired: required,
	}
}

func NewQualityGateError(r2, threshold float64) *Error {
	return &Error{
		Kind:       ErrQualityGate,
		Detail:     fmt.Sprintf("拟合质量未达标，R²为%.4f，要求至少%.4f，模型已按非活跃保存", r2, threshold),
		FitQuality: r2,
		Threshold:  threshold,
	}
}

func NewNoActiveModelError(groupID uint) *Error {
	return &Error{
		Kind:   ErrNoActiveModel,
		Detail: fmt.Sprintf("组%d没有活跃基线模型", groupID),
	}
}

func NewNotFoundError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrNotFound, Detail: fmt.Sprintf(format, args...)}
}

// AsError 取出错误链中的结构化错误
func AsError(err error) (*Error, bool) {
	target := &Error{}
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf 返回错误类别。非结构化错误一律视为存储瞬时错误。
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ErrTransientStore
}
