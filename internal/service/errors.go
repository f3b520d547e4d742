// Package service 提供业务逻辑层的实现
package service

import (
	"errors"
	"fmt"
)

// 业务错误
var (
	ErrConversationNotFound = errors.New("会话不存在")
	ErrPairNotFound         = errors.New("消息不存在")
	ErrNoPermission         = errors.New("无权访问该资源")
	ErrInvalidInput         = errors.New("参数错误")
	ErrEmptyQuery           = fmt.Errorf("%w: 提问内容不能为空", ErrInvalidInput)
	ErrInvalidAttachment    = fmt.Errorf("%w: 附件缺少地址", ErrInvalidInput)
	ErrEmptyPrompt          = fmt.Errorf("%w: 图片描述不能为空", ErrInvalidInput)
	ErrPromptTooLong        = fmt.Errorf("%w: 图片描述过长", ErrInvalidInput)
	ErrParentMismatch       = fmt.Errorf("%w: 父消息不属于该会话", ErrInvalidInput)
	ErrImageGeneration      = errors.New("图片生成失败")
)

// 生成失败的阶段
const (
	StageUpstream  = "upstream"
	StageTimeout   = "timeout"
	StageCancelled = "cancelled"
)

// GenerationError 生成过程中的失败
// 出现该错误时不会写入任何数据
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
