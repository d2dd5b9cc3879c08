package domain

import "errors"

// 错误分类。调用方用 errors.Is 判断类别，再映射到传输层状态码。
var (
	// ErrValidation 输入不合法（范围越界、重复 approval_order、决策树乱序作答等）
	ErrValidation = errors.New("validation error")
	// ErrAuthorization 无权操作（非指定审批人、非监控责任人、职责分离冲突）
	ErrAuthorization = errors.New("authorization error")
	// ErrNotFound 实体不存在
	ErrNotFound = errors.New("not found")
	// ErrPrecondition 前置条件未满足（审批门未打开、设备未校准、计划无工艺步骤）
	ErrPrecondition = errors.New("precondition failed")
)
