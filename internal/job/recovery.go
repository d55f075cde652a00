package job

import (
	"context"

	"github.com/Vini334/healthcost-copilot/internal/agent"
)

// RecoveryHandler 定义了在任务执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行补偿或降级。
	// 返回的 Result 将作为降级结果写入任务;若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, j *Job, cause error) (*Result, error)
}

// DegradedRecovery 把不可重试的失败降级为一条固定的道歉回复,
// 让调用方拿到可展示的结果而不是裸错误。
type DegradedRecovery struct{}

// Recover 实现 RecoveryHandler。
func (DegradedRecovery) Recover(_ context.Context, _ *Job, _ error) (*Result, error) {
	return &Result{Response: agent.DegradedResponse}, nil
}

var _ RecoveryHandler = DegradedRecovery{}
