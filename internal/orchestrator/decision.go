package orchestrator

import (
	"github.com/Vini334/healthcost-copilot/internal/agent"
)

// Mode 是一次请求的执行策略。
type Mode string

const (
	ModeDirect     Mode = "direct"
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
	ModeMixed      Mode = "mixed"
)

// Decision 描述编排器对一次请求的完整决策。
// GatherSet 显式声明混合模式下先行并行的数据收集执行器,
// 不再在调度器里硬编码。
type Decision struct {
	Intent     Intent       `json:"intent"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
	Executors  []agent.Kind `json:"executors"`
	Mode       Mode         `json:"mode"`
	Priority   []agent.Kind `json:"priority"`
	GatherSet  []agent.Kind `json:"gather_set,omitempty"`
}

// 意图到执行器集合的映射,顺序即优先级。
var intentExecutors = map[Intent][]agent.Kind{
	IntentContractQuery:   {agent.KindRetrieval, agent.KindContractAnalyst},
	IntentCostAnalysis:    {agent.KindCostInsights},
	IntentNegotiation:     {agent.KindRetrieval, agent.KindCostInsights, agent.KindNegotiationAdvisor},
	IntentCostAndContract: {agent.KindRetrieval, agent.KindContractAnalyst, agent.KindCostInsights},
	IntentGeneral:         {agent.KindRetrieval, agent.KindContractAnalyst},
}

// negotiationGatherSet 是谈判意图下先行收集数据的执行器。
var negotiationGatherSet = []agent.Kind{agent.KindRetrieval, agent.KindCostInsights}

// Decide 把分类结果展开为执行决策。
func Decide(classification Classification) Decision {
	executors, ok := intentExecutors[classification.Intent]
	if !ok {
		executors = intentExecutors[IntentGeneral]
	}

	decision := Decision{
		Intent:     classification.Intent,
		Confidence: classification.Confidence,
		Reasoning:  classification.Reasoning,
		Executors:  append([]agent.Kind(nil), executors...),
		Priority:   append([]agent.Kind(nil), executors...),
	}

	switch {
	case len(executors) == 1:
		decision.Mode = ModeDirect
	case classification.Intent == IntentNegotiation:
		decision.Mode = ModeMixed
		decision.GatherSet = append([]agent.Kind(nil), negotiationGatherSet...)
	default:
		decision.Mode = ModeSequential
	}
	return decision
}
