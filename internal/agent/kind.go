package agent

import (
	"fmt"

	"github.com/Vini334/healthcost-copilot/internal/costdata"
	"github.com/Vini334/healthcost-copilot/internal/evidence"
)

// Kind 标识一类执行器。同一 Kind 的执行器共享能力表中的配置,
// 不再为每类执行器派生独立实现。
type Kind string

const (
	KindOrchestrator       Kind = "orchestrator"
	KindRetrieval          Kind = "retrieval"
	KindContractAnalyst    Kind = "contract_analyst"
	KindCostInsights       Kind = "cost_insights"
	KindNegotiationAdvisor Kind = "negotiation_advisor"
)

// Capability 描述一类执行器的静态能力。
type Capability struct {
	Kind          Kind
	DisplayName   string
	SystemPrompt  string
	Tools         []string
	Temperature   float64
	MaxTokens     int
	MaxIterations int
}

// 迭代上限来自线上调优:检索与谈判允许更长的工具链,
// 成本分析的工具面小,收敛更快。
var capabilities = map[Kind]Capability{
	KindRetrieval: {
		Kind:        KindRetrieval,
		DisplayName: "Agente de Recuperação",
		SystemPrompt: "Você é o agente de recuperação do copiloto de saúde corporativa. " +
			"Use as ferramentas de busca para localizar trechos relevantes dos documentos " +
			"do contrato do cliente. Sempre cite os trechos encontrados e nunca invente " +
			"conteúdo que não esteja nos documentos. Responda em português.",
		Tools: []string{
			evidence.ToolSearchHybrid,
			evidence.ToolSearchVector,
			evidence.ToolSearchKeyword,
			evidence.ToolFindSimilar,
		},
		Temperature:   0.1,
		MaxTokens:     2000,
		MaxIterations: 8,
	},
	KindContractAnalyst: {
		Kind:        KindContractAnalyst,
		DisplayName: "Analista de Contratos",
		SystemPrompt: "Você é um analista especializado em contratos de planos de saúde " +
			"corporativos. Analise os trechos de documentos fornecidos no contexto e " +
			"responda à pergunta do usuário com base exclusivamente neles, citando " +
			"cláusulas e seções quando disponíveis. Se a informação não estiver nos " +
			"trechos, diga isso explicitamente. Responda em português.",
		Tools:         nil, // 纯推理执行器,证据由上下文注入。
		Temperature:   0.2,
		MaxTokens:     3000,
		MaxIterations: 10,
	},
	KindCostInsights: {
		Kind:        KindCostInsights,
		DisplayName: "Analista de Custos",
		SystemPrompt: "Você é um analista de custos de saúde corporativa. Use as " +
			"ferramentas de dados para levantar custos, sinistralidade e tendências do " +
			"contrato, e apresente os números com contexto e comparações. Responda em português.",
		Tools: []string{
			costdata.ToolCostSummary,
			costdata.ToolCostByCategory,
			costdata.ToolCostTrend,
			costdata.ToolTopProcedures,
		},
		Temperature:   0.2,
		MaxTokens:     2500,
		MaxIterations: 5,
	},
	KindNegotiationAdvisor: {
		Kind:        KindNegotiationAdvisor,
		DisplayName: "Consultor de Negociação",
		SystemPrompt: "Você é um consultor de negociação de planos de saúde corporativos. " +
			"Combine as cláusulas contratuais e os dados de custo presentes no contexto " +
			"para recomendar estratégias concretas de renegociação e redução de custos. " +
			"Responda em português.",
		Tools: []string{
			evidence.ToolSearchHybrid,
			costdata.ToolCostSummary,
			costdata.ToolCostTrend,
		},
		Temperature:   0.4,
		MaxTokens:     3000,
		MaxIterations: 8,
	},
}

// CapabilityOf 返回指定执行器类型的能力配置。
func CapabilityOf(kind Kind) (Capability, error) {
	capability, ok := capabilities[kind]
	if !ok {
		return Capability{}, fmt.Errorf("执行器类型 %q 未定义", kind)
	}
	return capability, nil
}

// Kinds 返回能力表中全部可执行的类型。
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(capabilities))
	for kind := range capabilities {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Valid 报告一个类型是否在能力表中。
func (k Kind) Valid() bool {
	_, ok := capabilities[k]
	return ok
}
