package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Vini334/healthcost-copilot/internal/llm"
	"github.com/Vini334/healthcost-copilot/pkg/logger"
)

// Intent 是一次用户请求被归入的意图类别。
type Intent string

const (
	IntentContractQuery   Intent = "contract_query"
	IntentCostAnalysis    Intent = "cost_analysis"
	IntentNegotiation     Intent = "negotiation"
	IntentCostAndContract Intent = "cost_and_contract"
	IntentGeneral         Intent = "general"
)

// 关键词命中的置信度换算:base + step*命中数,封顶 cap。
const (
	keywordConfidenceBase = 0.5
	keywordConfidenceStep = 0.1
	keywordConfidenceCap  = 0.9
	compositeConfidence   = 0.7
	generalConfidence     = 0.3
)

// defaultConfidenceThreshold 低于该置信度时升级到模型分类。
const defaultConfidenceThreshold = 0.6

// 意图关键词表。比较在小写化后进行,带与不带重音的变体都要列出。
var intentKeywords = map[Intent][]string{
	IntentContractQuery: {
		"contrato", "cláusula", "clausula", "carência", "carencia",
		"cobertura", "coberturas", "prazo", "reembolso", "rede credenciada",
		"coparticipação", "coparticipacao", "vigência", "vigencia",
		"exclusão", "exclusao", "apólice", "apolice", "beneficiário", "beneficiario",
	},
	IntentCostAnalysis: {
		"custo", "custos", "gasto", "gastos", "sinistralidade", "despesa",
		"despesas", "valor", "valores", "fatura", "mensalidade", "utilização",
		"utilizacao", "consumo", "procedimento", "procedimentos", "reajuste",
	},
	IntentNegotiation: {
		"renegociar", "renegociação", "renegociacao", "negociar", "negociação",
		"negociacao", "economizar", "economia", "reduzir", "redução", "reducao",
		"desconto", "proposta", "alternativa",
	},
}

// Classification 是意图识别的输出。
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// IntentClassifier 先用关键词匹配,置信度不足时升级到模型分类。
// 分类永不失败:模型不可用或输出不可解析时退回关键词结果。
type IntentClassifier struct {
	llmClient llm.Client
	threshold float64
}

// NewIntentClassifier 创建意图分类器。threshold <= 0 时使用默认阈值。
func NewIntentClassifier(llmClient llm.Client, threshold float64) *IntentClassifier {
	if threshold <= 0 {
		threshold = defaultConfidenceThreshold
	}
	return &IntentClassifier{llmClient: llmClient, threshold: threshold}
}

// Classify 识别请求意图。
func (c *IntentClassifier) Classify(ctx context.Context, query string) Classification {
	keyword := classifyByKeywords(query)
	if keyword.Confidence >= c.threshold || c.llmClient == nil {
		return keyword
	}

	refined, ok := c.classifyByLLM(ctx, query)
	if !ok {
		logger.Named("orchestrator").Debug("模型分类不可用,沿用关键词结果",
			"intent", string(keyword.Intent), "confidence", keyword.Confidence)
		return keyword
	}
	return refined
}

// classifyByKeywords 按关键词命中数打分。
func classifyByKeywords(query string) Classification {
	lowered := strings.ToLower(query)

	scores := make(map[Intent]int, len(intentKeywords))
	for intent, keywords := range intentKeywords {
		for _, keyword := range keywords {
			if strings.Contains(lowered, keyword) {
				scores[intent]++
			}
		}
	}

	best, bestScore := IntentGeneral, 0
	tied := []Intent{}
	for intent, score := range scores {
		switch {
		case score > bestScore:
			best, bestScore = intent, score
			tied = []Intent{intent}
		case score == bestScore && score > 0:
			tied = append(tied, intent)
		}
	}

	if bestScore == 0 {
		return Classification{
			Intent:     IntentGeneral,
			Confidence: generalConfidence,
			Reasoning:  "nenhuma palavra-chave reconhecida",
		}
	}

	if len(tied) > 1 {
		// 平分的处理:含谈判意图时谈判优先,契约+成本合并为复合意图。
		if containsIntent(tied, IntentNegotiation) {
			return Classification{
				Intent:     IntentNegotiation,
				Confidence: compositeConfidence,
				Reasoning:  "empate entre intenções com componente de negociação",
			}
		}
		if containsIntent(tied, IntentContractQuery) && containsIntent(tied, IntentCostAnalysis) {
			return Classification{
				Intent:     IntentCostAndContract,
				Confidence: compositeConfidence,
				Reasoning:  "pergunta combina contrato e custos",
			}
		}
	}

	confidence := keywordConfidenceBase + keywordConfidenceStep*float64(bestScore)
	if confidence > keywordConfidenceCap {
		confidence = keywordConfidenceCap
	}
	return Classification{
		Intent:     best,
		Confidence: confidence,
		Reasoning:  "classificação por palavras-chave",
	}
}

// classifyByLLM 用模型做结构化分类。第二个返回值表示结果是否可用。
func (c *IntentClassifier) classifyByLLM(ctx context.Context, query string) (Classification, bool) {
	response, err := c.llmClient.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: classifyPrompt},
			{Role: llm.RoleUser, Content: query},
		},
		Temperature: 0,
	})
	if err != nil {
		logger.Named("orchestrator").Warn("模型分类调用失败", "error", err)
		return Classification{}, false
	}

	var parsed Classification
	if err := json.Unmarshal([]byte(strings.TrimSpace(response.Content)), &parsed); err != nil {
		logger.Named("orchestrator").Warn("模型分类输出不可解析", "content", response.Content)
		return Classification{}, false
	}
	if !validIntent(parsed.Intent) {
		return Classification{}, false
	}
	if parsed.Confidence <= 0 || parsed.Confidence > 1 {
		parsed.Confidence = c.threshold
	}
	return parsed, true
}

func validIntent(intent Intent) bool {
	switch intent {
	case IntentContractQuery, IntentCostAnalysis, IntentNegotiation, IntentCostAndContract, IntentGeneral:
		return true
	}
	return false
}

func containsIntent(intents []Intent, target Intent) bool {
	for _, intent := range intents {
		if intent == target {
			return true
		}
	}
	return false
}

const classifyPrompt = "Você classifica perguntas de gestores de RH sobre planos de " +
	"saúde corporativos. Classifique a pergunta em uma das intenções: contract_query " +
	"(dúvidas sobre o contrato), cost_analysis (custos e sinistralidade), negotiation " +
	"(renegociação e economia), cost_and_contract (combina contrato e custos) ou " +
	"general. Responda apenas com um JSON compacto: " +
	`{"intent": string, "confidence": number, "reasoning": string}.`
