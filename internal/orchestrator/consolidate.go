package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Vini334/healthcost-copilot/internal/agent"
	xerrors "github.com/Vini334/healthcost-copilot/internal/errors"
	"github.com/Vini334/healthcost-copilot/internal/llm"
	"github.com/Vini334/healthcost-copilot/internal/trace"
)

// FallbackResponse 是没有任何执行器成功时返回的固定回复。
// 零成功是受控结果,不作为错误上报。
const FallbackResponse = "Não foi possível encontrar informações relevantes para sua " +
	"pergunta. Por favor, tente reformular ou verifique se os dados estão disponíveis " +
	"no sistema."

// consolidate 把各执行器的结果汇总为一个最终回复。
// 单个成功直接透传;多个成功交给模型做综合。
func (o *Orchestrator) consolidate(ctx context.Context, query string, decision Decision, results map[agent.Kind]*trace.Result) (string, error) {
	var successes []agent.Kind
	for _, kind := range decision.Executors {
		if result := results[kind]; result.Succeeded() {
			successes = append(successes, kind)
		}
	}

	switch len(successes) {
	case 0:
		return FallbackResponse, nil
	case 1:
		return results[successes[0]].Response, nil
	}

	var builder strings.Builder
	builder.WriteString("Pergunta do usuário: " + query + "\n\n")
	for _, kind := range successes {
		capability, err := agent.CapabilityOf(kind)
		label := string(kind)
		if err == nil {
			label = capability.DisplayName
		}
		fmt.Fprintf(&builder, "## %s\n%s\n\n", label, results[kind].Response)
	}

	response, err := o.llmClient.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: synthesisPrompt},
			{Role: llm.RoleUser, Content: builder.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeLLMFailure, err, "综合回复生成失败")
	}
	return response.Content, nil
}

// mergeSources 聚合并去重全部结果的证据来源。
// 去重键是 (documento, página, título da seção, número da seção),
// 重复时保留得分更高的一条,最终按得分降序。
func mergeSources(decision Decision, results map[agent.Kind]*trace.Result) []trace.Source {
	type key struct {
		doc     string
		page    int
		title   string
		section string
	}
	best := make(map[key]trace.Source)
	var order []key

	for _, kind := range decision.Executors {
		result := results[kind]
		if result == nil {
			continue
		}
		for _, source := range result.Sources {
			k := key{source.DocumentID, source.Page, source.SectionTitle, source.SectionNumber}
			existing, seen := best[k]
			if !seen {
				best[k] = source
				order = append(order, k)
				continue
			}
			if source.Score > existing.Score {
				best[k] = source
			}
		}
	}

	merged := make([]trace.Source, 0, len(order))
	for _, k := range order {
		merged = append(merged, best[k])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}

const synthesisPrompt = "Você é o consolidador de respostas do copiloto de planos de " +
	"saúde corporativos. Combine as respostas dos especialistas abaixo em uma única " +
	"resposta coesa em português, sem repetir informações e preservando números, " +
	"cláusulas e prazos citados. Não invente conteúdo que não esteja nas respostas."
