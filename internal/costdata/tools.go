package costdata

import (
	"context"

	"github.com/Vini334/healthcost-copilot/internal/tool"
)

// 成本分析工具的名称,与执行器能力表保持一致。
const (
	ToolCostSummary    = "get_cost_summary"
	ToolCostByCategory = "get_cost_by_category"
	ToolCostTrend      = "get_cost_trend"
	ToolTopProcedures  = "get_top_procedures"
)

// RegisterTools 把成本分析工具注册进注册表。
func RegisterTools(registry *tool.Registry, provider Provider) {
	contractParams := []tool.Parameter{
		{Name: "client_id", Type: "string", Description: "identificador do cliente", Required: true},
		{Name: "contract_id", Type: "string", Description: "identificador do contrato", Required: true},
	}

	registry.Register(tool.Definition{
		Name:        ToolCostSummary,
		Description: "Resumo de custos e sinistralidade do contrato no período",
		Parameters: append(append([]tool.Parameter(nil), contractParams...),
			tool.Parameter{Name: "period", Type: "string", Description: "período no formato AAAA ou AAAA-MM"}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			period, _ := args["period"].(string)
			return provider.Summary(ctx, stringArg(args, "client_id"), stringArg(args, "contract_id"), period)
		},
	})

	registry.Register(tool.Definition{
		Name:        ToolCostByCategory,
		Description: "Custos do contrato detalhados por categoria de despesa",
		Parameters: append(append([]tool.Parameter(nil), contractParams...),
			tool.Parameter{Name: "period", Type: "string", Description: "período no formato AAAA ou AAAA-MM"}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			period, _ := args["period"].(string)
			return provider.ByCategory(ctx, stringArg(args, "client_id"), stringArg(args, "contract_id"), period)
		},
	})

	registry.Register(tool.Definition{
		Name:        ToolCostTrend,
		Description: "Evolução mensal dos custos do contrato",
		Parameters: append(append([]tool.Parameter(nil), contractParams...),
			tool.Parameter{Name: "months", Type: "integer", Description: "quantidade de meses", Default: 12}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return provider.Trend(ctx, stringArg(args, "client_id"), stringArg(args, "contract_id"), intArg(args, "months", 12))
		},
	})

	registry.Register(tool.Definition{
		Name:        ToolTopProcedures,
		Description: "Procedimentos de maior custo no contrato",
		Parameters: append(append([]tool.Parameter(nil), contractParams...),
			tool.Parameter{Name: "limit", Type: "integer", Description: "quantidade de procedimentos", Default: 10}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return provider.TopProcedures(ctx, stringArg(args, "client_id"), stringArg(args, "contract_id"), intArg(args, "limit", 10))
		},
	})
}

func stringArg(args map[string]any, key string) string {
	value, _ := args[key].(string)
	return value
}

func intArg(args map[string]any, key string, fallback int) int {
	switch value := args[key].(type) {
	case int:
		return value
	case float64:
		return int(value)
	default:
		return fallback
	}
}
