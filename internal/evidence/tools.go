package evidence

import (
	"context"
	"fmt"

	"github.com/Vini334/healthcost-copilot/internal/tool"
)

// 检索类工具的名称,与执行器能力表保持一致。
const (
	ToolSearchHybrid  = "search_hybrid"
	ToolSearchVector  = "search_vector"
	ToolSearchKeyword = "search_keyword"
	ToolFindSimilar   = "find_similar_chunks"
)

// RegisterTools 把检索工具注册进注册表,全部委托给 Provider。
func RegisterTools(registry *tool.Registry, provider Provider) {
	searchParams := []tool.Parameter{
		{Name: "query", Type: "string", Description: "texto da busca", Required: true},
		{Name: "top_k", Type: "integer", Description: "número máximo de resultados", Default: 5},
	}

	register := func(name, description, mode string) {
		registry.Register(tool.Definition{
			Name:        name,
			Description: description,
			Parameters:  searchParams,
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				query, _ := args["query"].(string)
				chunks, err := provider.Search(ctx, query, SearchOptions{
					TopK: intArg(args, "top_k", 5),
					Mode: mode,
				})
				if err != nil {
					return nil, fmt.Errorf("busca %s falhou: %w", mode, err)
				}
				return chunks, nil
			},
		})
	}

	register(ToolSearchHybrid, "Busca híbrida (vetorial + palavras-chave) nos documentos do contrato", ModeHybrid)
	register(ToolSearchVector, "Busca semântica vetorial nos documentos do contrato", ModeVector)
	register(ToolSearchKeyword, "Busca exata por palavras-chave nos documentos do contrato", ModeKeyword)

	registry.Register(tool.Definition{
		Name:        ToolFindSimilar,
		Description: "Encontra trechos semelhantes a um trecho já recuperado",
		Parameters: []tool.Parameter{
			{Name: "chunk_id", Type: "string", Description: "identificador do trecho de referência", Required: true},
			{Name: "top_k", Type: "integer", Description: "número máximo de resultados", Default: 3},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			chunkID, _ := args["chunk_id"].(string)
			return provider.Similar(ctx, chunkID, intArg(args, "top_k", 3))
		},
	})
}

// intArg 容忍 JSON 解码产生的 float64 与字面 int 两种形态。
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
