package evidence

import "context"

// 评分字段的取值优先级,靠前的字段优先作为排序依据。
var scorePriority = []string{"relevance_score", "score", "reranker_score"}

// Chunk 是检索返回的一段文档切片。
type Chunk struct {
	ID            string             `json:"id" yaml:"id"`
	Content       string             `json:"content" yaml:"content"`
	DocumentID    string             `json:"document_id" yaml:"document_id"`
	DocumentName  string             `json:"document_name" yaml:"document_name"`
	Page          int                `json:"page_number" yaml:"page_number"`
	SectionTitle  string             `json:"section_title" yaml:"section_title"`
	SectionNumber string             `json:"section_number" yaml:"section_number"`
	Scores        map[string]float64 `json:"scores" yaml:"scores"`
}

// Score 按优先级解析切片的相关性得分。全部缺失时返回 0。
func (c Chunk) Score() float64 {
	for _, field := range scorePriority {
		if value, ok := c.Scores[field]; ok {
			return value
		}
	}
	return 0
}

// SearchOptions 控制一次检索的行为。
type SearchOptions struct {
	TopK       int
	ClientID   string
	ContractID string
	Mode       string
}

// 检索模式,与检索服务暴露的算法对应。
const (
	ModeHybrid  = "hybrid"
	ModeVector  = "vector"
	ModeKeyword = "keyword"
)

// Provider 是检索服务的抽象。真实实现由外部的向量索引承担,
// 本仓库只消费该接口。
type Provider interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]Chunk, error)
	Similar(ctx context.Context, chunkID string, topK int) ([]Chunk, error)
}
