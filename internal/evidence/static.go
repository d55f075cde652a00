package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// StaticProvider 从 YAML 文件加载文档切片,提供简化的本地检索。
// 用于开发与测试环境,生产检索由外部索引服务承担。
type StaticProvider struct {
	chunks     []Chunk
	maxResults int
}

// NewStaticProvider 创建静态检索实例。
func NewStaticProvider(chunks []Chunk, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &StaticProvider{
		chunks:     chunks,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 YAML 文件加载文档切片。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}

	var document struct {
		Chunks []Chunk `yaml:"chunks"`
	}
	if err := yaml.Unmarshal(content, &document); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(document.Chunks, maxResults), nil
}

// Search 以词项重叠度为分值做本地检索,结果按分值降序。
func (p *StaticProvider) Search(ctx context.Context, query string, opts SearchOptions) ([]Chunk, error) {
	if p == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = p.maxResults
	}

	type scored struct {
		chunk Chunk
		score float64
	}
	matches := make([]scored, 0, len(p.chunks))
	for _, chunk := range p.chunks {
		haystack := strings.ToLower(chunk.Content + " " + chunk.SectionTitle)
		hits := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) / float64(len(terms))
		copied := chunk
		copied.Scores = map[string]float64{"score": score}
		matches = append(matches, scored{chunk: copied, score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	results := make([]Chunk, 0, len(matches))
	for _, match := range matches {
		results = append(results, match.chunk)
	}
	return results, nil
}

// Similar 返回与指定切片同文档、相邻章节的切片。
func (p *StaticProvider) Similar(ctx context.Context, chunkID string, topK int) ([]Chunk, error) {
	if p == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = p.maxResults
	}

	var anchor *Chunk
	for i := range p.chunks {
		if p.chunks[i].ID == chunkID {
			anchor = &p.chunks[i]
			break
		}
	}
	if anchor == nil {
		return nil, fmt.Errorf("切片 %q 不存在", chunkID)
	}

	var results []Chunk
	for _, chunk := range p.chunks {
		if chunk.ID == chunkID || chunk.DocumentID != anchor.DocumentID {
			continue
		}
		results = append(results, chunk)
		if len(results) >= topK {
			break
		}
	}
	return results, nil
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		term := strings.Trim(field, ".,;:!?\"'()")
		// 葡语停用词与过短词不参与匹配。
		if len([]rune(term)) < 3 {
			continue
		}
		switch term {
		case "para", "com", "dos", "das", "uma", "que", "qual", "como", "por":
			continue
		}
		terms = append(terms, term)
	}
	return terms
}

var _ Provider = (*StaticProvider)(nil)
