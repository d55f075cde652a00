package costdata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// dataset 是静态成本数据文件的根结构。
type dataset struct {
	Summaries  []Summary      `yaml:"summaries"`
	Categories []CategoryCost `yaml:"categories"`
	Trend      []TrendPoint   `yaml:"trend"`
	Procedures []Procedure    `yaml:"procedures"`
}

// StaticProvider 从 YAML 文件加载成本数据,用于开发与测试环境。
type StaticProvider struct {
	data dataset
}

// LoadStaticProvider 从 YAML 文件创建静态成本数据源。
func LoadStaticProvider(path string) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("成本数据文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析成本数据路径失败: %w", err)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取成本数据文件失败: %w", err)
	}

	var data dataset
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("解析成本数据文件失败: %w", err)
	}

	return &StaticProvider{data: data}, nil
}

// NewStaticProvider 直接使用内存数据创建静态数据源。
func NewStaticProvider(summaries []Summary, categories []CategoryCost, trend []TrendPoint, procedures []Procedure) *StaticProvider {
	return &StaticProvider{data: dataset{
		Summaries:  summaries,
		Categories: categories,
		Trend:      trend,
		Procedures: procedures,
	}}
}

// Summary 返回匹配合同与周期的成本汇总。
func (p *StaticProvider) Summary(ctx context.Context, clientID, contractID, period string) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, summary := range p.data.Summaries {
		if summary.ClientID == clientID && summary.ContractID == contractID {
			if period == "" || summary.Period == period {
				copied := summary
				return &copied, nil
			}
		}
	}
	return nil, fmt.Errorf("não há dados de custo para o contrato %s no período %s", contractID, period)
}

// ByCategory 返回按类别细分的成本。
func (p *StaticProvider) ByCategory(ctx context.Context, clientID, contractID, period string) ([]CategoryCost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]CategoryCost(nil), p.data.Categories...), nil
}

// Trend 返回最近 months 个月的成本序列。
func (p *StaticProvider) Trend(ctx context.Context, clientID, contractID string, months int) ([]TrendPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	trend := p.data.Trend
	if months > 0 && len(trend) > months {
		trend = trend[len(trend)-months:]
	}
	return append([]TrendPoint(nil), trend...), nil
}

// TopProcedures 返回成本最高的医疗项目。
func (p *StaticProvider) TopProcedures(ctx context.Context, clientID, contractID string, limit int) ([]Procedure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	procedures := p.data.Procedures
	if limit > 0 && len(procedures) > limit {
		procedures = procedures[:limit]
	}
	return append([]Procedure(nil), procedures...), nil
}

var _ Provider = (*StaticProvider)(nil)
