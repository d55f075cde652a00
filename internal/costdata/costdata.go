package costdata

import "context"

// Summary 汇总一个合同在给定周期内的医疗成本。
type Summary struct {
	ClientID        string  `json:"client_id" yaml:"client_id"`
	ContractID      string  `json:"contract_id" yaml:"contract_id"`
	Period          string  `json:"period" yaml:"period"`
	TotalCost       float64 `json:"total_cost" yaml:"total_cost"`
	TotalPremium    float64 `json:"total_premium" yaml:"total_premium"`
	ClaimsRatio     float64 `json:"claims_ratio" yaml:"claims_ratio"`
	MemberCount     int     `json:"member_count" yaml:"member_count"`
	CostPerMember   float64 `json:"cost_per_member" yaml:"cost_per_member"`
	PreviousPeriod  float64 `json:"previous_period_cost" yaml:"previous_period_cost"`
	VariationPct    float64 `json:"variation_pct" yaml:"variation_pct"`
}

// CategoryCost 是按类别细分的成本项。
type CategoryCost struct {
	Category string  `json:"category" yaml:"category"`
	Cost     float64 `json:"cost" yaml:"cost"`
	Share    float64 `json:"share" yaml:"share"`
}

// TrendPoint 是成本时间序列上的一个点。
type TrendPoint struct {
	Month string  `json:"month" yaml:"month"`
	Cost  float64 `json:"cost" yaml:"cost"`
}

// Procedure 描述高频或高成本的医疗项目。
type Procedure struct {
	Code  string  `json:"code" yaml:"code"`
	Name  string  `json:"name" yaml:"name"`
	Count int     `json:"count" yaml:"count"`
	Cost  float64 `json:"cost" yaml:"cost"`
}

// Provider 是成本数据仓库的抽象。真实实现由数据平台承担。
type Provider interface {
	Summary(ctx context.Context, clientID, contractID, period string) (*Summary, error)
	ByCategory(ctx context.Context, clientID, contractID, period string) ([]CategoryCost, error)
	Trend(ctx context.Context, clientID, contractID string, months int) ([]TrendPoint, error)
	TopProcedures(ctx context.Context, clientID, contractID string, limit int) ([]Procedure, error)
}
