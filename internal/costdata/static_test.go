package costdata

import (
	"context"
	"testing"
)

func testProvider() *StaticProvider {
	return NewStaticProvider(
		[]Summary{
			{ClientID: "cliente-1", ContractID: "contrato-1", Period: "2026-Q1", TotalCost: 1000},
			{ClientID: "cliente-1", ContractID: "contrato-1", Period: "2026-Q2", TotalCost: 1200},
		},
		[]CategoryCost{{Category: "internacao", Cost: 500, Share: 0.5}},
		[]TrendPoint{
			{Month: "2026-01", Cost: 300},
			{Month: "2026-02", Cost: 320},
			{Month: "2026-03", Cost: 380},
		},
		[]Procedure{
			{Code: "31005497", Name: "Artroplastia", Count: 2, Cost: 600},
			{Code: "10101012", Name: "Consulta", Count: 40, Cost: 200},
		},
	)
}

func TestSummaryMatchesPeriod(t *testing.T) {
	provider := testProvider()

	summary, err := provider.Summary(context.Background(), "cliente-1", "contrato-1", "2026-Q2")
	if err != nil {
		t.Fatalf("Summary 返回错误: %v", err)
	}
	if summary.TotalCost != 1200 {
		t.Fatalf("匹配周期错误: %+v", summary)
	}

	// 未指定周期时返回首个匹配合同的记录。
	summary, err = provider.Summary(context.Background(), "cliente-1", "contrato-1", "")
	if err != nil {
		t.Fatalf("Summary 返回错误: %v", err)
	}
	if summary.Period != "2026-Q1" {
		t.Fatalf("默认周期错误: %s", summary.Period)
	}
}

func TestSummaryUnknownContract(t *testing.T) {
	provider := testProvider()

	if _, err := provider.Summary(context.Background(), "cliente-1", "contrato-x", ""); err == nil {
		t.Fatal("未知合同应当返回错误")
	}
}

func TestTrendKeepsMostRecentMonths(t *testing.T) {
	provider := testProvider()

	trend, err := provider.Trend(context.Background(), "cliente-1", "contrato-1", 2)
	if err != nil {
		t.Fatalf("Trend 返回错误: %v", err)
	}
	if len(trend) != 2 || trend[0].Month != "2026-02" || trend[1].Month != "2026-03" {
		t.Fatalf("趋势窗口错误: %+v", trend)
	}
}

func TestTopProceduresHonoursLimit(t *testing.T) {
	provider := testProvider()

	procedures, err := provider.TopProcedures(context.Background(), "cliente-1", "contrato-1", 1)
	if err != nil {
		t.Fatalf("TopProcedures 返回错误: %v", err)
	}
	if len(procedures) != 1 || procedures[0].Code != "31005497" {
		t.Fatalf("限制结果错误: %+v", procedures)
	}
}
