package semantic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartbi/internal/domain"
)

func TestCompile_SalesScenario(t *testing.T) {
	cat := testCatalog(t)
	plan := domain.QueryPlan{
		SelectedMetrics:    []string{"sales.revenue"},
		SelectedDimensions: []string{"sales.biz_date"},
		SelectedFilters: []domain.Filter{
			eq("branch.region", "澳門半島"),
			between("sales.biz_date", "2024-01-01", "2024-01-31"),
		},
		SelectedDatasetCandidates: []string{"sales"},
	}

	sql, err := Compile(plan, cat)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT s.biz_date AS sales_biz_date, SUM(s.revenue) AS sales_revenue\n"+
			"FROM fact_sales as s\n"+
			"LEFT JOIN dim_branch ON s.branch_id = dim_branch.branch_id\n"+
			"WHERE dim_branch.region = '澳門半島' AND s.biz_date BETWEEN '2024-01-01' AND '2024-01-31'\n"+
			"GROUP BY s.biz_date",
		sql)
}

func TestCompile_IsPure(t *testing.T) {
	cat := testCatalog(t)
	plan := domain.QueryPlan{
		SelectedMetrics:           []string{"sales.revenue", "sales.orders"},
		SelectedDimensions:        []string{"branch.region", "sales.biz_date"},
		SelectedFilters:           []domain.Filter{between("sales.biz_date", "2024-01-01", "2024-03-31")},
		SelectedDatasetCandidates: []string{"sales"},
	}

	first, err := Compile(plan, cat)
	require.NoError(t, err)
	for range 5 {
		again, err := Compile(plan, cat)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCompile_CalendarSkeleton(t *testing.T) {
	cat := testCatalog(t)
	plan := domain.QueryPlan{
		SelectedMetrics:           []string{"deposit_balance_daily.deposit_end_balance"},
		SelectedDimensions:        []string{"deposit_balance_daily.biz_date"},
		SelectedFilters:           []domain.Filter{between("deposit_balance_daily.biz_date", "2024-01-01", "2024-01-05")},
		SelectedDatasetCandidates: []string{"deposit_balance_daily"},
	}

	sql, err := Compile(plan, cat)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT dim_calendar.biz_date AS deposit_balance_daily_biz_date, "+
			"COALESCE(SUM(bal.end_balance), 0) AS deposit_balance_daily_deposit_end_balance\n"+
			"FROM dim_calendar\n"+
			"LEFT JOIN fact_account_balance_daily as bal ON dim_calendar.biz_date = bal.biz_date\n"+
			"LEFT JOIN dim_branch ON bal.branch_id = dim_branch.branch_id\n"+
			"WHERE dim_calendar.biz_date BETWEEN '2024-01-01' AND '2024-01-05'\n"+
			"GROUP BY dim_calendar.biz_date",
		sql)
}

func TestCompile_NoSkeletonWithoutTimeGrouping(t *testing.T) {
	cat := testCatalog(t)
	plan := domain.QueryPlan{
		SelectedMetrics:           []string{"deposit_balance_daily.deposit_end_balance"},
		SelectedDimensions:        []string{"deposit_balance_daily.currency"},
		SelectedDatasetCandidates: []string{"deposit_balance_daily"},
	}

	sql, err := Compile(plan, cat)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT bal.currency AS deposit_balance_daily_currency, SUM(bal.end_balance) AS deposit_balance_daily_deposit_end_balance\n"+
			"FROM fact_account_balance_daily as bal\n"+
			"LEFT JOIN dim_calendar ON dim_calendar.biz_date = bal.biz_date\n"+
			"LEFT JOIN dim_branch ON bal.branch_id = dim_branch.branch_id\n"+
			"GROUP BY bal.currency",
		sql)
}

func TestCompile_Operators(t *testing.T) {
	cat := testCatalog(t)
	plan := domain.QueryPlan{
		SelectedMetrics: []string{"cards.card_count"},
		SelectedFilters: []domain.Filter{
			domain.FieldOp{
				Field: "branch.region",
				Op:    domain.OpIn,
				Value: domain.ListValue(domain.StringLiteral("氹仔"), domain.StringLiteral("O'Hara"), domain.NumberLiteral("3")),
			},
			domain.FieldOp{Field: "branch.branch_name", Op: domain.OpIsNotNull},
			domain.FieldOp{Field: "branch.region", Op: domain.OpNe, Value: domain.ScalarValue(domain.NumberLiteral("12.5"))},
			domain.RawExpr{Expr: "c.status = 'active'"},
		},
		SelectedDatasetCandidates: []string{"cards"},
	}

	sql, err := Compile(plan, cat)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT COUNT(DISTINCT c.card_id) AS cards_card_count\n"+
			"FROM fact_cards as c\n"+
			"LEFT JOIN dim_branch ON c.branch_id = dim_branch.branch_id\n"+
			"WHERE dim_branch.region IN ('氹仔', 'O''Hara', 3) AND dim_branch.branch_name IS NOT NULL"+
			" AND dim_branch.region != 12.5 AND c.status = 'active'",
		sql)
	assert.NotContains(t, sql, "GROUP BY")
	assert.NotContains(t, sql, "LIMIT")
}

func TestCompile_ContractViolations(t *testing.T) {
	cat := testCatalog(t)
	tests := []struct {
		name    string
		plan    domain.QueryPlan
		wantErr string
	}{
		{
			name:    "no dataset",
			plan:    domain.QueryPlan{SelectedMetrics: []string{"sales.revenue"}},
			wantErr: "no dataset candidate",
		},
		{
			name:    "unknown dataset",
			plan:    domain.QueryPlan{SelectedMetrics: []string{"sales.revenue"}, SelectedDatasetCandidates: []string{"ghost"}},
			wantErr: `dataset "ghost" is not in the catalog`,
		},
		{
			name:    "empty select",
			plan:    domain.QueryPlan{SelectedDatasetCandidates: []string{"sales"}},
			wantErr: "no dimensions or metrics",
		},
		{
			name: "unknown metric",
			plan: domain.QueryPlan{
				SelectedMetrics:           []string{"sales.ghost"},
				SelectedDatasetCandidates: []string{"sales"},
			},
			wantErr: `metric "sales.ghost"`,
		},
		{
			name: "between arity",
			plan: domain.QueryPlan{
				SelectedMetrics: []string{"sales.revenue"},
				SelectedFilters: []domain.Filter{domain.FieldOp{
					Field: "sales.biz_date", Op: domain.OpBetween, Value: domain.ListValue(domain.StringLiteral("2024-01-01")),
				}},
				SelectedDatasetCandidates: []string{"sales"},
			},
			wantErr: "needs two values",
		},
		{
			name: "sensitive filter field",
			plan: domain.QueryPlan{
				SelectedMetrics:           []string{"sales.revenue"},
				SelectedFilters:           []domain.Filter{eq("branch.manager_phone", "1")},
				SelectedDatasetCandidates: []string{"sales"},
			},
			wantErr: "cannot be resolved",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sql, err := Compile(tc.plan, cat)
			require.Error(t, err)
			assert.Empty(t, sql)
			var ce *domain.ContractError
			require.True(t, errors.As(err, &ce))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestCompile_MissingFromClause(t *testing.T) {
	cat, err := domain.NewCatalog(domain.CatalogDefinition{
		Datasets: []domain.Dataset{{
			Name:    "orphan",
			Metrics: []domain.Metric{{Name: "n", Expr: "x", Agg: domain.AggCount}},
		}},
	})
	require.NoError(t, err)

	_, err = Compile(domain.QueryPlan{
		SelectedMetrics:           []string{"orphan.n"},
		SelectedDatasetCandidates: []string{"orphan"},
	}, cat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no from clause")
}
