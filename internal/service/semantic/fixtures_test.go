package semantic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"smartbi/internal/domain"
)

func testCatalog(t *testing.T) *domain.Catalog {
	t.Helper()
	cat, err := domain.NewCatalog(domain.CatalogDefinition{
		Entities: []domain.Entity{
			{
				Name:  "calendar",
				Table: "dim_calendar",
				Kind:  domain.EntityKindCalendar,
				Fields: []domain.Field{
					{Name: "biz_date", Expr: "dim_calendar.biz_date", Synonyms: []string{"日期"}},
				},
			},
			{
				Name:  "branch",
				Table: "dim_branch",
				Fields: []domain.Field{
					{Name: "region", Expr: "dim_branch.region", Synonyms: []string{"地區"}},
					{Name: "branch_name", Expr: "dim_branch.branch_name", Synonyms: []string{"分行", "Branch Name"}},
				},
				SensitiveFields: []domain.Field{
					{Name: "manager_phone", Expr: "dim_branch.manager_phone", Synonyms: []string{"經理電話"}},
				},
			},
			{
				Name:  "customer",
				Table: "dim_customer",
				Fields: []domain.Field{
					{Name: "segment", Expr: "dim_customer.segment", Synonyms: []string{"客群"}},
				},
			},
		},
		Datasets: []domain.Dataset{
			{
				Name: "sales",
				From: "fact_sales as s",
				Metrics: []domain.Metric{
					{Name: "revenue", Expr: "SUM(s.revenue)", Synonyms: []string{"營收", "營業額"}},
					{Name: "orders", Expr: "COUNT(*)", Synonyms: []string{"訂單數"}},
				},
				TimeDimensions: []domain.Dimension{
					{Name: "biz_date", Expr: "s.biz_date", Grain: "day", Synonyms: []string{"交易日"}},
				},
				Dimensions: []domain.Dimension{
					{Name: "biz_date", Expr: "s.biz_date", Synonyms: []string{"日期"}},
				},
				Joins: []domain.Join{
					{Entity: "branch", On: "s.branch_id = dim_branch.branch_id"},
				},
			},
			{
				Name: "deposit_balance_daily",
				From: "fact_account_balance_daily as bal",
				Metrics: []domain.Metric{
					{Name: "deposit_end_balance", Expr: "bal.end_balance", Agg: domain.AggSum, Synonyms: []string{"存款餘額"}},
				},
				TimeDimensions: []domain.Dimension{
					{Name: "biz_date", Expr: "dim_calendar.biz_date", Grain: "day", Synonyms: []string{"餘額日期"}},
				},
				Dimensions: []domain.Dimension{
					{Name: "currency", Expr: "bal.currency", Synonyms: []string{"幣別"}},
				},
				Joins: []domain.Join{
					{Entity: "calendar", On: "dim_calendar.biz_date = bal.biz_date"},
					{Entity: "branch", On: "bal.branch_id = dim_branch.branch_id"},
				},
				FillGapsWithCalendar: true,
			},
			{
				Name: "loans",
				From: "fact_loans as l",
				Metrics: []domain.Metric{
					{Name: "loan_amount", Expr: "l.amount", Agg: domain.AggSum, Synonyms: []string{"貸款金額"}},
				},
				TimeDimensions: []domain.Dimension{
					{Name: "month", Expr: "l.month", Grain: "month", Synonyms: []string{"月份"}},
				},
				Joins: []domain.Join{
					{Entity: "customer", On: "l.customer_id = dim_customer.customer_id"},
				},
			},
			{
				Name: "cards",
				From: "fact_cards as c",
				Metrics: []domain.Metric{
					{Name: "card_count", Expr: "c.card_id", Agg: domain.AggCountDistinct, Synonyms: []string{"卡數"}},
				},
				Joins: []domain.Join{
					{Entity: "branch", On: "c.branch_id = dim_branch.branch_id"},
				},
			},
		},
		Governance: domain.Governance{RequireTimeFilter: true, MaxRows: 1000, TimeoutSeconds: 30},
	})
	require.NoError(t, err)
	return cat
}

func exactMatch(typ domain.ObjectType, canonical string) domain.CandidateMatch {
	owner := domain.OwnerOf(canonical)
	c := domain.CandidateMatch{
		Token:         canonical,
		ObjectType:    typ,
		CanonicalName: canonical,
		Allowed:       typ != domain.ObjectSensitiveField,
		Source:        domain.SourceExact,
	}
	if typ == domain.ObjectField || typ == domain.ObjectSensitiveField {
		c.Entity = owner
	} else {
		c.Dataset = owner
	}
	return c
}

func between(field, lo, hi string) domain.FieldOp {
	return domain.FieldOp{
		Field: field,
		Op:    domain.OpBetween,
		Value: domain.ListValue(domain.StringLiteral(lo), domain.StringLiteral(hi)),
	}
}

func eq(field, value string) domain.FieldOp {
	return domain.FieldOp{Field: field, Op: domain.OpEq, Value: domain.ScalarValue(domain.StringLiteral(value))}
}
