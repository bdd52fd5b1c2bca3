package books

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamledger.io/internal/tenancy"
)

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNextDueDate(t *testing.T) {
	cases := []struct {
		name  string
		typ   PeriodType
		start int
		now   string
		want  string
	}{
		{"monthly", PeriodMonthly, 0, "2025-02-14", "2025-04-07"},
		{"monthly december", PeriodMonthly, 0, "2025-12-31", "2026-02-07"},
		{"calendar quarters", PeriodQuarterly, 1, "2025-02-14", "2025-05-07"},
		{"quarter ends this month", PeriodQuarterly, 1, "2025-03-31", "2025-05-07"},
		{"quarters from february", PeriodQuarterly, 2, "2025-01-10", "2025-03-07"},
		{"quarter across year end", PeriodQuarterly, 3, "2025-12-01", "2026-04-07"},
		{"annual from april", PeriodAnnual, 4, "2025-02-14", "2025-05-31"},
		{"annual starting this month", PeriodAnnual, 4, "2025-04-01", "2026-05-31"},
		{"calendar year", PeriodAnnual, 1, "2025-06-30", "2026-02-28"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextDueDate(tc.typ, tc.start, date(tc.now))
			assert.Equal(t, tc.want, got.Format(time.DateOnly))
		})
	}
}

func TestSetSchemeClosesOpenScheme(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner@example.com")
	org := f.org(owner, "Acme Ltd", "limited_company")

	_, err := f.svc.SetScheme(f.ctx, owner.ID, org.ID, NewScheme{Type: SchemeStandard, EffectiveFrom: date("2024-04-01")})
	require.NoError(t, err)

	_, err = f.svc.SetScheme(f.ctx, owner.ID, org.ID, NewScheme{Type: SchemeFlatRate, EffectiveFrom: date("2025-01-01")})
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument, "flat rate needs a percentage")
	_, err = f.svc.SetScheme(f.ctx, owner.ID, org.ID, NewScheme{
		Type:               SchemeCashAccounting,
		FlatRatePercentage: decimal.NewNullDecimal(decimal.RequireFromString("12.5")),
		EffectiveFrom:      date("2025-01-01"),
	})
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument, "percentage only for flat rate")
	_, err = f.svc.SetScheme(f.ctx, owner.ID, org.ID, NewScheme{Type: SchemeCashAccounting, EffectiveFrom: date("2024-04-01")})
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument, "must start after the open scheme")
	_, err = f.svc.SetScheme(f.ctx, owner.ID, org.ID, NewScheme{Type: "reverse_charge", EffectiveFrom: date("2025-01-01")})
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument)

	flat, err := f.svc.SetScheme(f.ctx, owner.ID, org.ID, NewScheme{
		Type:               SchemeFlatRate,
		FlatRatePercentage: decimal.NewNullDecimal(decimal.RequireFromString("16.5")),
		EffectiveFrom:      date("2025-01-01"),
	})
	require.NoError(t, err)

	got, err := f.svc.GetVATSettings(f.ctx, owner.ID, org.ID)
	require.NoError(t, err)
	require.Len(t, got.Schemes, 2)
	require.NotNil(t, got.Current)
	assert.Equal(t, flat.ID, got.Current.ID)
	assert.Equal(t, "16.50", got.Current.FlatRatePercentage.Decimal.StringFixed(2))
	require.NotNil(t, got.Schemes[0].EffectiveTo)
	assert.Equal(t, "2024-12-31", got.Schemes[0].EffectiveTo.Format(time.DateOnly))
	assert.Nil(t, got.ReturnPeriod)
}

func TestAddRateReplacesDefaultAndClosesSameCode(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner@example.com")
	org := f.org(owner, "Acme Ltd", "limited_company")

	standard, err := f.svc.AddRate(f.ctx, owner.ID, org.ID, NewRate{
		Name: "Standard", Code: "t1", Rate: decimal.NewFromInt(20), IsDefault: true, EffectiveFrom: date("2011-01-04"),
	})
	require.NoError(t, err)
	assert.Equal(t, "T1", standard.Code)

	_, err = f.svc.AddRate(f.ctx, owner.ID, org.ID, NewRate{
		Name: "Reduced", Code: "T5", Rate: decimal.NewFromInt(5), IsDefault: true, EffectiveFrom: date("2011-01-04"),
	})
	require.NoError(t, err)

	_, err = f.svc.AddRate(f.ctx, owner.ID, org.ID, NewRate{Name: "Bad", Code: "T9", Rate: decimal.NewFromInt(101), EffectiveFrom: date("2020-01-01")})
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument)
	_, err = f.svc.AddRate(f.ctx, owner.ID, org.ID, NewRate{Name: "Bad", Code: "T9", Rate: decimal.NewFromInt(-1), EffectiveFrom: date("2020-01-01")})
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument)
	_, err = f.svc.AddRate(f.ctx, owner.ID, org.ID, NewRate{Name: "Early", Code: "T1", Rate: decimal.NewFromInt(17), EffectiveFrom: date("2008-12-01")})
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument, "must start after the open rate")

	_, err = f.svc.AddRate(f.ctx, owner.ID, org.ID, NewRate{
		Name: "Standard", Code: "T1", Rate: decimal.RequireFromString("22.5"), EffectiveFrom: date("2030-01-01"),
	})
	require.NoError(t, err)

	got, err := f.svc.GetVATSettings(f.ctx, owner.ID, org.ID)
	require.NoError(t, err)
	require.Len(t, got.Rates, 3)
	defaults := 0
	for _, r := range got.Rates {
		if r.IsDefault {
			defaults++
			assert.Equal(t, "T5", r.Code)
		}
		if r.ID == standard.ID {
			require.NotNil(t, r.EffectiveTo)
			assert.Equal(t, "2029-12-31", r.EffectiveTo.Format(time.DateOnly))
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestSetReturnPeriod(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner@example.com")
	org := f.org(owner, "Acme Ltd", "limited_company")

	_, err := f.svc.SetReturnPeriod(f.ctx, owner.ID, org.ID, PeriodMonthly, 3)
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument)
	_, err = f.svc.SetReturnPeriod(f.ctx, owner.ID, org.ID, PeriodQuarterly, 13)
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument)
	_, err = f.svc.SetReturnPeriod(f.ctx, owner.ID, org.ID, "weekly", 0)
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument)

	first, err := f.svc.SetReturnPeriod(f.ctx, owner.ID, org.ID, PeriodQuarterly, 1)
	require.NoError(t, err)
	require.NotNil(t, first.NextDueDate)
	assert.Equal(t, "2025-05-07", first.NextDueDate.Format(time.DateOnly))

	second, err := f.svc.SetReturnPeriod(f.ctx, owner.ID, org.ID, PeriodMonthly, 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "one return period per organization")

	got, err := f.svc.GetVATSettings(f.ctx, owner.ID, org.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReturnPeriod)
	assert.Equal(t, PeriodMonthly, got.ReturnPeriod.Type)
	assert.Equal(t, "2025-04-07", got.ReturnPeriod.NextDueDate.Format(time.DateOnly))
}
