package books

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"teamledger.io/internal/tenancy"
)

var hundred = decimal.NewFromInt(100)

func (t SchemeType) Valid() bool {
	switch t {
	case SchemeStandard, SchemeFlatRate, SchemeCashAccounting, SchemeAnnualAccounting:
		return true
	}
	return false
}

func (t PeriodType) Valid() bool {
	switch t {
	case PeriodMonthly, PeriodQuarterly, PeriodAnnual:
		return true
	}
	return false
}

// day truncates t to a UTC calendar date.
func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// GetVATSettings returns the organization's schemes, rates and return period.
// Current is the open scheme, if any.
func (s *Service) GetVATSettings(ctx context.Context, actorID, organizationID string) (VATSettings, error) {
	org, err := s.gated(ctx, actorID, organizationID, tenancy.PermViewVAT)
	if err != nil {
		return VATSettings{}, err
	}
	schemes, err := s.store.ListSchemes(ctx, org)
	if err != nil {
		return VATSettings{}, err
	}
	rates, err := s.store.ListRates(ctx, org)
	if err != nil {
		return VATSettings{}, err
	}
	out := VATSettings{Schemes: schemes, Rates: rates}
	if out.Schemes == nil {
		out.Schemes = []Scheme{}
	}
	if out.Rates == nil {
		out.Rates = []Rate{}
	}
	for i := range schemes {
		if schemes[i].EffectiveTo == nil {
			cur := schemes[i]
			out.Current = &cur
		}
	}
	period, err := s.store.GetReturnPeriod(ctx, org)
	switch {
	case err == nil:
		out.ReturnPeriod = &period
	case !errors.Is(err, tenancy.ErrNotFound):
		return VATSettings{}, err
	}
	return out, nil
}

// SetScheme starts a new VAT scheme and closes the open one on the day before.
func (s *Service) SetScheme(ctx context.Context, actorID, organizationID string, in NewScheme) (Scheme, error) {
	org, err := s.gated(ctx, actorID, organizationID, tenancy.PermManageVAT)
	if err != nil {
		return Scheme{}, err
	}
	if !in.Type.Valid() {
		return Scheme{}, fmt.Errorf("%w: unknown VAT scheme %q", tenancy.ErrInvalidArgument, in.Type)
	}
	if in.Type == SchemeFlatRate {
		pct := in.FlatRatePercentage
		if !pct.Valid || !pct.Decimal.IsPositive() || pct.Decimal.GreaterThan(hundred) {
			return Scheme{}, fmt.Errorf("%w: flat rate schemes need a percentage above 0 and at most 100", tenancy.ErrInvalidArgument)
		}
	} else if in.FlatRatePercentage.Valid {
		return Scheme{}, fmt.Errorf("%w: flat_rate_percentage only applies to the flat rate scheme", tenancy.ErrInvalidArgument)
	}
	if in.EffectiveFrom.IsZero() {
		return Scheme{}, fmt.Errorf("%w: effective_from is required", tenancy.ErrInvalidArgument)
	}
	sc := Scheme{
		OrganizationID:     org,
		Type:               in.Type,
		FlatRatePercentage: in.FlatRatePercentage,
		EffectiveFrom:      day(in.EffectiveFrom),
	}
	if sc.FlatRatePercentage.Valid {
		sc.FlatRatePercentage.Decimal = sc.FlatRatePercentage.Decimal.Round(2)
	}
	err = s.store.WithTx(ctx, func(q Queries) error {
		existing, err := q.ListSchemes(ctx, org)
		if err != nil {
			return err
		}
		for _, prev := range existing {
			if prev.EffectiveTo != nil {
				continue
			}
			if !sc.EffectiveFrom.After(prev.EffectiveFrom) {
				return fmt.Errorf("%w: new scheme must start after %s", tenancy.ErrInvalidArgument, prev.EffectiveFrom.Format(time.DateOnly))
			}
			if err := q.CloseScheme(ctx, prev.ID, sc.EffectiveFrom.AddDate(0, 0, -1)); err != nil {
				return err
			}
		}
		return q.InsertScheme(ctx, &sc)
	})
	if err != nil {
		return Scheme{}, err
	}
	s.record(ctx, actorID, "vat.scheme_set",
		zap.String("organization_id", org), zap.String("scheme", string(sc.Type)), zap.String("effective_from", sc.EffectiveFrom.Format(time.DateOnly)))
	return sc, nil
}

// AddRate adds a VAT rate. An open rate with the same code is closed on the
// day before, and a default rate replaces the previous default.
func (s *Service) AddRate(ctx context.Context, actorID, organizationID string, in NewRate) (Rate, error) {
	org, err := s.gated(ctx, actorID, organizationID, tenancy.PermManageVAT)
	if err != nil {
		return Rate{}, err
	}
	r := Rate{
		OrganizationID: org,
		Name:           strings.TrimSpace(in.Name),
		Code:           strings.ToUpper(strings.TrimSpace(in.Code)),
		Rate:           in.Rate.Round(2),
		IsDefault:      in.IsDefault,
		EffectiveFrom:  day(in.EffectiveFrom),
	}
	switch {
	case r.Name == "":
		return Rate{}, fmt.Errorf("%w: rate name is required", tenancy.ErrInvalidArgument)
	case !accountCode.MatchString(r.Code):
		return Rate{}, fmt.Errorf("%w: rate code must be 1-20 letters, digits or dashes", tenancy.ErrInvalidArgument)
	case r.Rate.IsNegative() || r.Rate.GreaterThan(hundred):
		return Rate{}, fmt.Errorf("%w: rate must be between 0 and 100", tenancy.ErrInvalidArgument)
	case in.EffectiveFrom.IsZero():
		return Rate{}, fmt.Errorf("%w: effective_from is required", tenancy.ErrInvalidArgument)
	}
	err = s.store.WithTx(ctx, func(q Queries) error {
		existing, err := q.ListRates(ctx, org)
		if err != nil {
			return err
		}
		closing := false
		for _, prev := range existing {
			if prev.Code != r.Code || prev.EffectiveTo != nil {
				continue
			}
			if !r.EffectiveFrom.After(prev.EffectiveFrom) {
				return fmt.Errorf("%w: rate %s must start after %s", tenancy.ErrInvalidArgument, r.Code, prev.EffectiveFrom.Format(time.DateOnly))
			}
			closing = true
		}
		if closing {
			if err := q.CloseRates(ctx, org, r.Code, r.EffectiveFrom.AddDate(0, 0, -1)); err != nil {
				return err
			}
		}
		if r.IsDefault {
			if err := q.ClearDefaultRate(ctx, org); err != nil {
				return err
			}
		}
		return q.InsertRate(ctx, &r)
	})
	if err != nil {
		return Rate{}, err
	}
	s.record(ctx, actorID, "vat.rate_added",
		zap.String("organization_id", org), zap.String("code", r.Code), zap.String("rate", r.Rate.StringFixed(2)))
	return r, nil
}

// SetReturnPeriod records the filing cycle and computes the due date of the
// return for the period containing today.
func (s *Service) SetReturnPeriod(ctx context.Context, actorID, organizationID string, typ PeriodType, startMonth int) (ReturnPeriod, error) {
	org, err := s.gated(ctx, actorID, organizationID, tenancy.PermManageVAT)
	if err != nil {
		return ReturnPeriod{}, err
	}
	if !typ.Valid() {
		return ReturnPeriod{}, fmt.Errorf("%w: unknown period type %q", tenancy.ErrInvalidArgument, typ)
	}
	if typ == PeriodMonthly {
		if startMonth != 0 {
			return ReturnPeriod{}, fmt.Errorf("%w: monthly returns take no start month", tenancy.ErrInvalidArgument)
		}
	} else if startMonth < 1 || startMonth > 12 {
		return ReturnPeriod{}, fmt.Errorf("%w: start month must be between 1 and 12", tenancy.ErrInvalidArgument)
	}
	due := NextDueDate(typ, startMonth, s.now())
	p := ReturnPeriod{OrganizationID: org, Type: typ, QuartersStartMonth: startMonth, NextDueDate: &due}
	if err := s.store.UpsertReturnPeriod(ctx, &p); err != nil {
		return ReturnPeriod{}, err
	}
	s.record(ctx, actorID, "vat.return_period_set",
		zap.String("organization_id", org), zap.String("period_type", string(typ)), zap.String("next_due_date", due.Format(time.DateOnly)))
	return p, nil
}

// NextDueDate returns when the return for the period containing now is due.
// Monthly and quarterly returns are due one month and seven days after the
// period ends; annual returns two months after.
func NextDueDate(typ PeriodType, startMonth int, now time.Time) time.Time {
	now = day(now)
	y, m := now.Year(), int(now.Month())
	var end int // last month of the period, may run past December
	switch typ {
	case PeriodQuarterly:
		offset := (m - startMonth + 12) % 12
		end = m - offset%3 + 2
	case PeriodAnnual:
		offset := (m - startMonth + 12) % 12
		end = m - offset + 11
		return time.Date(y, time.Month(end+3), 0, 0, 0, 0, 0, time.UTC)
	default:
		end = m
	}
	return time.Date(y, time.Month(end+2), 7, 0, 0, 0, 0, time.UTC)
}
