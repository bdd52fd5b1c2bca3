package books

// Built-in account categories, keyed by name.
const (
	CatCurrentAssets      = "Current Assets"
	CatBank               = "Bank"
	CatFixedAssets        = "Fixed Assets"
	CatCurrentLiabilities = "Current Liabilities"
	CatLongTermLiability  = "Long Term Liabilities"
	CatEquity             = "Equity"
	CatSales              = "Sales"
	CatOtherIncome        = "Other Income"
	CatCostOfSales        = "Cost of Sales"
	CatOverheads          = "Overheads"
)

var categories = []Category{
	{Name: CatFixedAssets, Type: CategoryAsset, BalanceSheetCategory: "fixed_assets", IsSystem: true, DisplayOrder: 10},
	{Name: CatCurrentAssets, Type: CategoryAsset, BalanceSheetCategory: "current_assets", IsSystem: true, DisplayOrder: 20},
	{Name: CatBank, Type: CategoryAsset, BalanceSheetCategory: "current_assets", IsSystem: true, DisplayOrder: 30},
	{Name: CatCurrentLiabilities, Type: CategoryLiability, BalanceSheetCategory: "current_liabilities", IsSystem: true, DisplayOrder: 40},
	{Name: CatLongTermLiability, Type: CategoryLiability, BalanceSheetCategory: "long_term_liabilities", IsSystem: true, DisplayOrder: 50},
	{Name: CatEquity, Type: CategoryEquity, BalanceSheetCategory: "capital_and_reserves", IsSystem: true, DisplayOrder: 60},
	{Name: CatSales, Type: CategoryIncome, PLCategory: "turnover", IsSystem: true, DisplayOrder: 70},
	{Name: CatOtherIncome, Type: CategoryIncome, PLCategory: "other_income", IsSystem: true, DisplayOrder: 80},
	{Name: CatCostOfSales, Type: CategoryExpense, PLCategory: "cost_of_sales", IsSystem: true, DisplayOrder: 90},
	{Name: CatOverheads, Type: CategoryExpense, PLCategory: "overheads", IsSystem: true, DisplayOrder: 100},
}

// BuiltinCategories returns the seeded account categories.
func BuiltinCategories() []Category {
	return append([]Category(nil), categories...)
}

// Accounts every template shares. VAT and the bank account are system
// accounts and cannot be archived.
var commonAccounts = []TemplateAccount{
	{Code: "0030", Name: "Office Equipment", Category: CatFixedAssets},
	{Code: "1100", Name: "Trade Debtors", Category: CatCurrentAssets, IsSystemAccount: true},
	{Code: "1200", Name: "Business Current Account", Category: CatBank, IsBankAccount: true, IsSystemAccount: true},
	{Code: "2100", Name: "Trade Creditors", Category: CatCurrentLiabilities, IsSystemAccount: true},
	{Code: "2200", Name: "VAT Liability", Category: CatCurrentLiabilities, IsSystemAccount: true},
	{Code: "4000", Name: "Sales", Category: CatSales, TaxCode: "T1"},
	{Code: "4900", Name: "Other Income", Category: CatOtherIncome},
	{Code: "5000", Name: "Cost of Sales", Category: CatCostOfSales, TaxCode: "T1"},
	{Code: "7100", Name: "Rent and Rates", Category: CatOverheads, TaxCode: "T2"},
	{Code: "7500", Name: "Office Costs", Category: CatOverheads, TaxCode: "T1"},
	{Code: "7900", Name: "Bank Charges", Category: CatOverheads, TaxCode: "T2"},
}

var templates = []Template{
	{
		Name:         "Sole trader",
		BusinessType: "sole_trader",
		Accounts: []TemplateAccount{
			{Code: "3000", Name: "Capital Introduced", Category: CatEquity},
			{Code: "3050", Name: "Drawings", Category: CatEquity, IsSystemAccount: true},
		},
	},
	{
		Name:         "Partnership",
		BusinessType: "partnership",
		Accounts: []TemplateAccount{
			{Code: "3000", Name: "Partners' Capital", Category: CatEquity},
			{Code: "3050", Name: "Partners' Drawings", Category: CatEquity, IsSystemAccount: true},
			{Code: "3100", Name: "Partners' Current Accounts", Category: CatEquity},
		},
	},
	{
		Name:         "Limited company",
		BusinessType: "limited_company",
		Accounts: []TemplateAccount{
			{Code: "2300", Name: "Corporation Tax", Category: CatCurrentLiabilities, IsSystemAccount: true},
			{Code: "2400", Name: "Directors' Loan Account", Category: CatCurrentLiabilities},
			{Code: "2900", Name: "Bank Loans", Category: CatLongTermLiability},
			{Code: "3000", Name: "Share Capital", Category: CatEquity, IsSystemAccount: true},
			{Code: "3200", Name: "Retained Earnings", Category: CatEquity, IsSystemAccount: true},
			{Code: "7000", Name: "Directors' Salaries", Category: CatOverheads},
		},
	},
}

// BuiltinTemplates returns the seeded templates, each including the shared accounts.
func BuiltinTemplates() []Template {
	out := make([]Template, len(templates))
	for i, t := range templates {
		t.IsSystem = true
		accounts := make([]TemplateAccount, 0, len(commonAccounts)+len(t.Accounts))
		accounts = append(accounts, commonAccounts...)
		accounts = append(accounts, t.Accounts...)
		t.Accounts = accounts
		out[i] = t
	}
	return out
}
