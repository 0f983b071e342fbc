package translate

import (
	"github.com/meridian-fin/meridian-consol/internal/ledger"
)

// Category buckets an account for rate selection.
type Category string

const (
	CategoryMonetaryAsset        Category = "MONETARY_ASSET"
	CategoryMonetaryLiability    Category = "MONETARY_LIABILITY"
	CategoryNonMonetaryAsset     Category = "NON_MONETARY_ASSET"
	CategoryNonMonetaryLiability Category = "NON_MONETARY_LIABILITY"
	CategoryCapitalStock         Category = "CAPITAL_STOCK"
	CategoryAPIC                 Category = "APIC"
	CategoryTreasuryStock        Category = "TREASURY_STOCK"
	CategoryRetainedEarnings     Category = "RETAINED_EARNINGS"
	CategoryOCI                  Category = "OCI"
	CategoryRevenue              Category = "REVENUE"
	CategoryExpense              Category = "EXPENSE"
)

// Account categories treated as non-monetary for assets and liabilities.
var nonMonetaryCategories = map[string]struct{}{
	"Inventory":         {},
	"PrepaidExpenses":   {},
	"FixedAssets":       {},
	"IntangibleAssets":  {},
	"Goodwill":          {},
	"DeferredRevenue":   {},
	"DeferredTaxAsset":  {},
	"AccumulatedDepr":   {},
	"RightOfUseAssets":  {},
	"InvestmentInEquip": {},
}

// Categorize derives the translation category from the account type and its
// chart category.
func Categorize(account ledger.Account) Category {
	switch account.Type {
	case ledger.TypeAsset:
		if _, ok := nonMonetaryCategories[account.Category]; ok {
			return CategoryNonMonetaryAsset
		}
		return CategoryMonetaryAsset
	case ledger.TypeLiability:
		if _, ok := nonMonetaryCategories[account.Category]; ok {
			return CategoryNonMonetaryLiability
		}
		return CategoryMonetaryLiability
	case ledger.TypeEquity:
		switch account.Category {
		case ledger.CategoryContributedCapital:
			return CategoryCapitalStock
		case ledger.CategoryRetainedEarnings:
			return CategoryRetainedEarnings
		case ledger.CategoryOtherComprehensiveIncome:
			return CategoryOCI
		case ledger.CategoryTreasuryStock:
			return CategoryTreasuryStock
		default:
			return CategoryAPIC
		}
	case ledger.TypeRevenue:
		return CategoryRevenue
	default:
		return CategoryExpense
	}
}

// IsCalculated reports whether a category's reporting value is computed at
// the trial balance level rather than translated line by line.
func (c Category) IsCalculated() bool {
	return c == CategoryRetainedEarnings || c == CategoryOCI
}

// RequiresHistorical reports whether the category is carried at the rate in
// effect when the balance arose.
func (c Category) RequiresHistorical() bool {
	switch c {
	case CategoryCapitalStock, CategoryAPIC, CategoryTreasuryStock,
		CategoryNonMonetaryAsset, CategoryNonMonetaryLiability:
		return true
	default:
		return false
	}
}
