package budget

import "strings"

// Suggest returns the default budget category name for an expense
// description or merchant. Matching is case-insensitive: exact match first,
// then substring match with longer keywords taking priority. Unrecognized
// text lands in "Other", which every space seeds.
func Suggest(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return "Other"
	}

	if cat, ok := exactMatch[t]; ok {
		return cat
	}

	for _, entry := range substringMatches {
		if strings.Contains(t, entry.keyword) {
			return entry.category
		}
	}

	return "Other"
}

// Category names here must stay in sync with the defaults SeedDefaults
// creates for a new space.
var exactMatch = map[string]string{
	// Groceries
	"groceries":      "Groceries",
	"grocery":        "Groceries",
	"supermarket":    "Groceries",
	"aldi":           "Groceries",
	"lidl":           "Groceries",
	"kroger":         "Groceries",
	"safeway":        "Groceries",
	"costco":         "Groceries",
	"walmart":        "Groceries",
	"butcher":        "Groceries",
	"bakery":         "Groceries",
	"farmers market": "Groceries",

	// Utilities
	"electricity": "Utilities",
	"electric":    "Utilities",
	"power":       "Utilities",
	"water":       "Utilities",
	"sewer":       "Utilities",
	"internet":    "Utilities",
	"broadband":   "Utilities",
	"wifi":        "Utilities",
	"phone":       "Utilities",
	"heating":     "Utilities",

	// Home
	"rent":      "Home",
	"mortgage":  "Home",
	"ikea":      "Home",
	"furniture": "Home",
	"plumber":   "Home",
	"hardware":  "Home",

	// Transport
	"fuel":     "Transport",
	"gasoline": "Transport",
	"petrol":   "Transport",
	"uber":     "Transport",
	"lyft":     "Transport",
	"taxi":     "Transport",
	"bus":      "Transport",
	"train":    "Transport",
	"metro":    "Transport",
	"parking":  "Transport",
	"toll":     "Transport",

	// Health
	"pharmacy":     "Health",
	"cvs":          "Health",
	"walgreens":    "Health",
	"doctor":       "Health",
	"dentist":      "Health",
	"gym":          "Health",
	"prescription": "Health",

	// Fun
	"netflix":    "Fun",
	"spotify":    "Fun",
	"hulu":       "Fun",
	"cinema":     "Fun",
	"restaurant": "Fun",
	"concert":    "Fun",
	"vacation":   "Fun",
}

type substringEntry struct {
	keyword  string
	category string
}

// Ordered with longer/more-specific keywords first so "gas bill" is a
// utility while "gas station" is transport.
var substringMatches = []substringEntry{
	// Utilities before Transport for the gas ambiguity
	{"gas bill", "Utilities"},
	{"natural gas", "Utilities"},
	{"water bill", "Utilities"},
	{"electric bill", "Utilities"},
	{"phone bill", "Utilities"},
	{"trash collection", "Utilities"},
	{"garbage collection", "Utilities"},
	{"utility", "Utilities"},
	{"energy", "Utilities"},
	{"cellular", "Utilities"},
	{"mobile plan", "Utilities"},

	// Groceries
	{"trader joe", "Groceries"},
	{"whole foods", "Groceries"},
	{"grocery", "Groceries"},
	{"supermarket", "Groceries"},
	{"market", "Groceries"},
	{"deli", "Groceries"},
	{"food", "Groceries"},

	// Home
	{"home depot", "Home"},
	{"lowes", "Home"},
	{"cleaning service", "Home"},
	{"lawn", "Home"},
	{"garden", "Home"},
	{"appliance", "Home"},
	{"repair", "Home"},
	{"furniture", "Home"},
	{"decor", "Home"},
	{"electrician", "Home"},

	// Transport
	{"gas station", "Transport"},
	{"car wash", "Transport"},
	{"oil change", "Transport"},
	{"tires", "Transport"},
	{"transit", "Transport"},
	{"airline", "Transport"},
	{"flight", "Transport"},
	{"shell", "Transport"},
	{"chevron", "Transport"},
	{"exxon", "Transport"},
	{"fuel", "Transport"},
	{"parking", "Transport"},

	// Health
	{"urgent care", "Health"},
	{"copay", "Health"},
	{"clinic", "Health"},
	{"hospital", "Health"},
	{"therapy", "Health"},
	{"vitamin", "Health"},
	{"optometrist", "Health"},
	{"pharmacy", "Health"},
	{"dental", "Health"},
	{"medical", "Health"},

	// Fun
	{"streaming", "Fun"},
	{"movie", "Fun"},
	{"theater", "Fun"},
	{"museum", "Fun"},
	{"zoo", "Fun"},
	{"tickets", "Fun"},
	{"game", "Fun"},
	{"toy", "Fun"},
	{"hotel", "Fun"},
	{"restaurant", "Fun"},
	{"dining", "Fun"},
	{"takeout", "Fun"},
	{"pizza", "Fun"},
	{"coffee shop", "Fun"},
}
