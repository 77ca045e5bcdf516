package payment

// Plan is a purchasable subscription tier. Amount is in the smallest
// currency unit (cents).
type Plan struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Amount      int64    `json:"amount"`
	Currency    string   `json:"currency"`
	Interval    string   `json:"interval"`
	Features    []string `json:"features"`
}

var plans = []Plan{
	{
		ID:          "writer_monthly",
		Name:        "Writer Monthly",
		Description: "Publish your opinions on InMyOpinion, billed monthly",
		Amount:      999,
		Currency:    "usd",
		Interval:    "month",
		Features: []string{
			"Write and submit unlimited blog posts",
			"Author analytics dashboard",
			"Profile with social links",
			"Cancel anytime",
		},
	},
	{
		ID:          "writer_yearly",
		Name:        "Writer Yearly",
		Description: "Publish your opinions on InMyOpinion, billed yearly",
		Amount:      9999,
		Currency:    "usd",
		Interval:    "year",
		Features: []string{
			"Everything in Writer Monthly",
			"Two months free compared to monthly billing",
			"Priority review of submitted posts",
		},
	},
}

// Plans returns a copy of the catalogue.
func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// PlanByID looks a plan up by its identifier.
func PlanByID(id string) (Plan, bool) {
	for _, p := range plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}
