package billing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuelReschke/Redirector/app/models"
)

// defaultPlans is used when BILLING_PLANS is not set.
const defaultPlans = "free:month:0,basic:month:900,pro:month:2900,pro-yearly:year:29000"

// Plan is one entry of the catalog offered to applications. Amount is in
// the smallest currency unit.
type Plan struct {
	ID       string `json:"id"`
	Interval string `json:"interval"`
	Amount   int64  `json:"amount"`
}

// Catalog is the ordered set of plans an application may subscribe to.
type Catalog struct {
	plans []Plan
	byID  map[string]Plan
}

func NewCatalog(plans []Plan) *Catalog {
	c := &Catalog{plans: plans, byID: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		c.byID[p.ID] = p
	}
	return c
}

// ParseCatalog reads "id:interval:amount" entries separated by commas.
func ParseCatalog(raw string) (*Catalog, error) {
	var plans []Plan
	seen := map[string]struct{}{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid plan entry %q, want id:interval:amount", entry)
		}
		id := strings.TrimSpace(parts[0])
		interval := normalizeInterval(parts[1])
		if id == "" || interval == "" {
			return nil, fmt.Errorf("invalid plan entry %q", entry)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("invalid amount in plan entry %q", entry)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate plan id %q", id)
		}
		seen[id] = struct{}{}
		plans = append(plans, Plan{ID: id, Interval: interval, Amount: amount})
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("plan catalog is empty")
	}
	return NewCatalog(plans), nil
}

func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

func (c *Catalog) Lookup(id string) (Plan, bool) {
	p, ok := c.byID[strings.TrimSpace(id)]
	return p, ok
}

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case models.PlanIntervalMonth, models.PlanIntervalYear:
		return i
	default:
		return ""
	}
}
