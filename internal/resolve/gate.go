// Package resolve runs the multi-source resolution pass over unresolved
// records.
package resolve

import (
	"strings"

	"github.com/sells-group/profile-resolver/internal/model"
)

// TradedAsField is the identity-card label listing a company's listings.
const TradedAsField = "Traded as"

// Accept reports whether candidate c belongs to symbol: the card's
// "Traded as" value must contain symbol as a case-sensitive substring.
// Short symbols also match inside longer ones ("AB" within "NYSE: ABC").
func Accept(symbol string, c *model.Candidate) bool {
	if symbol == "" || c == nil {
		return false
	}
	traded := c.IdentityCard.Get(TradedAsField)
	if traded == "" {
		return false
	}
	return strings.Contains(traded, symbol)
}
