package source

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-resolver/internal/model"
	"github.com/sells-group/profile-resolver/pkg/yahoo"
)

const (
	summaryField = "longBusinessSummary"
	quoteURL     = "https://finance.yahoo.com/quote/"
)

// profileFields are the assetProfile keys copied into the identity card.
var profileFields = []string{
	"address1", "city", "state", "zip", "country", "phone", "website",
	"industry", "industryKey", "industryDisp", "sector",
}

// Finance resolves a company from its financial-data profile.
type Finance struct {
	client yahoo.Client
}

// NewFinance creates the financial-data adapter.
func NewFinance(client yahoo.Client) *Finance {
	return &Finance{client: client}
}

// Name implements Adapter.
func (f *Finance) Name() string { return "finance" }

// Resolve implements Adapter. Share-class symbols such as BRK.B are retried
// in the dash form the quote service uses; the candidate URL keeps the
// requested symbol.
func (f *Finance) Resolve(ctx context.Context, q Query) (*model.Candidate, error) {
	requested := strings.TrimSpace(q.Symbol)
	symbol := requested
	if symbol == "" {
		return nil, Fail(f.Name(), ReasonNoMatch, eris.New("finance: empty symbol"))
	}

	profile, err := f.client.Profile(ctx, symbol)
	if err != nil {
		return nil, Fail(f.Name(), ReasonFetchError, err)
	}
	if profile[summaryField] == "" && strings.Contains(symbol, ".") {
		symbol = strings.ReplaceAll(symbol, ".", "-")
		if profile, err = f.client.Profile(ctx, symbol); err != nil {
			return nil, Fail(f.Name(), ReasonFetchError, err)
		}
	}

	summary := strings.TrimSpace(profile[summaryField])
	if summary == "" {
		return nil, Fail(f.Name(), ReasonNoMatch, eris.Errorf("finance: no business summary for %s", symbol))
	}

	card := make(model.IdentityCard)
	for _, k := range profileFields {
		if v := strings.TrimSpace(profile[k]); v != "" {
			card[k] = v
		}
	}
	return &model.Candidate{
		SourceURL:    quoteURL + requested,
		IdentityCard: card,
		Narrative:    summary,
	}, nil
}
