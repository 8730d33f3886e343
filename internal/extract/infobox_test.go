package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const acmeInfobox = `<html><body>
<p>Intro paragraph.</p>
<table class="infobox vcard">
  <caption>Acme Corporation</caption>
  <tr><td colspan="2"><img src="logo.png"></td></tr>
  <tr><th scope="row">Traded&nbsp;as</th><td>NASDAQ:&nbsp;ABC<sup class="reference">[2]</sup></td></tr>
  <tr><th scope="row">Industry</th><td><a href="/wiki/Anvils">Anvils</a>,
      <a href="/wiki/Rockets">rockets</a><style>.plainlist{}</style></td></tr>
  <tr><th scope="row">Founded</th><td>1920<sup>[1]</sup><sup>[14]</sup></td></tr>
  <tr><th scope="row">Empty</th><td>[3]</td></tr>
  <tr><th scope="row"></th><td>orphan value</td></tr>
  <tr><th scope="row">Key   people</th><td>Wile E.   Coyote</td></tr>
</table>
<table class="infobox"><tr><th>Traded as</th><td>SECOND TABLE</td></tr></table>
</body></html>`

func TestIdentityCard_ExtractsRows(t *testing.T) {
	card, err := IdentityCard(acmeInfobox)
	require.NoError(t, err)

	assert.Equal(t, "NASDAQ: ABC", card["Traded as"])
	assert.Equal(t, "Anvils , rockets", card["Industry"])
	assert.Equal(t, "1920", card["Founded"])
	assert.Equal(t, "Wile E. Coyote", card["Key people"])
	assert.NotContains(t, card, "Empty")
	assert.NotContains(t, card, "")
	assert.Len(t, card, 4)
}

func TestIdentityCard_NBSPHeaderAndCitation(t *testing.T) {
	doc := "<table class=\"infobox\"><tr><th>Traded\u00a0as</th><td>NASDAQ:\u00a0ABC[2]</td></tr></table>"

	card, err := IdentityCard(doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Traded as": "NASDAQ: ABC"}, map[string]string(card))
}

func TestIdentityCard_NoInfoRegion(t *testing.T) {
	card, err := IdentityCard(`<html><body><table class="wikitable"><tr><th>A</th><td>B</td></tr></table></body></html>`)
	require.NoError(t, err)
	assert.NotNil(t, card)
	assert.Empty(t, card)
}

func TestIdentityCard_EmptyDocument(t *testing.T) {
	card, err := IdentityCard("")
	require.NoError(t, err)
	assert.Empty(t, card)
}

func TestIdentityCard_VCardClassAlone(t *testing.T) {
	card, err := IdentityCard(`<table class="vcard"><tr><th>Website</th><td>acme.example</td></tr></table>`)
	require.NoError(t, err)
	assert.Equal(t, "acme.example", card["Website"])
}

func TestIdentityCard_FirstDuplicateHeaderWins(t *testing.T) {
	card, err := IdentityCard(`<table class="infobox">
		<tr><th>Products</th><td>Anvils</td></tr>
		<tr><th>Products</th><td>Rockets</td></tr>
	</table>`)
	require.NoError(t, err)
	assert.Equal(t, "Anvils", card["Products"])
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", normalize("  a  b\n\tc "))
	assert.Equal(t, "", normalize("  \n"))
}
