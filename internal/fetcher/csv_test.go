package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_Basic(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("symbol,name\nABC, Abc Corp \n"), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"symbol", "name"}, rows[0])
	assert.Equal(t, []string{"ABC", "Abc Corp"}, rows[1])
}

func TestReadCSV_StripsUTF8BOM(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("\ufeffsymbol,name\nABC,Abc\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, "symbol", rows[0][0])
}

func TestReadCSV_DecodesUTF16(t *testing.T) {
	// "s,n\n" encoded as UTF-16LE with a byte-order mark.
	input := string([]byte{0xFF, 0xFE, 's', 0, ',', 0, 'n', 0, '\n', 0})
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"s", "n"}, rows[0])
}

func TestReadCSV_Delimiter(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("a|b\n1|2\n"), CSVOptions{Delimiter: '|'})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, rows[1])
}

func TestReadCSV_Comment(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("# header note\na,b\n"), CSVOptions{Comment: '#'})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestReadCSV_VariableFields(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("a,b,c\n1\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Len(t, rows[1], 1)
}

func TestReadCSV_Malformed(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a,\"b\n"), CSVOptions{})
	assert.Error(t, err)
}

func TestStreamCSV_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a,b\n1,2\n"), CSVOptions{})
	for range rowCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}
