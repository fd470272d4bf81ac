package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("hello world\n"), "Name", &out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Equal(t, "Name: ", out.String())
}

func TestGetSimpleTextEOF(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("lastline"), "Name", &out)
	require.NoError(t, err)
	assert.Equal(t, "lastline", got)

	_, err = GetSimpleText(rdr(""), "Name", &out)
	require.Error(t, err)
}

func TestGetMultiline(t *testing.T) {
	tests := []struct {
		name, input, want string
	}{
		{"double enter", "a\nb\n\n\n", "a\nb"},
		{"windows newlines", "a\r\nb\r\n\r\n", "a\nb"},
		{"eof without blank line", "a\nb", "a\nb"},
		{"immediate blank line", "\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := GetMultiline(rdr(tt.input), "Enter text", &out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetPassword(t *testing.T) {
	oldRead, oldTerm := readPassword, isTerminal
	t.Cleanup(func() { readPassword, isTerminal = oldRead, oldTerm })

	t.Run("terminal", func(t *testing.T) {
		isTerminal = func(int) bool { return true }
		readPassword = func(int) ([]byte, error) { return []byte("s3cret"), nil }
		var out bytes.Buffer
		pw, err := GetPassword(rdr("ignored\n"), "Password", &out)
		require.NoError(t, err)
		assert.Equal(t, "s3cret", string(pw))
		assert.Equal(t, "Password: \n", out.String())
	})

	t.Run("terminal error", func(t *testing.T) {
		isTerminal = func(int) bool { return true }
		readPassword = func(int) ([]byte, error) { return nil, errors.New("boom") }
		var out bytes.Buffer
		_, err := GetPassword(rdr(""), "Password", &out)
		require.Error(t, err)
	})

	t.Run("piped", func(t *testing.T) {
		isTerminal = func(int) bool { return false }
		var out bytes.Buffer
		pw, err := GetPassword(rdr("from-pipe\n"), "Password", &out)
		require.NoError(t, err)
		assert.Equal(t, "from-pipe", string(pw))
	})
}

func TestParseSets(t *testing.T) {
	fields, err := parseSets([]string{"title=Mail", "password=a=b", "notes="})
	require.NoError(t, err)
	assert.Equal(t, []models.Field{
		{Label: "title", Value: "Mail"},
		{Label: "password", Value: "a=b"},
		{Label: "notes", Value: ""},
	}, fields)

	_, err = parseSets([]string{"no-equals"})
	require.ErrorIs(t, err, common.ErrInvalidArgument)
	_, err = parseSets([]string{"=value"})
	require.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestMasked(t *testing.T) {
	assert.Equal(t, "********", masked(models.LabelCVV, "123", false))
	assert.Equal(t, "123", masked(models.LabelCVV, "123", true))
	assert.Equal(t, "", masked(models.LabelPassword, "", false))
	assert.Equal(t, "me", masked(models.LabelUsername, "me", false))
}
