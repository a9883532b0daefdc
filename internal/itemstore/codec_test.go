package itemstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	when := time.Date(2023, 7, 4, 9, 30, 0, 123, time.UTC)
	tests := []struct {
		name  string
		value any
	}{
		{name: "string", value: "hello"},
		{name: "empty string", value: ""},
		{name: "int", value: int64(-42)},
		{name: "zero int", value: int64(0)},
		{name: "bool true", value: true},
		{name: "bool false", value: false},
		{name: "time", value: when},
		{name: "zero time", value: time.Time{}},
		{name: "time before 1678", value: time.Date(1500, 3, 1, 0, 0, 0, 7, time.UTC)},
		{name: "time after 2262", value: time.Date(3000, 3, 1, 0, 0, 0, 7, time.UTC)},
		{name: "bytes", value: []byte{0, 1, 2}},
		{name: "empty bytes", value: []byte{}},
		{name: "link", value: ItemID(7)},
		{name: "links", value: []ItemID{3, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.value)
			require.NoError(t, err)
			got, err := Decode(b)
			require.NoError(t, err)
			if want, ok := tt.value.(time.Time); ok {
				assert.True(t, want.Equal(got.(time.Time)))
				return
			}
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestCodec_Deterministic(t *testing.T) {
	a, err := Encode("same")
	require.NoError(t, err)
	b, err := Encode("same")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	s, _ := Encode("1")
	i, _ := Encode(int64(1))
	l, _ := Encode(ItemID(1))
	assert.NotEqual(t, s, i)
	assert.NotEqual(t, i, l)
}

func TestCodec_TimeIgnoresLocation(t *testing.T) {
	utc := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("X", 3600))
	a, _ := Encode(utc)
	b, _ := Encode(local)
	assert.Equal(t, a, b)
}

func TestCodec_TimesOutsideNanosecondRange(t *testing.T) {
	zero, err := Encode(time.Time{})
	require.NoError(t, err)
	early, err := Encode(time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	late, err := Encode(time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.NotEqual(t, zero, early)
	assert.NotEqual(t, zero, late)
	assert.NotEqual(t, early, late)
}

func TestCodec_Rejects(t *testing.T) {
	_, err := Encode(1.5)
	assert.ErrorIs(t, err, ErrValue)

	_, err = Decode([]byte{0xc1})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	got, err := Normalize(Attribute{Name: "s", Kind: LinkSet}, []ItemID{3, 1, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, []ItemID{1, 2, 3}, got)

	got, err = Normalize(Attribute{Name: "l", Kind: LinkList}, []ItemID{3, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, []ItemID{3, 1, 3}, got)

	got, err = Normalize(Attribute{Name: "l", Kind: LinkList}, []ItemID{})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = Normalize(Attribute{Name: "n"}, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	_, err = Normalize(Attribute{Name: "o", Kind: Link}, ItemID(0))
	assert.ErrorIs(t, err, ErrValue)
	_, err = Normalize(Attribute{Name: "o", Kind: Link}, int64(4))
	assert.ErrorIs(t, err, ErrValue)
}

func TestSQLite_Pragmas(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "items.db"))
	require.NoError(t, err)
	defer s.Close()

	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var version int
	require.NoError(t, s.DB().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	for _, table := range []string{"items", "attribute_values", "materialized"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}
