package atom_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concourse-db/kernel/pkg/atom"
)

func Test_Value_Equal_Int_And_Float_Collide_On_Normalized_Form(t *testing.T) {
	t.Parallel()
	assert.True(t, atom.IntValue(18).Equal(atom.FloatValue(18.0)))
	assert.False(t, atom.IntValue(18).Equal(atom.FloatValue(18.5)))
}

func Test_Value_Equal_String_And_Tag_Are_Distinct(t *testing.T) {
	t.Parallel()
	assert.False(t, atom.StringValue("x").Equal(atom.TagValue("x")), "primary equality distinguishes String from Tag")
}

func Test_Value_Fingerprint_Int_And_Float_Collide(t *testing.T) {
	t.Parallel()
	assert.Equal(t, atom.IntValue(18).Fingerprint(), atom.FloatValue(18.0).Fingerprint())
}

func Test_Value_Fingerprint_String_And_Tag_Collide(t *testing.T) {
	t.Parallel()
	assert.Equal(t, atom.StringValue("hello").Fingerprint(), atom.TagValue("hello").Fingerprint(),
		"string and tag collide for index/search grouping even though Equal distinguishes them")
}

func Test_Fingerprint_Less_Is_Lexicographic_And_Irreflexive(t *testing.T) {
	t.Parallel()
	a := atom.Text("alice").Fingerprint()
	b := atom.Text("bob").Fingerprint()
	assert.False(t, a.Less(a))
	assert.NotEqual(t, a.Less(b), b.Less(a))
}

func Test_Fingerprint_IsZero(t *testing.T) {
	t.Parallel()
	var zero atom.Fingerprint
	assert.True(t, zero.IsZero())
	assert.False(t, atom.Text("x").Fingerprint().IsZero())
}

func Test_Value_Bytes_RoundTrips_Through_DecodeValue(t *testing.T) {
	t.Parallel()
	cases := []atom.Value{
		atom.NullValue(),
		atom.IntValue(-42),
		atom.FloatValue(3.5),
		atom.StringValue("hi"),
		atom.TagValue("hi"),
		atom.LinkValue(7),
		atom.BoolValue(true),
		atom.BlobValue([]byte{1, 2, 3}),
	}
	for _, v := range cases {
		buf := v.Bytes()
		decoded, n, err := atom.DecodeValue(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		if diff := cmp.Diff(v, decoded); diff != "" {
			t.Errorf("decoded value differs from original (-want +got):\n%s", diff)
		}
	}
}

func Test_Text_Bytes_RoundTrips_Through_DecodeText(t *testing.T) {
	t.Parallel()
	buf := atom.Text("hello world").Bytes()
	decoded, n, err := atom.DecodeText(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, atom.Text("hello world"), decoded)
}

func Test_PrimaryKey_Bytes_RoundTrips_Through_DecodePrimaryKey(t *testing.T) {
	t.Parallel()
	buf := atom.PrimaryKey(1234).Bytes()
	decoded, n, err := atom.DecodePrimaryKey(buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, atom.PrimaryKey(1234), decoded)
}

func Test_Position_Bytes_RoundTrips_Through_DecodePosition(t *testing.T) {
	t.Parallel()
	buf := atom.Position{Record: 9, Token: 3}.Bytes()
	decoded, n, err := atom.DecodePosition(buf)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, atom.Position{Record: 9, Token: 3}, decoded)
}

func Test_DecodeText_Truncated_Errors(t *testing.T) {
	t.Parallel()
	_, _, err := atom.DecodeText([]byte{0, 0, 0, 5, 'h', 'i'})
	assert.Error(t, err)
}

func Test_NormalizeTerm_Folds_Case_And_Splits_Punctuation(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"jeff", "s", "cat"}, atom.NormalizeTerm("Jeff's Cat"))
}

func Test_NormalizeTerm_Empty_Input_Yields_No_Tokens(t *testing.T) {
	t.Parallel()
	assert.Nil(t, atom.NormalizeTerm("   "))
}
