package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateInput_ISOAndTupleNormalizeToSameInstant(t *testing.T) {
	iso, err := ISODate("2024-05-01T10:00:00Z").Normalize()
	require.NoError(t, err)
	tuple, err := TupleDate(2024, 5, 1, 10, 0, 0).Normalize()
	require.NoError(t, err)

	assert.True(t, iso.Equal(tuple))

	loc := time.FixedZone("ICT", 7*3600)
	assert.Equal(t, "01/05/2024 17:00", FormatDate(ISODate("2024-05-01T10:00:00Z"), loc))
	assert.Equal(t, FormatDate(ISODate("2024-05-01T10:00:00Z"), loc), FormatDate(TupleDate(2024, 5, 1, 10, 0, 0), loc))
}

func TestDateInput_Normalize(t *testing.T) {
	cases := []struct {
		name string
		in   DateInput
		want time.Time
	}{
		{"rfc3339 offset", ISODate("2024-05-01T17:00:00+07:00"), time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"zone-less iso", ISODate("2024-05-01T10:00:00"), time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"zone-less iso with fraction", ISODate("2024-05-01T10:00:00.250"), time.Date(2024, 5, 1, 10, 0, 0, 250_000_000, time.UTC)},
		{"tuple with nanos", TupleDate(2024, 5, 1, 10, 0, 1, 500), time.Date(2024, 5, 1, 10, 0, 1, 500, time.UTC)},
		{"tuple without seconds", TupleDate(2024, 5, 1, 10, 30), time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.Normalize()
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}
}

func TestDateInput_Invalid(t *testing.T) {
	for _, in := range []DateInput{
		{},
		ISODate("yesterday"),
		TupleDate(2024, 5, 1),
		TupleDate(2024, 13, 1, 10, 0, 0),
		TupleDate(2024, 2, 30, 10, 0, 0),
		TupleDate(2024, 5, 1, 10, 0, 0, 0, 0),
	} {
		_, err := in.Normalize()
		assert.ErrorIs(t, err, ErrInvalidDate)
		assert.Equal(t, InvalidDate, FormatDate(in, time.UTC))
	}
}

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	var got struct {
		A Timestamp `json:"a"`
		B Timestamp `json:"b"`
		C Timestamp `json:"c"`
		D Timestamp `json:"d"`
	}
	payload := `{"a":"2024-05-01T10:00:00Z","b":[2024,5,1,10,0,0],"c":"garbage","d":{"x":1}}`
	require.NoError(t, json.Unmarshal([]byte(payload), &got))

	assert.True(t, got.A.Valid)
	assert.True(t, got.B.Valid)
	assert.True(t, got.A.Equal(got.B.Time))
	assert.False(t, got.C.Valid)
	assert.False(t, got.D.Valid)
	assert.Equal(t, InvalidDate, got.C.FormatIn(time.UTC))
}

func TestTimestamp_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(NewTimestamp(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.JSONEq(t, `"2024-05-01T10:00:00Z"`, string(b))

	b, err = json.Marshal(Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestMessage_DecodesTupleTimestamp(t *testing.T) {
	var m Message
	payload := `{"id":"42","content":"hi","message_room_id":"r1","sender_id":7,"sent_at":[2024,5,1,10,0,0,0],"message_type":"TEXT"}`
	require.NoError(t, json.Unmarshal([]byte(payload), &m))

	assert.Equal(t, "42", m.ID)
	assert.Equal(t, UserID(7), m.SenderID)
	assert.True(t, m.SentAt.Valid)
	assert.False(t, m.IsTemp())
	assert.True(t, IsTempID(TempID(123)))
}
