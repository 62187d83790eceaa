package harvest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func rawRecord() RawReviewRecord {
	return RawReviewRecord{
		"placeId":         "P1",
		"title":           "Blue Door Cafe",
		"categoryName":    "Coffee shop",
		"address":         "12 Hill St",
		"city":            "Portland",
		"postalCode":      "97201",
		"countryCode":     "US",
		"reviewId":        "R1",
		"reviewerId":      "U42",
		"stars":           float64(5),
		"text":            "Great espresso, friendly staff",
		"publishedAtDate": "2026-03-01T10:00:00Z",
	}
}

func TestNormalize_WellFormedRecord(t *testing.T) {
	t.Parallel()

	norm, err := Normalize(rawRecord())
	require.NoError(t, err)

	require.Equal(t, "P1", norm.Location.ExternalPlaceID)
	require.Equal(t, "Blue Door Cafe", norm.Location.Name)
	require.Equal(t, "food_drink", norm.Location.Category)
	require.Nil(t, norm.Branch)
	require.Empty(t, norm.ProviderError)

	require.NotNil(t, norm.Review)
	require.Equal(t, "R1", norm.Review.ExternalID)
	require.Equal(t, "U42", norm.Review.AuthorID)
	require.Equal(t, 5.0, norm.Review.Rating)
	require.Equal(t, "positive", norm.Review.Sentiment)
	require.Equal(t, "food_drink", norm.Review.Category)
	require.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), norm.Review.PublishedAt)
}

func TestNormalize_MissingReviewIDIsMalformed(t *testing.T) {
	t.Parallel()

	rec := rawRecord()
	delete(rec, "reviewId")
	_, err := Normalize(rec)

	var merr *MalformedRecordError
	require.ErrorAs(t, err, &merr)
}

func TestNormalize_MissingPlaceIDIsMalformed(t *testing.T) {
	t.Parallel()

	rec := rawRecord()
	delete(rec, "placeId")
	_, err := Normalize(rec)

	var merr *MalformedRecordError
	require.ErrorAs(t, err, &merr)
}

func TestNormalize_ProviderErrorRecordKeepsBusinessInfo(t *testing.T) {
	t.Parallel()

	rec := RawReviewRecord{
		"placeId":          "P2",
		"title":            "Quiet Corner Books",
		"categoryName":     "Book store",
		"error":            "no_reviews",
		"errorDescription": "place has no reviews yet",
	}
	norm, err := Normalize(rec)
	require.NoError(t, err)
	require.Nil(t, norm.Review)
	require.Equal(t, "place has no reviews yet", norm.ProviderError)
	require.Equal(t, "P2", norm.Location.ExternalPlaceID)
	require.Equal(t, "retail", norm.Location.Category)
}

func TestNormalize_BranchRecord(t *testing.T) {
	t.Parallel()

	rec := rawRecord()
	rec["branchId"] = "B7"
	rec["branchName"] = "Airport kiosk"
	norm, err := Normalize(rec)
	require.NoError(t, err)
	require.NotNil(t, norm.Branch)
	require.Equal(t, "B7", norm.Branch.ExternalID)
	require.Equal(t, "Airport kiosk", norm.Branch.Name)
}

func TestClassifySentiment(t *testing.T) {
	t.Parallel()

	require.Equal(t, "positive", ClassifySentiment(5, "nothing special"))
	require.Equal(t, "negative", ClassifySentiment(1, ""))
	require.Equal(t, "neutral", ClassifySentiment(3, ""))
	// Lexical cues shift borderline ratings.
	require.Equal(t, "negative", ClassifySentiment(3, "the staff was rude"))
	require.Equal(t, "positive", ClassifySentiment(3, "would recommend to anyone"))
}
