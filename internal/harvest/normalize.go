package harvest

import (
	"strings"
	"time"
)

// Normalized is the canonical form of one raw provider record. Location is
// always populated (error records for an existing place still carry business
// fields); Review is nil for provider-side error records. Row identifiers and
// foreign keys are assigned later by the persistence writer.
type Normalized struct {
	Location      Location
	Branch        *Branch
	Review        *Review
	ProviderError string
}

// Normalize maps a raw provider record into canonical entities. It is a pure
// function: no I/O, no clock. Records missing a natural key are rejected with
// MalformedRecordError so callers can skip and count them without aborting
// the batch.
func Normalize(rec RawReviewRecord) (Normalized, error) {
	placeID := recString(rec, "placeId", "place_id")
	if placeID == "" {
		return Normalized{}, &MalformedRecordError{Reason: "missing placeId"}
	}

	out := Normalized{
		Location: Location{
			ExternalPlaceID: placeID,
			Name:            recString(rec, "title", "name"),
			Category:        CategorizeBusiness(recString(rec, "categoryName", "category_name")),
			Address:         recString(rec, "address"),
			City:            recString(rec, "city"),
			PostalCode:      recString(rec, "postalCode", "postal_code"),
			CountryCode:     recString(rec, "countryCode", "country_code"),
		},
	}

	if branchID := recString(rec, "branchId", "branch_id"); branchID != "" {
		out.Branch = &Branch{
			ExternalID: branchID,
			Name:       recString(rec, "branchName", "branch_name"),
		}
	}

	// Provider-side error records (e.g. no_reviews) carry no review payload;
	// the business fields above are still usable.
	if provErr := recString(rec, "error"); provErr != "" {
		out.ProviderError = recString(rec, "errorDescription", "error_description")
		if out.ProviderError == "" {
			out.ProviderError = provErr
		}
		return out, nil
	}

	reviewID := recString(rec, "reviewId", "review_id")
	if reviewID == "" {
		return Normalized{}, &MalformedRecordError{Reason: "missing reviewId"}
	}

	rating := recFloat(rec, "stars", "rating")
	text := recString(rec, "text", "reviewText")
	out.Review = &Review{
		ExternalID:  reviewID,
		AuthorID:    recString(rec, "reviewerId", "reviewer_id", "authorId"),
		Rating:      rating,
		Text:        text,
		PublishedAt: recTime(rec, "publishedAtDate", "published_at"),
		Sentiment:   ClassifySentiment(rating, text),
		Category:    out.Location.Category,
	}
	return out, nil
}

// ClassifySentiment derives a coarse sentiment tag from the star rating,
// nudged by obvious lexical cues in the review text.
func ClassifySentiment(rating float64, text string) string {
	score := 0
	switch {
	case rating >= 4:
		score = 1
	case rating > 0 && rating <= 2:
		score = -1
	}
	lower := strings.ToLower(text)
	for _, w := range positiveCues {
		if strings.Contains(lower, w) {
			score++
			break
		}
	}
	for _, w := range negativeCues {
		if strings.Contains(lower, w) {
			score--
			break
		}
	}
	switch {
	case score > 0:
		return "positive"
	case score < 0:
		return "negative"
	default:
		return "neutral"
	}
}

var positiveCues = []string{"great", "excellent", "amazing", "friendly", "delicious", "recommend"}

var negativeCues = []string{"terrible", "awful", "rude", "dirty", "worst", "never again"}

// CategorizeBusiness maps a free-form provider category into a small
// canonical set used for tagging.
func CategorizeBusiness(providerCategory string) string {
	c := strings.ToLower(providerCategory)
	switch {
	case c == "":
		return "other"
	case containsAny(c, "restaurant", "cafe", "coffee", "bar", "bakery", "food"):
		return "food_drink"
	case containsAny(c, "hotel", "hostel", "lodging", "resort", "inn"):
		return "lodging"
	case containsAny(c, "store", "shop", "market", "mall", "retail"):
		return "retail"
	case containsAny(c, "salon", "gym", "clinic", "dentist", "repair", "service"):
		return "services"
	default:
		return "other"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func recString(rec RawReviewRecord, keys ...string) string {
	for _, k := range keys {
		if v, ok := rec[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func recFloat(rec RawReviewRecord, keys ...string) float64 {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
	}
	return 0
}

func recTime(rec RawReviewRecord, keys ...string) time.Time {
	for _, k := range keys {
		s, ok := rec[k].(string)
		if !ok || s == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
