package harvest

import "github.com/google/uuid"

// ValidateRequest checks the shape of an incoming job request. It has no
// side effects; the duplicate-JobID guard is enforced atomically by the
// tracker when the job row is created.
func ValidateRequest(req JobRequest) error {
	if req.JobID == uuid.Nil {
		return &ValidationError{Field: "job_id", Reason: "must be a well-formed UUID"}
	}
	if req.UserProfileID <= 0 {
		return &ValidationError{Field: "user_profile_id", Reason: "must be a positive integer"}
	}
	hasPlaces := len(req.PlaceIDs) > 0
	hasSearches := len(req.SearchStrings) > 0
	if !hasPlaces && !hasSearches {
		return &ValidationError{Field: "place_ids", Reason: "one of place_ids or search_strings is required"}
	}
	if hasPlaces && hasSearches {
		return &ValidationError{Field: "search_strings", Reason: "place_ids and search_strings are mutually exclusive"}
	}
	for _, id := range req.PlaceIDs {
		if id == "" {
			return &ValidationError{Field: "place_ids", Reason: "entries must be non-empty"}
		}
	}
	for _, s := range req.SearchStrings {
		if s == "" {
			return &ValidationError{Field: "search_strings", Reason: "entries must be non-empty"}
		}
	}
	if req.MaxReviews < 0 {
		return &ValidationError{Field: "max_reviews", Reason: "must be >= 0"}
	}
	return nil
}
