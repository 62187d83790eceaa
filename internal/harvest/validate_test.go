package harvest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func validRequest() JobRequest {
	return JobRequest{
		JobID:         uuid.New(),
		UserProfileID: 2,
		PlaceIDs:      []string{"P1"},
		MaxReviews:    10,
	}
}

func TestValidateRequest_Valid(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateRequest(validRequest()))

	req := validRequest()
	req.PlaceIDs = nil
	req.SearchStrings = []string{"pizza near downtown"}
	require.NoError(t, ValidateRequest(req))
}

func TestValidateRequest_RejectsMissingCriteria(t *testing.T) {
	t.Parallel()

	req := validRequest()
	req.PlaceIDs = nil
	err := ValidateRequest(req)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "place_ids", verr.Field)
}

func TestValidateRequest_RejectsBothCriteria(t *testing.T) {
	t.Parallel()

	req := validRequest()
	req.SearchStrings = []string{"pizza"}
	err := ValidateRequest(req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "search_strings", verr.Field)
}

func TestValidateRequest_RejectsBadUserProfile(t *testing.T) {
	t.Parallel()

	req := validRequest()
	req.UserProfileID = 0
	var verr *ValidationError
	require.ErrorAs(t, ValidateRequest(req), &verr)
	require.Equal(t, "user_profile_id", verr.Field)
}

func TestValidateRequest_RejectsNilJobID(t *testing.T) {
	t.Parallel()

	req := validRequest()
	req.JobID = uuid.Nil
	var verr *ValidationError
	require.ErrorAs(t, ValidateRequest(req), &verr)
	require.Equal(t, "job_id", verr.Field)
}

func TestValidateRequest_RejectsNegativeMaxReviews(t *testing.T) {
	t.Parallel()

	req := validRequest()
	req.MaxReviews = -1
	var verr *ValidationError
	require.ErrorAs(t, ValidateRequest(req), &verr)
	require.Equal(t, "max_reviews", verr.Field)
}
