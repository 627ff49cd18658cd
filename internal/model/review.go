package model

import (
	"math"
	"time"

	"reviewcore/internal/domain"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/permission"
	"reviewcore/internal/revision"
)

const (
	MinStarRating = 1
	MaxStarRating = 5
)

type Review struct {
	revision.Meta
	permission.Flags `db:"-"`

	ThingID          string          `json:"thingID"`
	Title            mlstring.String `json:"title"`
	Text             mlstring.String `json:"text"`
	HTML             mlstring.String `json:"html"`
	StarRating       int             `json:"starRating"`
	OriginalLanguage string          `json:"originalLanguage"`
	CreatedOn        time.Time       `json:"createdOn"`
	CreatedBy        string          `json:"createdBy"`

	Teams    []string `json:"teams,omitempty" db:"-"`
	TeamData []*Team  `json:"teamData,omitempty" db:"-"`
	Thing    *Thing   `json:"thing,omitempty" db:"-"`
	Creator  *User    `json:"creator,omitempty" db:"-"`

	ratingErr error
}

// SetStarRating accepts integers and integral floats. Anything else is
// recorded and reported by Validate; values are never clamped.
func (r *Review) SetStarRating(v any) {
	r.ratingErr = nil
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint:
		n = int64(min(x, math.MaxInt32+1))
	case uint64:
		n = int64(min(x, math.MaxInt32+1))
	case float32:
		f := float64(x)
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			r.ratingErr = domain.Invalid("starRating", "must be an integer")
			return
		}
		n = int64(f)
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			r.ratingErr = domain.Invalid("starRating", "must be an integer")
			return
		}
		n = int64(x)
	default:
		r.ratingErr = domain.Invalid("starRating", "must be a number, got %T", v)
		return
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		r.ratingErr = domain.Invalid("starRating", "must be between %d and %d", MinStarRating, MaxStarRating)
		return
	}
	r.StarRating = int(n)
}

func (r *Review) Validate() error {
	if r.ratingErr != nil {
		return r.ratingErr
	}
	if r.StarRating < MinStarRating || r.StarRating > MaxStarRating {
		return domain.Invalid("starRating", "must be between %d and %d", MinStarRating, MaxStarRating)
	}
	if err := required("thingID", r.ThingID); err != nil {
		return err
	}
	if err := validateLanguage(r.OriginalLanguage); err != nil {
		return err
	}
	if err := r.Title.Validate("title", r.OriginalLanguage, mlstring.Options{Required: true, MaxLength: 255}); err != nil {
		return err
	}
	if err := r.Text.Validate("text", r.OriginalLanguage, mlstring.Options{Required: true}); err != nil {
		return err
	}
	for lang := range r.HTML {
		if _, ok := r.Text[lang]; !ok {
			return domain.Invalid("html", "html variant for %q has no text", lang)
		}
	}
	if err := required("createdBy", r.CreatedBy); err != nil {
		return err
	}
	if r.CreatedOn.IsZero() {
		return domain.Invalid("createdOn", "required")
	}
	return nil
}

func (r *Review) RelatedIDs(name string) ([]string, bool) {
	if name == ReviewTeams.Name {
		return r.Teams, r.Teams != nil
	}
	return nil, false
}

// PopulateUserInfo sets the review's flags and those of its hydrated
// thing and creator.
func (r *Review) PopulateUserInfo(v *permission.Viewer) {
	r.Flags = permission.ForReview(r.CreatedBy, v)
	if r.Thing != nil {
		r.Thing.PopulateUserInfo(v)
	}
	if r.Creator != nil {
		r.Creator.PopulateUserInfo(v)
	}
}
