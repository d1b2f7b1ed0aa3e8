package types

import "time"

// Category classifies a post. Only the values listed in Categories are valid.
type Category string

const (
	CategoryAgriculture   Category = "Agriculture"
	CategoryBusiness      Category = "Business"
	CategoryEducation     Category = "Education"
	CategoryEntertainment Category = "Entertainment"
	CategoryFood          Category = "Food"
	CategorySports        Category = "Sports"
	CategoryWeather       Category = "Weather"
	CategoryUncategorized Category = "Uncategorized"
)

// Categories lists every supported category.
var Categories = []Category{
	CategoryAgriculture,
	CategoryBusiness,
	CategoryEducation,
	CategoryEntertainment,
	CategoryFood,
	CategorySports,
	CategoryWeather,
	CategoryUncategorized,
}

// Valid reports whether c is one of the supported categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Post represents a blog post with a thumbnail image.
type Post struct {
	// ID is the unique identifier of the post.
	ID int `json:"id" db:"id"`

	// Title is the headline of the post.
	Title string `json:"title" db:"title"`

	// Category is the post's category.
	Category Category `json:"category" db:"category"`

	// Description is the body of the post.
	Description string `json:"description" db:"description"`

	// ThumbnailURL is the media host URL of the post's thumbnail image.
	ThumbnailURL string `json:"thumbnail_url" db:"thumbnail_url"`

	// CreatorID references the user who created the post. It never changes
	// after creation.
	CreatorID int `json:"creator_id" db:"creator_id"`

	// CreatedAt is the timestamp at which the post was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the post.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
