package profile

import "time"

// Profile is stored as one loosely typed document per user. Numeric fields
// are kept as the strings the user entered.
type Profile struct {
	UID         string    `bson:"uid" json:"uid"`
	FirstName   string    `bson:"first_name,omitempty" json:"first_name"`
	LastName    string    `bson:"last_name,omitempty" json:"last_name"`
	Email       string    `bson:"email,omitempty" json:"email"`
	Picture     string    `bson:"picture,omitempty" json:"picture,omitempty"`
	Age         string    `bson:"age,omitempty" json:"age,omitempty"`
	Gender      string    `bson:"gender,omitempty" json:"gender,omitempty"`
	Weight      string    `bson:"weight,omitempty" json:"weight,omitempty"`
	Height      string    `bson:"height,omitempty" json:"height,omitempty"`
	FitnessGoal string    `bson:"fitness_goal,omitempty" json:"fitness_goal,omitempty"`
	CreatedAt   time.Time `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at,omitempty" json:"updated_at"`
}

// UpdateRequest changes only the fields that are present.
type UpdateRequest struct {
	FirstName   *string `json:"first_name" validate:"omitempty,min=1"`
	LastName    *string `json:"last_name" validate:"omitempty,min=1"`
	Age         *string `json:"age" validate:"omitempty,numeric"`
	Gender      *string `json:"gender"`
	Weight      *string `json:"weight" validate:"omitempty,numeric"`
	Height      *string `json:"height" validate:"omitempty,numeric"`
	FitnessGoal *string `json:"fitness_goal"`
}

func (r UpdateRequest) fields() map[string]string {
	out := map[string]string{}
	set := func(key string, v *string) {
		if v != nil {
			out[key] = *v
		}
	}
	set("first_name", r.FirstName)
	set("last_name", r.LastName)
	set("age", r.Age)
	set("gender", r.Gender)
	set("weight", r.Weight)
	set("height", r.Height)
	set("fitness_goal", r.FitnessGoal)
	return out
}
