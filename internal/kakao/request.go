package kakao

import (
	"errors"
	"strings"
)

// TestUserID identifies turns submitted through the Swagger test route,
// which has no platform user behind it.
const TestUserID = "swagger-test"

// ErrMissingInput reports that no payload shape yielded both a user input
// and a user id.
var ErrMissingInput = errors.New("kakao: payload has no usable input")

// SkillPayload is the union of every request shape the skill server
// receives: the flat Swagger test shape, the openbuilder action shapes, and
// the raw userRequest fallback.
type SkillPayload struct {
	Model       string       `json:"model,omitempty"`
	Input       string       `json:"input,omitempty"`
	Action      *Action      `json:"action,omitempty"`
	UserRequest *UserRequest `json:"userRequest,omitempty"`
}

// Action carries the intent parameters the platform resolved for the
// triggering block.
type Action struct {
	Name         string                 `json:"name,omitempty"`
	Params       map[string]string      `json:"params,omitempty"`
	DetailParams map[string]DetailParam `json:"detailParams,omitempty"`
}

// DetailParam is the platform's verbose parameter form; Value holds the
// resolved text.
type DetailParam struct {
	Origin string `json:"origin,omitempty"`
	Value  string `json:"value,omitempty"`
}

// UserRequest is the platform's raw request block: the unprocessed utterance
// plus the sending user.
type UserRequest struct {
	Utterance string `json:"utterance,omitempty"`
	User      User   `json:"user,omitempty"`
}

type User struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
}

// Normalized is the relay's view of an incoming request after shape probing.
type Normalized struct {
	Model  string
	Input  string
	UserID string
}

// Normalize resolves (model, input, userID) from the payload. Shapes are
// tried in a fixed precedence, stopping at the first one that yields a
// non-empty input: the flat test fields, then action.params, then
// action.detailParams, then the raw userRequest utterance. Platform shapes
// always use defaultModel; only the flat test shape may choose its own model.
func Normalize(p SkillPayload, defaultModel string) (Normalized, error) {
	if input := strings.TrimSpace(p.Input); input != "" {
		model := strings.TrimSpace(p.Model)
		if model == "" {
			model = defaultModel
		}
		userID := TestUserID
		if p.UserRequest != nil && strings.TrimSpace(p.UserRequest.User.ID) != "" {
			userID = strings.TrimSpace(p.UserRequest.User.ID)
		}
		return Normalized{Model: model, Input: input, UserID: userID}, nil
	}

	var input string
	if p.Action != nil {
		input = strings.TrimSpace(p.Action.Params["input"])
		if input == "" {
			input = strings.TrimSpace(p.Action.DetailParams["input"].Value)
		}
	}

	var userID string
	if p.UserRequest != nil {
		userID = strings.TrimSpace(p.UserRequest.User.ID)
		if input == "" {
			input = strings.TrimSpace(p.UserRequest.Utterance)
		}
	}

	if input == "" || userID == "" {
		return Normalized{}, ErrMissingInput
	}
	return Normalized{Model: defaultModel, Input: input, UserID: userID}, nil
}
