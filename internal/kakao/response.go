package kakao

// Fixed user-facing messages. The platform renders these verbatim inside the
// chat bubble, so they stay in the service language.
const (
	MsgInvalidJSON  = "요청 본문을 해석할 수 없습니다."
	MsgMissingInput = "질문 내용을 찾을 수 없습니다."
	MsgUpstream     = "GPT 응답을 불러오는 데 실패했습니다."
	MsgInternal     = "요청을 처리하는 중 문제가 발생했습니다."
)

const envelopeVersion = "2.0"

// SkillResponse is the response envelope the chat platform expects for every
// webhook reply, error or not.
type SkillResponse struct {
	Version  string   `json:"version"`
	Template Template `json:"template"`
}

type Template struct {
	Outputs []Output `json:"outputs"`
}

type Output struct {
	SimpleText SimpleTextOutput `json:"simpleText"`
}

type SimpleTextOutput struct {
	Text string `json:"text"`
}

// SimpleText wraps reply text, including empty text, in the platform
// envelope as-is.
func SimpleText(text string) SkillResponse {
	return SkillResponse{
		Version: envelopeVersion,
		Template: Template{
			Outputs: []Output{{SimpleText: SimpleTextOutput{Text: text}}},
		},
	}
}

// ErrorText wraps an error message in the same envelope with an error
// marker, since the platform accepts failures only as ordinary replies.
func ErrorText(msg string) SkillResponse {
	return SimpleText("[error]\n" + msg)
}
