package transport

import (
	"encoding/json"
	"fmt"

	"github.com/eleven-am/interview-realtime/internal/shared"
)

type MessageType string

const (
	MessageTypeQuestion            MessageType = "question"
	MessageTypeFollowUpQuestion    MessageType = "follow_up_question"
	MessageTypeTranscription       MessageType = "transcription"
	MessageTypeTranscriptionResult MessageType = "transcription_result"
	MessageTypeVoiceMetrics        MessageType = "voice_metrics"
	MessageTypeEvaluation          MessageType = "evaluation"
	MessageTypeInterviewComplete   MessageType = "interview_complete"
	MessageTypeError               MessageType = "error"

	MessageTypeTextAnswer MessageType = "text_answer"
	MessageTypeAudioChunk MessageType = "audio_chunk"
)

// InboundMessage is one decoded frame from the interview engine. The set of
// implementations is closed; callers switch on the concrete type.
type InboundMessage interface {
	Type() MessageType
	inbound()
}

type Question struct {
	Text         string `json:"text"`
	QuestionID   ID     `json:"question_id"`
	QuestionType string `json:"question_type,omitempty"`
	Difficulty   string `json:"difficulty,omitempty"`
	AudioData    string `json:"audio_data,omitempty"`
}

type FollowUpQuestion struct {
	Text             string `json:"text"`
	QuestionID       ID     `json:"question_id"`
	ParentQuestionID ID     `json:"parent_question_id"`
	GeneratedReason  string `json:"generated_reason,omitempty"`
	OrderInSequence  int    `json:"order_in_sequence"`
	AudioData        string `json:"audio_data,omitempty"`
}

type Transcription struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

type TranscriptionResult struct {
	Text         string         `json:"text"`
	VoiceMetrics *VoiceMetrics  `json:"voice_metrics,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type VoiceMetrics struct {
	IntonationScore float64 `json:"intonation_score"`
	FluencyScore    float64 `json:"fluency_score"`
	ConfidenceScore float64 `json:"confidence_score"`
	SpeakingRateWPM float64 `json:"speaking_rate_wpm"`
	RealTime        bool    `json:"real_time"`
}

// Evaluation carries the engine's scoring payload verbatim; its schema is
// owned by the engine.
type Evaluation struct {
	QuestionID ID              `json:"question_id"`
	Payload    json.RawMessage `json:"-"`
}

type InterviewComplete struct {
	DetailedFeedback json.RawMessage `json:"detailed_feedback"`
}

type ProtocolError struct {
	Code    ID     `json:"code"`
	Message string `json:"message"`
}

func (e ProtocolError) Error() string {
	if e.Code.IsZero() {
		return "engine error: " + e.Message
	}
	return fmt.Sprintf("engine error %s: %s", e.Code, e.Message)
}

// Unhandled is any frame whose discriminator this client does not model.
type Unhandled struct {
	Kind MessageType
	Raw  json.RawMessage
}

func (Question) Type() MessageType            { return MessageTypeQuestion }
func (FollowUpQuestion) Type() MessageType    { return MessageTypeFollowUpQuestion }
func (Transcription) Type() MessageType       { return MessageTypeTranscription }
func (TranscriptionResult) Type() MessageType { return MessageTypeTranscriptionResult }
func (VoiceMetrics) Type() MessageType        { return MessageTypeVoiceMetrics }
func (Evaluation) Type() MessageType          { return MessageTypeEvaluation }
func (InterviewComplete) Type() MessageType   { return MessageTypeInterviewComplete }
func (ProtocolError) Type() MessageType       { return MessageTypeError }
func (u Unhandled) Type() MessageType         { return u.Kind }

func (Question) inbound()            {}
func (FollowUpQuestion) inbound()    {}
func (Transcription) inbound()       {}
func (TranscriptionResult) inbound() {}
func (VoiceMetrics) inbound()        {}
func (Evaluation) inbound()          {}
func (InterviewComplete) inbound()   {}
func (ProtocolError) inbound()       {}
func (Unhandled) inbound()           {}

// Decode parses one text frame. Only malformed JSON or a missing
// discriminator is an error; unknown discriminators decode to Unhandled.
func Decode(data []byte) (InboundMessage, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrProtocol, err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("%w: missing type", shared.ErrProtocol)
	}

	switch envelope.Type {
	case MessageTypeQuestion:
		return decodeAs[Question](data)
	case MessageTypeFollowUpQuestion:
		return decodeAs[FollowUpQuestion](data)
	case MessageTypeTranscription:
		return decodeAs[Transcription](data)
	case MessageTypeTranscriptionResult:
		return decodeAs[TranscriptionResult](data)
	case MessageTypeVoiceMetrics:
		return decodeAs[VoiceMetrics](data)
	case MessageTypeEvaluation:
		msg, err := decodeAs[Evaluation](data)
		if err != nil {
			return nil, err
		}
		ev := msg.(Evaluation)
		ev.Payload = append(json.RawMessage(nil), data...)
		return ev, nil
	case MessageTypeInterviewComplete:
		return decodeAs[InterviewComplete](data)
	case MessageTypeError:
		return decodeAs[ProtocolError](data)
	default:
		return Unhandled{Kind: envelope.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func decodeAs[T InboundMessage](data []byte) (InboundMessage, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", shared.ErrProtocol, msg.Type(), err)
	}
	return msg, nil
}
