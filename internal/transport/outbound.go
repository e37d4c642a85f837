package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type OutboundMessage interface {
	Type() MessageType
	outbound()
}

type TextAnswer struct {
	QuestionID ID
	Text       string
}

type AudioChunk struct {
	QuestionID ID
	Audio      []byte
	ChunkIndex int
	IsFinal    bool
}

func (TextAnswer) Type() MessageType { return MessageTypeTextAnswer }
func (AudioChunk) Type() MessageType { return MessageTypeAudioChunk }

func (TextAnswer) outbound() {}
func (AudioChunk) outbound() {}

type textAnswerFrame struct {
	Type       MessageType `json:"type"`
	QuestionID ID          `json:"question_id"`
	AnswerText string      `json:"answer_text"`
}

type audioChunkFrame struct {
	Type       MessageType `json:"type"`
	QuestionID ID          `json:"question_id"`
	AudioData  string      `json:"audio_data"`
	ChunkIndex int         `json:"chunk_index"`
	IsFinal    bool        `json:"is_final"`
}

func Encode(msg OutboundMessage) ([]byte, error) {
	switch m := msg.(type) {
	case TextAnswer:
		return json.Marshal(textAnswerFrame{
			Type:       MessageTypeTextAnswer,
			QuestionID: m.QuestionID,
			AnswerText: m.Text,
		})
	case AudioChunk:
		return json.Marshal(audioChunkFrame{
			Type:       MessageTypeAudioChunk,
			QuestionID: m.QuestionID,
			AudioData:  base64.StdEncoding.EncodeToString(m.Audio),
			ChunkIndex: m.ChunkIndex,
			IsFinal:    m.IsFinal,
		})
	default:
		return nil, fmt.Errorf("unsupported outbound message %T", msg)
	}
}
