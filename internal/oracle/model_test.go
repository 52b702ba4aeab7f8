package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
)

// #region mock
type scriptedReply struct {
	text string
	err  error
}

type mockChat struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []openai.ChatCompletionRequest
}

func (m *mockChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.replies) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("no scripted reply")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	if r.err != nil {
		return openai.ChatCompletionResponse{}, r.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: r.text}}},
	}, nil
}

type mockImages struct{}

func (mockImages) Panorama(_ context.Context, vp graph.ViewPoint) (string, error) {
	return "https://img.example/" + vp.Filename, nil
}

func (mockImages) Perspective(_ context.Context, vp graph.ViewPoint, heading float64) (string, error) {
	return fmt.Sprintf("https://img.example/%s?heading=%.0f", vp.Filename, heading), nil
}

func twoWay() graph.ViewPoint {
	return graph.ViewPoint{
		Position:         graph.Position{Filename: "a.jpg", Longitude: 116, Latitude: 39},
		WalkableHeadings: []float64{0, 90},
	}
}

const choiceB = `{"action": "B", "score": 0.8, "thoughts": "shops to the east", "observation": {"A": "houses", "B": "shops"}}`

// #endregion mock

func TestModelChoosesAfterStopCheck(t *testing.T) {
	chat := &mockChat{replies: []scriptedReply{
		{text: `{"action": 0, "thoughts": "not here", "observation": "a quiet street"}`},
		{text: choiceB},
	}}
	m := NewModelWithClient(chat, ModelConfig{Model: "test"}, nil, nil)

	d, err := m.Decide(context.Background(), Request{Question: "find a bakery", ViewPoint: twoWay()})
	require.NoError(t, err)
	assert.False(t, d.Stop)
	assert.Equal(t, 1, d.Action)
	assert.InDelta(t, 0.8, d.Score, 1e-9)
	assert.Equal(t, "not here", d.Thought)
	assert.Equal(t, "a quiet street", d.Observation)
	assert.Equal(t, map[string]string{"A": "houses", "B": "shops"}, d.PerspectiveObservation)

	require.Len(t, chat.requests, 2)
	assert.Contains(t, chat.requests[0].Messages[0].Content, "find a bakery")
	assert.Contains(t, chat.requests[1].Messages[0].Content, "There are 2 images.")
}

func TestModelStops(t *testing.T) {
	chat := &mockChat{replies: []scriptedReply{
		{text: `{"action": 1, "thoughts": "bakery on the corner", "observation": "bread sign"}`},
	}}
	m := NewModelWithClient(chat, ModelConfig{Model: "test"}, nil, nil)

	d, err := m.Decide(context.Background(), Request{Question: "find a bakery", ViewPoint: twoWay()})
	require.NoError(t, err)
	assert.True(t, d.Stop)
	assert.Equal(t, "bakery on the corner", d.Thought)
	assert.Len(t, chat.requests, 1)
}

func TestModelStopCheckFailureContinues(t *testing.T) {
	chat := &mockChat{replies: []scriptedReply{
		{err: errors.New("503")},
		{text: "```json\n" + choiceB + "\n```"},
	}}
	m := NewModelWithClient(chat, ModelConfig{Model: "test"}, nil, nil)

	d, err := m.Decide(context.Background(), Request{ViewPoint: twoWay()})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Action)
	assert.Equal(t, "shops to the east", d.Thought)
}

func TestModelMalformedChoice(t *testing.T) {
	chat := &mockChat{replies: []scriptedReply{
		{text: `{"action": 0}`},
		{text: "I would go left."},
	}}
	m := NewModelWithClient(chat, ModelConfig{Model: "test"}, nil, nil)

	_, err := m.Decide(context.Background(), Request{ViewPoint: twoWay()})
	assert.ErrorIs(t, err, ErrOutputFormat)
}

func TestModelSendsImages(t *testing.T) {
	chat := &mockChat{replies: []scriptedReply{
		{text: `{"action": 0}`},
		{text: choiceB},
	}}
	m := NewModelWithClient(chat, ModelConfig{Model: "test"}, mockImages{}, nil)

	_, err := m.Decide(context.Background(), Request{ViewPoint: twoWay()})
	require.NoError(t, err)
	require.Len(t, chat.requests, 2)

	stopParts := chat.requests[0].Messages[0].MultiContent
	require.Len(t, stopParts, 2)
	assert.Equal(t, "https://img.example/a.jpg", stopParts[1].ImageURL.URL)

	// prompt, then a label and an image per heading
	choiceParts := chat.requests[1].Messages[0].MultiContent
	require.Len(t, choiceParts, 5)
	assert.Equal(t, "Image B:", choiceParts[3].Text)
	assert.True(t, strings.HasSuffix(choiceParts[4].ImageURL.URL, "heading=90"))
}

func TestModelRelativeDirectionsInPrompt(t *testing.T) {
	chat := &mockChat{replies: []scriptedReply{{text: `{"action": 0}`}, {text: choiceB}}}
	m := NewModelWithClient(chat, ModelConfig{Model: "test"}, nil, nil)

	forward := 0.0
	_, err := m.Decide(context.Background(), Request{ViewPoint: twoWay(), LastForwardAzimuth: &forward})
	require.NoError(t, err)
	prompt := chat.requests[1].Messages[0].Content
	assert.Contains(t, prompt, "Image A is on your FRONT.")
	assert.Contains(t, prompt, "Image B is on your LEFT.")
}

func TestModelNoHeadings(t *testing.T) {
	m := NewModelWithClient(&mockChat{}, ModelConfig{Model: "test"}, nil, nil)
	_, err := m.Decide(context.Background(), Request{ViewPoint: graph.ViewPoint{}})
	assert.Error(t, err)
}

func TestNewModelRequiresCredentials(t *testing.T) {
	_, err := NewModel(ModelConfig{Model: "gpt-4o"}, nil, nil)
	assert.Error(t, err)

	_, err = NewModel(ModelConfig{APIKey: "sk-test"}, nil, nil)
	assert.Error(t, err)

	m, err := NewModel(ModelConfig{APIKey: "sk-test", Model: "gpt-4o", BaseURL: "http://localhost:1/v1"}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
