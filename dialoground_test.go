package weft

import "testing"

func roundShapes(rounds []DialogRound) [][]MessageKind {
	out := make([][]MessageKind, len(rounds))
	for i, r := range rounds {
		kinds := make([]MessageKind, len(r.Messages))
		for j, m := range r.Messages {
			kinds[j] = m.Kind
		}
		out[i] = kinds
	}
	return out
}

func TestGroupRoundsUserAssistantToolResponse(t *testing.T) {
	msgs := []Message{
		NewUserMessage("hi"),
		NewAssistantMessage("calling tool", ToolCall{ID: "1", Name: "f"}),
		NewToolResponseMessage("result"),
	}
	rounds := GroupRounds(msgs)
	if len(rounds) != 1 {
		t.Fatalf("expected 1 round, got %d", len(rounds))
	}
	if len(rounds[0].Messages) != 3 {
		t.Fatalf("expected 3 messages in round, got %d", len(rounds[0].Messages))
	}
}

func TestGroupRoundsUserAssistantOpen(t *testing.T) {
	msgs := []Message{
		NewUserMessage("hi"),
		NewAssistantMessage("hello"),
	}
	rounds := GroupRounds(msgs)
	if len(rounds) != 1 || len(rounds[0].Messages) != 2 {
		t.Fatalf("expected 1 open round of 2 messages, got %+v", roundShapes(rounds))
	}
}

func TestGroupRoundsAssistantToolResponseNoUser(t *testing.T) {
	msgs := []Message{
		NewAssistantMessage("internal", ToolCall{ID: "1", Name: "f"}),
		NewToolResponseMessage("result"),
	}
	rounds := GroupRounds(msgs)
	if len(rounds) != 1 || len(rounds[0].Messages) != 2 {
		t.Fatalf("expected 1 agent-internal round, got %+v", roundShapes(rounds))
	}
	if rounds[0].Messages[0].Kind != KindAssistant {
		t.Errorf("expected round to start with Assistant")
	}
}

func TestGroupRoundsMultipleRounds(t *testing.T) {
	msgs := []Message{
		NewUserMessage("first"),
		NewAssistantMessage("reply1"),
		NewUserMessage("second"),
		NewAssistantMessage("calling", ToolCall{ID: "1", Name: "f"}),
		NewToolResponseMessage("res"),
		NewUserMessage("third"),
	}
	rounds := GroupRounds(msgs)
	if len(rounds) != 3 {
		t.Fatalf("expected 3 rounds, got %d: %+v", len(rounds), roundShapes(rounds))
	}
	if len(rounds[0].Messages) != 2 || len(rounds[1].Messages) != 3 || len(rounds[2].Messages) != 1 {
		t.Fatalf("unexpected round sizes: %+v", roundShapes(rounds))
	}
}

func TestGroupRoundsCompleteness(t *testing.T) {
	msgs := []Message{
		NewUserMessage("first"),
		NewAssistantMessage("reply1"),
		NewUserMessage("second"),
		NewAssistantMessage("calling", ToolCall{ID: "1", Name: "f"}),
		NewToolResponseMessage("res"),
	}
	rounds := GroupRounds(msgs)
	flat := Flatten(rounds)
	if len(flat) != len(msgs) {
		t.Fatalf("expected %d messages after flatten, got %d", len(msgs), len(flat))
	}
	for i := range msgs {
		if flat[i].Content != msgs[i].Content || flat[i].Kind != msgs[i].Kind {
			t.Fatalf("message %d mismatch: got %+v, want %+v", i, flat[i], msgs[i])
		}
	}
}

func TestGroupRoundsDropsLeadingOrphanSystemMessage(t *testing.T) {
	// Per the grouping algorithm, "any other kind" with no open round is
	// dropped; a leading System message with nothing to attach to does not
	// survive grouping. This is an explicit exception to the general
	// round-trip completeness property.
	msgs := []Message{
		NewSystemMessage("orphan"),
		NewUserMessage("hi"),
	}
	rounds := GroupRounds(msgs)
	flat := Flatten(rounds)
	if len(flat) != 1 || flat[0].Kind != KindUser {
		t.Fatalf("expected only the User message to survive, got %+v", flat)
	}
}

func TestGroupRoundsSystemMessageAttachesToOpenRound(t *testing.T) {
	msgs := []Message{
		NewUserMessage("hi"),
		NewSystemMessage("aside"),
		NewAssistantMessage("hello"),
	}
	rounds := GroupRounds(msgs)
	if len(rounds) != 1 || len(rounds[0].Messages) != 3 {
		t.Fatalf("expected system message folded into the open round, got %+v", roundShapes(rounds))
	}
}
