package weft

import "testing"

func TestAccountantCountTextIdempotent(t *testing.T) {
	a := NewAccountant()
	s := "five tokens or so, roughly"
	if a.CountText(s) != a.CountText(s) {
		t.Error("CountText should be deterministic")
	}
}

func TestAccountantCountMessages(t *testing.T) {
	a := NewAccountant()
	msgs := []Message{
		NewUserMessage("hello"),
		NewAssistantMessage("hi there"),
	}
	if got := a.CountMessages(msgs); got <= 0 {
		t.Errorf("CountMessages = %d, want > 0", got)
	}
}

func TestAccountantCountMessagesGrowsWithMoreMessages(t *testing.T) {
	a := NewAccountant()
	one := []Message{NewUserMessage("hello there, friend")}
	two := append(append([]Message{}, one...), NewAssistantMessage("hello yourself, good sir"))
	if a.CountMessages(two) <= a.CountMessages(one) {
		t.Error("adding a message should not decrease the token count")
	}
}

func TestAccountantLimitForModel(t *testing.T) {
	a := NewAccountant()
	l := a.LimitForModel("gpt-4o-2024-11-20")
	if l.ContextLimit != 131072 {
		t.Errorf("ContextLimit = %d, want 131072", l.ContextLimit)
	}
}
